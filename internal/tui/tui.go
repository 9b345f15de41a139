// Package tui is a terminal client for the installer engine. It renders the
// engine's published state and sends commands over the websocket transport.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nixblitz/installer-engine/pkg/errors"
)

// Run connects to url and runs the interactive client until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, url string) error {
	client, err := Dial(ctx, url)
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(NewModel(client), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "tui failed")
	}
	return nil
}
