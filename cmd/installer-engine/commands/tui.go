package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nixblitz/installer-engine/internal/tui"
)

var tuiURL string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Connect an interactive terminal client to a running engine",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().StringVar(&tuiURL, "url", "", "Websocket URL (default ws://<listen-addr>/ws)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Logs would draw over the terminal UI.
	cfg, err := loadConfig(io.Discard)
	if err != nil {
		return err
	}

	url := tuiURL
	if url == "" {
		url = "ws://" + strings.TrimPrefix(cfg.ListenAddr, "http://") + "/ws"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return tui.Run(ctx, url)
}
