package tui

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/install"
)

// EventMsg carries an engine event to the model.
type EventMsg struct {
	Event install.Event
}

// AckMsg reports that the engine accepted a command.
type AckMsg struct {
	Command install.Command
}

// CommandErrorMsg reports a rejected command.
type CommandErrorMsg struct {
	Err install.CommandError
}

// DisconnectedMsg is sent once the connection is gone.
type DisconnectedMsg struct {
	Err error
}

// Conn is the engine connection used by the model.
type Conn interface {
	Send(cmd install.Command) error
	Listen() tea.Cmd
}

// Client is a websocket connection to the engine.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial connects to the engine's websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	slog.Debug("tui_dial", "url", url)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", url)
	}
	return &Client{conn: conn}, nil
}

// Send writes a command frame.
func (c *Client) Send(cmd install.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(install.CommandFrame(cmd))
}

// Listen returns a command that blocks for the next frame. The model
// re-issues it after every message it receives.
func (c *Client) Listen() tea.Cmd {
	return func() tea.Msg {
		for {
			msg, err := c.next()
			if err != nil {
				return DisconnectedMsg{Err: err}
			}
			if msg != nil {
				return msg
			}
		}
	}
}

// next reads one frame. It returns nil for frames the model ignores.
func (c *Client) next() (tea.Msg, error) {
	var f install.Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return nil, err
	}

	switch f.Type {
	case install.FrameCommandAck:
		var cmd install.Command
		if err := json.Unmarshal(f.Payload, &cmd); err != nil {
			return nil, errors.Wrap(err, "failed to decode ack")
		}
		return AckMsg{Command: cmd}, nil
	case install.FrameCommandError:
		var ce install.CommandError
		if err := json.Unmarshal(f.Payload, &ce); err != nil {
			return nil, errors.Wrap(err, "failed to decode command error")
		}
		return CommandErrorMsg{Err: ce}, nil
	}

	ev, err := install.DecodeEvent(f)
	if err != nil {
		slog.Warn("tui_frame_ignored", "type", f.Type, "error", err)
		return nil, nil
	}
	return EventMsg{Event: ev}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
