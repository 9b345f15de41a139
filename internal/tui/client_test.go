package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/install"
)

// echoEngine sends the current state on connect and acknowledges every
// command it receives.
func echoEngine(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		f, err := install.EventFrame(install.StateChanged(install.Snapshot{State: install.Idle{}}))
		if err != nil {
			t.Errorf("encode failed: %v", err)
			return
		}
		if err := conn.WriteJSON(f); err != nil {
			return
		}

		for {
			var in install.Frame
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if in.Type == install.FrameType(install.CmdConfirmAndInstall) {
				conn.WriteJSON(install.ErrorFrame(install.NotAllowed(install.CmdConfirmAndInstall, install.PhaseIdle)))
				continue
			}
			conn.WriteJSON(install.AckFrame(install.Command{Type: install.CommandType(in.Type)}))
		}
	}))
}

func TestClient_RoundTrip(t *testing.T) {
	srv := echoEngine(t)
	defer srv.Close()

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer client.Close()

	msg := client.Listen()()
	ev, ok := msg.(EventMsg)
	require.True(t, ok, "got %T", msg)
	require.NotNil(t, ev.Event.State)
	assert.Equal(t, install.PhaseIdle, ev.Event.State.State.Phase())

	require.NoError(t, client.Send(install.Command{Type: install.CmdEnableDemoMode}))
	ack, ok := client.Listen()().(AckMsg)
	require.True(t, ok)
	assert.Equal(t, install.CmdEnableDemoMode, ack.Command.Type)

	require.NoError(t, client.Send(install.Command{Type: install.CmdConfirmAndInstall}))
	rejected, ok := client.Listen()().(CommandErrorMsg)
	require.True(t, ok)
	assert.Equal(t, install.InvalidForState, rejected.Err.Code)
}

func TestClient_Disconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer client.Close()

	_, ok := client.Listen()().(DisconnectedMsg)
	assert.True(t, ok)
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws")
	require.Error(t, err)
}
