package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/events"
	"github.com/nixblitz/installer-engine/pkg/install"
)

// wsClient is one websocket connection with its own subscription.
type wsClient struct {
	conn    *websocket.Conn
	sub     *events.Subscription
	writeMu sync.Mutex
	wait    time.Duration
}

// send writes one frame. gorilla/websocket allows a single concurrent writer.
func (c *wsClient) send(f install.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.wait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.connMu.Lock()
	if s.baseCtx.Err() != nil {
		s.connMu.Unlock()
		slog.Info("ws_client_rejected", "remote", r.RemoteAddr, "reason", "shutting down")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(s.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	s.wg.Add(2)
	s.connMu.Unlock()

	c := &wsClient{conn: conn, sub: s.engine.Subscribe(), wait: s.cfg.WriteWait}
	slog.Info("ws_client_connected", "remote", r.RemoteAddr, "subscriber", c.sub.ID())

	ctx, cancel := context.WithCancel(s.baseCtx)
	go func() {
		defer s.wg.Done()
		s.writeLoop(ctx, cancel, c)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx, cancel, c)
	}()
}

// writeLoop forwards hub events and keeps the connection alive with pings.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	defer func() {
		cancel()
		c.sub.Close()
		_ = c.conn.Close()
		slog.Info("ws_client_disconnected", "subscriber", c.sub.ID())
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for ev := range c.sub.All(ctx) {
		f, err := install.EventFrame(ev)
		if err != nil {
			slog.Error("ws_frame_encode_failed", "seq", ev.Seq, "error", err)
			continue
		}
		if err := c.send(f); err != nil {
			slog.Warn("ws_send_failed", "subscriber", c.sub.ID(), "error", err)
			return
		}
	}
}

// readLoop decodes client commands and replies to this client only.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	defer cancel()

	c.conn.SetReadLimit(s.maxPayload())
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws_read_failed", "subscriber", c.sub.ID(), "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		var reply install.Frame
		cmd, err := s.gw.Submit(ctx, data)
		if err != nil {
			reply = install.ErrorFrame(err)
		} else {
			reply = install.AckFrame(cmd)
		}
		if err := c.send(reply); err != nil {
			return
		}
	}
}
