package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/install"
	"github.com/nixblitz/installer-engine/pkg/metrics"
)

// Connection timing defaults.
const (
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultPingInterval = 30 * time.Second
	shutdownGrace       = 5 * time.Second
)

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string
	MaxPayloadBytes int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
}

// Server exposes the engine over websocket and a small HTTP API.
type Server struct {
	cfg      ServerConfig
	gw       *Gateway
	engine   Engine
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// connMu orders client registration against shutdown so wg.Add never
	// races wg.Wait.
	connMu  sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. metrics may be nil, in which case /metrics is
// not routed.
func NewServer(cfg ServerConfig, gw *Gateway, engine Engine, m *metrics.Metrics) *Server {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		gw:      gw,
		engine:  engine,
		metrics: m,
		upgrader: websocket.Upgrader{
			// The UI is served from other local origins
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/system", s.handleSystem)
	mux.HandleFunc("POST /api/commands", s.handleCommand)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe serves until ctx is done, then closes every client.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.closeClients()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	slog.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeClients()
	if err != nil {
		return errors.Wrap(err, "server shutdown failed")
	}
	return nil
}

// closeClients stops every websocket client and waits for its loops. Hijacked
// connections are not tracked by http.Server.Shutdown.
func (s *Server) closeClients() {
	s.connMu.Lock()
	s.cancel()
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CurrentState())
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.SystemSummary(r.Context())
	if err != nil {
		slog.Error("system_summary_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxPayload()+1))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, install.ErrorFrame(install.Malformed("", "payload too large")))
		return
	}

	cmd, err := s.gw.Submit(r.Context(), body)
	if err != nil {
		writeJSON(w, statusFor(err), install.ErrorFrame(err))
		return
	}
	writeJSON(w, http.StatusAccepted, install.AckFrame(cmd))
}

func (s *Server) maxPayload() int64 {
	if s.cfg.MaxPayloadBytes > 0 {
		return s.cfg.MaxPayloadBytes
	}
	return 16 * 1024
}

func statusFor(err error) int {
	if errors.Is(err, install.ErrInvalidForState) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http_encode_failed", "error", err)
	}
}
