package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/SandilyaSub/Receptionist/internal/health"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/postcall"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
)

// Listener hygiene policy.
const (
	readLimit    = 1 << 20 // 1 MiB
	pingInterval = 30 * time.Second
	pongTimeout  = 15 * time.Second
)

// ServerConfig carries the server's knobs.
type ServerConfig struct {
	// BasePath is the WebSocket mount point. Default "/media". The telephony
	// provider may append a tenant id as a trailing path segment.
	BasePath string

	// Session configures every accepted call.
	Session Config
}

// Server accepts telephony media WebSocket connections and runs one Session
// per connection.
type Server struct {
	cfg      ServerConfig
	tenants  *tenant.Cache
	provider live.Provider
	pipeline *postcall.Pipeline
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
}

// ServerOption is a functional option for a Server.
type ServerOption func(*Server)

// WithHealth mounts the given health handler's endpoints on the server mux.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetrics attaches metric instruments to the server and its sessions.
func WithMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a Server. pipeline may be nil in tests.
func NewServer(cfg ServerConfig, tenants *tenant.Cache, provider live.Provider, pipeline *postcall.Pipeline, log *slog.Logger, opts ...ServerOption) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = "/media"
	}
	cfg.BasePath = strings.TrimSuffix(cfg.BasePath, "/")
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		tenants:  tenants,
		provider: provider,
		pipeline: pipeline,
		log:      log.With("component", "bridge"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP mux serving the media WebSocket and, when
// configured, the health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.HandleFunc("GET "+s.cfg.BasePath, s.handleMedia)
	mux.HandleFunc("GET "+s.cfg.BasePath+"/{tenant}", s.handleMedia)

	if s.metrics != nil {
		return observe.Middleware(s.metrics, observe.WithRouteLabel(s.routeLabel))(mux)
	}
	return mux
}

// routeLabel collapses per-tenant media paths to one metric label.
func (s *Server) routeLabel(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, s.cfg.BasePath+"/") {
		return s.cfg.BasePath + "/{tenant}"
	}
	return r.URL.Path
}

// handleMedia upgrades the connection and runs one call to completion.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := s.resolveRequestTenant(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Telephony providers connect from their own origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	id := uuid.NewString()
	log := s.log.With("session_id", id)
	log.Info("media stream connected", "tenant_hint", tenantID, "remote", r.RemoteAddr)

	if s.metrics != nil {
		s.metrics.ActiveCalls.Add(ctx, 1)
		defer s.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go s.ping(pingCtx, conn, log)

	started := time.Now()
	sess := NewSession(id, s.cfg.Session, s.tenants, s.provider, s.pipeline, s.log,
		WithSessionMetrics(s.metrics))
	if err := sess.Run(ctx, &wsSocket{conn: conn}, tenantID); err != nil {
		log.Warn("session ended with error", "error", err, "state", sess.State().String())
	}
	if s.metrics != nil {
		s.metrics.CallDuration.Record(context.WithoutCancel(ctx), time.Since(started).Seconds())
	}

	conn.Close(websocket.StatusNormalClosure, "call ended")
	log.Info("media stream closed", "duration", time.Since(started).Round(time.Second).String())
}

// resolveRequestTenant applies the pre-start resolution steps: query
// parameter, then path segment. Unknown values are skipped; the start
// frame's custom parameters and the default tenant are handled inside the
// session.
func (s *Server) resolveRequestTenant(r *http.Request) string {
	ctx := r.Context()
	if q := r.URL.Query().Get("tenant"); q != "" && s.tenants.Known(ctx, q) {
		return q
	}
	if p := r.PathValue("tenant"); p != "" && s.tenants.Known(ctx, p) {
		return p
	}
	return ""
}

// ping keeps the connection's liveness check running for the call's
// duration. A missed pong only logs; the read side will surface the actual
// failure.
func (s *Server) ping(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("ping failed", "error", err)
			}
		}
	}
}

// wsSocket adapts a coder/websocket connection to the Socket interface.
type wsSocket struct {
	conn *websocket.Conn
}

func (w *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsSocket) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

var _ Socket = (*wsSocket)(nil)
