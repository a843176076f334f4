// ABOUTME: Gateway orchestrator that wires the HTTP mux and owns shared edge state
// ABOUTME: Manages admission counters, rate-limit windows, and server lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/pillarhq/edge-gateway/internal/auth"
	"github.com/pillarhq/edge-gateway/internal/config"
	"github.com/pillarhq/edge-gateway/internal/telemetry"
)

// WSPath is the websocket endpoint for agent chat connections.
const WSPath = "/ws/agent"

// Gateway terminates inbound HTTP and websocket traffic, resolves identity,
// enforces connection and rate limits, and forwards validated requests to the
// external collaborators in Dependencies.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   *Dependencies

	origin     *OriginValidator
	admission  *AdmissionController
	limiter    *RateLimiter
	resolver   *auth.Resolver
	builder    *EnvelopeBuilder
	heartbeats *HeartbeatScheduler
	upgrader   websocket.Upgrader

	httpServer *http.Server

	connMu sync.Mutex
	conns  map[string]*Connection
}

// New creates a Gateway from configuration and injected collaborators.
func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Gateway {
	if deps == nil {
		deps = &Dependencies{}
	}

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "gateway"),
		deps:      deps,
		origin:    NewOriginValidator(cfg.Origins.Allowed, cfg.Origins.AllowMissing),
		admission: NewAdmissionController(cfg.Limits.MaxPerUser, cfg.Limits.MaxGlobal),
		limiter:   NewRateLimiter(cfg.RateLimit.MaxPerSecond, cfg.RateLimit.MaxPerMinute, cfg.RateLimit.IdleTTL),
		resolver:  auth.NewResolver(deps.TokenValidator),
		builder:   NewEnvelopeBuilder(cfg.Server.BodyTimeout, logger.With("component", "envelope")),
		heartbeats: NewHeartbeatScheduler(
			cfg.Heartbeat.Interval,
			cfg.Heartbeat.Timeout,
			logger.With("component", "heartbeat"),
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is applied after the handshake so rejections can
			// carry an application close code instead of a bare HTTP 403.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Connection),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// Handler builds the gateway's HTTP mux.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(WSPath, g.handleWebSocket)

	prefix := strings.TrimSuffix(g.cfg.Server.APIPrefix, "/")
	mux.HandleFunc(prefix+"/", g.handleAPI)

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	if g.cfg.Metrics.Enabled {
		if pe, ok := g.deps.Telemetry.(*telemetry.PrometheusEmitter); ok {
			mux.Handle(g.cfg.Metrics.Path, pe.Handler())
		}
	}

	return mux
}

// Run serves HTTP and runs the rate-limit sweeper until the context is
// canceled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gateway listening", "addr", g.cfg.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		g.limiter.RunSweeper(egCtx, g.cfg.RateLimit.SweepInterval)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Shutdown drains the HTTP server and closes live websocket connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.connMu.Lock()
	open := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		open = append(open, c)
	}
	g.connMu.Unlock()

	for _, c := range open {
		_ = c.WriteClose(websocket.CloseGoingAway, "server shutting down")
		c.Close()
	}

	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// registerConn tracks a live connection for shutdown.
func (g *Gateway) registerConn(c *Connection) {
	g.connMu.Lock()
	g.conns[c.ID] = c
	g.connMu.Unlock()
}

// unregisterConn removes a connection from tracking.
func (g *Gateway) unregisterConn(c *Connection) {
	g.connMu.Lock()
	delete(g.conns, c.ID)
	g.connMu.Unlock()
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one downstream collaborator is
// wired; the gateway cannot serve anything useful without them.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	if g.deps.Router == nil && g.deps.AgentMessages == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no collaborators wired"))
		return
	}
	global, _ := g.admission.Counts()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", global)
}
