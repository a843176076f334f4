// ABOUTME: WebSocket gateway handler: origin check, admission, message loop, lazy setup
// ABOUTME: Implements the ACCEPTED/DEGRADED/ACTIVE/CLOSING/CLOSED connection state machine

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pillarhq/edge-gateway/internal/auth"
)

// maxMessageSize bounds a single inbound websocket frame.
const maxMessageSize = 64 * 1024

// handleWebSocket accepts a websocket connection on /ws/agent and runs its
// message loop until the peer disconnects or the gateway closes it.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConnection(ws, wsSessionKey(r), g.cfg.Server.WriteTimeout)

	// Origin and admission failures are fatal before any state is shared:
	// a rejected connection must never increment admission counters.
	if !g.origin.Validate(r.Header.Get("Origin")) {
		g.deps.telemetry().RecordEvent("origin_rejected", map[string]string{"protocol": "ws"})
		_ = conn.WriteClose(CloseOriginRejected, "origin not allowed")
		conn.Close()
		return
	}

	if res := g.admission.TryAdmit(conn.SessionKey); !res.Accepted {
		code := ClosePerUserLimit
		reason := "connection limit reached for session"
		if res.Reason == ReasonGlobalLimit {
			code = CloseServerAtCapacity
			reason = "server at capacity"
		}
		g.deps.telemetry().RecordEvent("admission_rejected", map[string]string{"protocol": "ws"})
		_ = conn.WriteClose(code, reason)
		conn.Close()
		return
	}

	g.registerConn(conn)
	g.deps.telemetry().RecordEvent("ws_connected", map[string]string{"protocol": "ws"})
	g.logger.Info("websocket connected",
		"connection_id", conn.ID,
		"session", conn.SessionKey,
		"remote", r.RemoteAddr,
	)

	// The welcome frame goes out before any downstream setup so the client
	// sees the socket as live even when dependencies are slow or down.
	if err := conn.WriteFrame(&Frame{
		Type:    FrameSystem,
		Message: "connected",
		Data:    map[string]any{"connection_id": conn.ID},
	}); err != nil {
		g.logger.Warn("welcome frame failed", "connection_id", conn.ID, "error", err)
		g.cleanup(conn)
		return
	}

	conn.heartbeat = g.heartbeats.Start(conn)
	defer g.cleanup(conn)

	ws.SetReadLimit(maxMessageSize)
	// Protocol-level pongs also count as liveness for clients that answer
	// with control frames instead of JSON pongs.
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	g.readLoop(r.Context(), conn)
}

// readLoop processes inbound frames strictly in arrival order.
func (g *Gateway) readLoop(ctx context.Context, conn *Connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			g.logger.Debug("read loop ended", "connection_id", conn.ID, "error", err)
			return
		}
		if !g.handleInbound(ctx, conn, data) {
			return
		}
	}
}

// handleInbound processes one frame. Returns false when the loop must stop.
func (g *Gateway) handleInbound(ctx context.Context, conn *Connection, data []byte) bool {
	var msg AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = conn.WriteFrame(errorFrame("invalid message format"))
		return true
	}

	// Heartbeat pongs record liveness and are never forwarded.
	if msg.IsHeartbeat() {
		conn.Touch()
		return true
	}

	// Lazy setup: dependency discovery and token validation happen on the
	// first real message, and are retried on every message while DEGRADED.
	// A transient dependency outage degrades the session instead of
	// dropping it.
	if conn.State() != StateActive {
		if err := g.lazySetup(ctx, conn); err != nil {
			conn.setState(StateDegraded)
			g.deps.telemetry().RecordEvent("setup_degraded", map[string]string{"protocol": "ws"})
			// A rejected token is not transient; do not invite a retry that
			// cannot succeed.
			text := "service temporarily unavailable, please retry: " + err.Error()
			if errors.Is(err, auth.ErrInvalidToken) {
				text = "session token rejected: " + err.Error()
			}
			_ = conn.WriteFrame(errorFrame(text))
			return true
		}
	}

	if err := msg.Validate(); err != nil {
		_ = conn.WriteFrame(errorFrame(err.Error()))
		return true
	}

	if !g.limiter.CheckAndRecord(conn.SessionKey) {
		g.deps.telemetry().RecordEvent("ratelimit_rejected", map[string]string{"protocol": "ws"})
		_ = conn.WriteFrame(errorFrame("rate limit exceeded"))
		_ = conn.WriteClose(CloseRateLimitExceeded, "rate limit exceeded")
		return false
	}

	frame, err := g.dispatch(ctx, conn, &msg)
	if err != nil {
		if errors.Is(err, errHandlerPanic) {
			_ = conn.WriteFrame(errorFrame("internal error"))
			_ = conn.WriteClose(CloseInternalError, "internal error")
			return false
		}
		// A failing frame must not take down the connection for frames
		// that would have succeeded.
		_ = conn.WriteFrame(errorFrame(err.Error()))
		return true
	}

	if frame != nil {
		if err := conn.WriteFrame(frame); err != nil {
			g.logger.Debug("response write failed", "connection_id", conn.ID, "error", err)
			return false
		}
	}
	return true
}

// errHandlerPanic marks a panic recovered at the message-loop boundary.
var errHandlerPanic = errors.New("handler panic")

// dispatch forwards the message to the agent handler, recovering panics so a
// single bad frame cannot crash the reader goroutine.
func (g *Gateway) dispatch(ctx context.Context, conn *Connection, msg *AgentMessage) (frame *Frame, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("agent handler panicked",
				"connection_id", conn.ID,
				"panic", rec,
			)
			frame = nil
			err = errHandlerPanic
		}
	}()

	return conn.cachedHandler().Handle(ctx, msg, conn.Auth(), conn.ID)
}

// lazySetup resolves the agent handler and, when a session token is present,
// validates it. On success the result is cached for the connection lifetime
// and the connection enters ACTIVE.
func (g *Gateway) lazySetup(ctx context.Context, conn *Connection) error {
	handler := g.deps.AgentMessages
	if handler == nil {
		return errors.New("agent service unavailable")
	}

	var ac *auth.Context
	if conn.SessionKey != AnonymousSession && g.deps.TokenValidator != nil {
		resolved, err := g.deps.TokenValidator.Validate(ctx, conn.SessionKey)
		if err != nil {
			return err
		}
		ac = resolved
	}

	conn.activate(handler, ac)
	g.logger.Debug("connection active", "connection_id", conn.ID)
	return nil
}

// cleanup is the single teardown path for a connection. Every step is
// independent so one failing step cannot skip the others.
func (g *Gateway) cleanup(conn *Connection) {
	conn.setState(StateClosing)

	if conn.heartbeat != nil {
		conn.heartbeat.Cancel()
	}

	g.admission.Release(conn.SessionKey)
	g.unregisterConn(conn)
	conn.Close()

	conn.setState(StateClosed)
	g.deps.telemetry().RecordEvent("ws_closed", map[string]string{"protocol": "ws"})
	g.logger.Info("websocket closed",
		"connection_id", conn.ID,
		"session", conn.SessionKey,
		"uptime", time.Since(conn.OpenedAt),
	)
}

// wsSessionKey extracts the caller-supplied session token from the upgrade
// request, defaulting to the anonymous key.
func wsSessionKey(r *http.Request) string {
	if tok := r.URL.Query().Get("session_token"); tok != "" {
		return tok
	}
	return AnonymousSession
}
