// ABOUTME: Connection entity for one live websocket session
// ABOUTME: Owns the socket, the state machine value, and the heartbeat task handle

package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pillarhq/edge-gateway/internal/auth"
)

// ConnState is the lifecycle state of a websocket connection.
type ConnState int32

const (
	// StateAccepted means the handshake completed but the first real message
	// has not been processed yet.
	StateAccepted ConnState = iota
	// StateDegraded means lazy setup failed; the connection stays open and
	// setup is retried on the next message.
	StateDegraded
	// StateActive means setup succeeded and messages flow to the handler.
	StateActive
	// StateClosing means the connection is tearing down.
	StateClosing
	// StateClosed means cleanup finished.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateDegraded:
		return "degraded"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AnonymousSession is the session key used when the client supplies no
// session token.
const AnonymousSession = "anonymous"

// Connection represents one live websocket session. It is owned exclusively
// by the handler goroutine that accepted it and released on close.
type Connection struct {
	ID         string
	SessionKey string
	OpenedAt   time.Time

	ws           *websocket.Conn
	writeTimeout time.Duration

	mu            sync.Mutex
	state         ConnState
	authCtx       *auth.Context
	handler       AgentMessageHandler
	lastHeartbeat time.Time

	writeMu   sync.Mutex
	heartbeat *HeartbeatTask
	closeOnce sync.Once
}

// newConnection wraps an accepted websocket.
func newConnection(ws *websocket.Conn, sessionKey string, writeTimeout time.Duration) *Connection {
	now := time.Now()
	return &Connection{
		ID:            uuid.New().String(),
		SessionKey:    sessionKey,
		OpenedAt:      now,
		ws:            ws,
		writeTimeout:  writeTimeout,
		state:         StateAccepted,
		lastHeartbeat: now,
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState transitions the connection to the given state.
func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Auth returns the resolved identity, nil until lazy setup succeeds.
func (c *Connection) Auth() *auth.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCtx
}

// activate caches the lazy-setup result and enters ACTIVE.
func (c *Connection) activate(handler AgentMessageHandler, ac *auth.Context) {
	c.mu.Lock()
	c.state = StateActive
	c.handler = handler
	c.authCtx = ac
	c.mu.Unlock()
}

// cachedHandler returns the handler resolved during lazy setup.
func (c *Connection) cachedHandler() AgentMessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Touch records a heartbeat from the peer.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

// LastHeartbeat returns the last time the peer proved liveness.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// WriteFrame sends a JSON frame. Writes are serialized: the reader goroutine
// and the heartbeat task both write to the socket. Every write carries a
// deadline so a peer that stops reading fails the send instead of holding
// writeMu forever.
func (c *Connection) WriteFrame(f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(f)
}

// WriteClose sends a close control frame with the given application code.
func (c *Connection) WriteClose(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}

// Close closes the underlying socket. Safe to call multiple times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
