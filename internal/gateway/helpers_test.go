// ABOUTME: Shared test fixtures for the gateway package
// ABOUTME: Provides config builders, stub collaborators, and websocket dial helpers

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pillarhq/edge-gateway/internal/auth"
	"github.com/pillarhq/edge-gateway/internal/config"
)

// testConfig returns a config suitable for tests: generous heartbeat timing so
// keepalive traffic never interleaves with assertions, missing origins allowed.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "localhost:0"
	cfg.ApplyDefaults()
	cfg.Origins.AllowMissing = true
	cfg.Heartbeat.Interval = time.Minute
	cfg.Heartbeat.Timeout = 5 * time.Minute
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway serves the gateway mux over an httptest server.
func newTestGateway(t *testing.T, cfg *config.Config, deps *Dependencies) (*Gateway, *httptest.Server) {
	t.Helper()
	g := New(cfg, deps, testLogger())
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return g, srv
}

// dialWS opens a websocket to the test server, optionally with a session token
// and extra handshake headers.
func dialWS(t *testing.T, srv *httptest.Server, sessionToken string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WSPath
	if sessionToken != "" {
		url += "?session_token=" + sessionToken
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

// readFrame reads and decodes one outbound frame.
func readFrame(t *testing.T, ws *websocket.Conn) *Frame {
	t.Helper()
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return &f
}

// readWelcome consumes the system welcome frame sent right after admission.
func readWelcome(t *testing.T, ws *websocket.Conn) *Frame {
	t.Helper()
	f := readFrame(t, ws)
	if f.Type != FrameSystem || f.Message != "connected" {
		t.Fatalf("expected welcome frame, got %+v", f)
	}
	return f
}

// expectClose reads until the peer closes and asserts the close code.
func expectClose(t *testing.T, ws *websocket.Conn, wantCode int) {
	t.Helper()
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue // drain data frames sent before the close
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("expected close error, got %v", err)
		}
		if ce.Code != wantCode {
			t.Fatalf("close code = %d, want %d", ce.Code, wantCode)
		}
		return
	}
}

// liveConn returns the single tracked connection, failing if there is not
// exactly one.
func liveConn(t *testing.T, g *Gateway) *Connection {
	t.Helper()
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if len(g.conns) != 1 {
		t.Fatalf("expected 1 live connection, have %d", len(g.conns))
	}
	for _, c := range g.conns {
		return c
	}
	return nil
}

// stubRouter answers HTTP relay calls with a canned function.
type stubRouter struct {
	mu   sync.Mutex
	seen []*Envelope
	fn   func(env *Envelope, ac *auth.Context) (json.RawMessage, error)
}

func (s *stubRouter) Route(_ context.Context, env *Envelope, ac *auth.Context) (json.RawMessage, error) {
	s.mu.Lock()
	s.seen = append(s.seen, env)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(env, ac)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (s *stubRouter) lastEnvelope() *Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return nil
	}
	return s.seen[len(s.seen)-1]
}

// stubAgentHandler records websocket messages and echoes them back.
type stubAgentHandler struct {
	mu    sync.Mutex
	calls []AgentMessage
	reply func(msg *AgentMessage) (*Frame, error)
}

func (s *stubAgentHandler) Handle(_ context.Context, msg *AgentMessage, _ *auth.Context, _ string) (*Frame, error) {
	s.mu.Lock()
	s.calls = append(s.calls, *msg)
	s.mu.Unlock()
	if s.reply != nil {
		return s.reply(msg)
	}
	return &Frame{Type: FrameResponse, Message: "echo: " + msg.Message}, nil
}

func (s *stubAgentHandler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubValidator fails the first `failures` validations, then succeeds with an
// identity derived from the token.
type stubValidator struct {
	mu       sync.Mutex
	failures int
}

func (s *stubValidator) Validate(_ context.Context, token string) (*auth.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, auth.ErrAuthServiceUnavailable
	}
	return &auth.Context{UserID: "user-" + token, Origin: auth.OriginLocalValidation}, nil
}
