// ABOUTME: Wire schema for websocket agent messages and outbound frames
// ABOUTME: Defines the close codes the gateway uses when terminating connections

package gateway

import (
	"errors"
	"fmt"
)

// Application close codes sent when the gateway terminates a connection.
const (
	CloseOriginRejected    = 4003
	ClosePerUserLimit      = 4004
	CloseServerAtCapacity  = 4005
	CloseInternalError     = 4006
	CloseRateLimitExceeded = 4029
)

// Frame types on the outbound websocket schema.
const (
	FrameResponse  = "response"
	FrameError     = "error"
	FrameSystem    = "system"
	FrameHeartbeat = "heartbeat"
)

// Agent types accepted on inbound messages.
const (
	AgentTypeGuide   = "guide"
	AgentTypeLiaison = "liaison"
)

// AgentMessage is an inbound websocket message. Heartbeat pongs arrive on the
// same channel with Type "heartbeat" and Action "pong".
type AgentMessage struct {
	Type           string `json:"type,omitempty"`
	Action         string `json:"action,omitempty"`
	AgentType      string `json:"agent_type,omitempty"`
	Pillar         string `json:"pillar,omitempty"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// IsHeartbeat reports whether the message is a keepalive pong rather than an
// agent request.
func (m *AgentMessage) IsHeartbeat() bool {
	return m.Type == FrameHeartbeat && m.Action == "pong"
}

// Validate checks the inbound schema for agent messages.
func (m *AgentMessage) Validate() error {
	if m.AgentType != AgentTypeGuide && m.AgentType != AgentTypeLiaison {
		return fmt.Errorf("unknown agent_type %q", m.AgentType)
	}
	if m.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// Frame is an outbound websocket message.
type Frame struct {
	Type           string         `json:"type"`
	Action         string         `json:"action,omitempty"`
	Message        string         `json:"message,omitempty"`
	AgentType      string         `json:"agent_type,omitempty"`
	Pillar         string         `json:"pillar,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Visualization  map[string]any `json:"visualization,omitempty"`
}

// errorFrame builds an error frame with the given message.
func errorFrame(msg string) *Frame {
	return &Frame{Type: FrameError, Message: msg}
}

// pingFrame is the keepalive frame the heartbeat task emits.
func pingFrame() *Frame {
	return &Frame{Type: FrameHeartbeat, Action: "ping"}
}
