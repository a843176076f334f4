// ABOUTME: Typed dependency struct for the external collaborators the gateway consumes
// ABOUTME: Absence of an optional collaborator is explicit, never discovered at call time

package gateway

import (
	"context"
	"encoding/json"

	"github.com/pillarhq/edge-gateway/internal/auth"
	"github.com/pillarhq/edge-gateway/internal/telemetry"
)

// RequestRouter is the business-layer collaborator that answers HTTP
// requests. The gateway relays its response verbatim.
type RequestRouter interface {
	Route(ctx context.Context, env *Envelope, ac *auth.Context) (json.RawMessage, error)
}

// AgentMessageHandler is the business-layer collaborator that answers
// websocket agent messages.
type AgentMessageHandler interface {
	Handle(ctx context.Context, msg *AgentMessage, ac *auth.Context, connectionID string) (*Frame, error)
}

// Dependencies bundles the external collaborators injected at construction.
// Router and AgentMessages may be nil: the HTTP handler then answers 503 and
// websocket connections degrade until the collaborator appears.
type Dependencies struct {
	TokenValidator auth.TokenValidator
	Router         RequestRouter
	AgentMessages  AgentMessageHandler
	Telemetry      telemetry.Emitter
}

// telemetry returns the configured emitter, defaulting to a nop.
func (d *Dependencies) telemetry() telemetry.Emitter {
	if d.Telemetry == nil {
		return telemetry.Nop{}
	}
	return d.Telemetry
}
