// ABOUTME: HTTP gateway handler relaying API requests to the external request router
// ABOUTME: Builds the envelope, resolves identity, and maps failures to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pillarhq/edge-gateway/internal/auth"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// handleAPI serves the generic {prefix}/{pillar}/{path} route. The gateway
// performs no retries; those belong to the router or the business layer.
func (g *Gateway) handleAPI(w http.ResponseWriter, r *http.Request) {
	if !allowedMethods[r.Method] {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	env, err := g.builder.Build(r)
	if err != nil {
		g.deps.telemetry().RecordEvent("malformed_request", map[string]string{"protocol": "http"})
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	env.Endpoint = g.endpoint(r.URL.Path)

	ac, err := g.resolver.Resolve(r.Context(), r.Header)
	switch {
	case err == nil:
		env.Auth = ac
	case errors.Is(err, auth.ErrAuthenticationRequired):
		if !g.anonymousAllowed(env.Endpoint) {
			g.deps.telemetry().RecordEvent("auth_required", map[string]string{"protocol": "http"})
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		// Anonymous access is permitted only for allow-listed paths.
	case errors.Is(err, auth.ErrAuthServiceUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	default:
		g.deps.telemetry().RecordEvent("invalid_token", map[string]string{"protocol": "http"})
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// Rate limit keyed by session token when the caller supplied one;
	// anonymous allow-listed requests are already gated by auth policy.
	if env.SessionToken != "" && !g.limiter.CheckAndRecord(env.SessionToken) {
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if g.deps.Router == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "request router unavailable")
		return
	}

	result, err := g.deps.Router.Route(r.Context(), env, env.Auth)
	if err != nil {
		g.logger.Error("router call failed",
			"endpoint", env.Endpoint,
			"method", env.Method,
			"error", err,
		)
		g.deps.telemetry().RecordEvent("routing_error", map[string]string{"protocol": "http"})
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// endpoint strips the API prefix and surrounding slashes from the path.
func (g *Gateway) endpoint(path string) string {
	prefix := strings.TrimSuffix(g.cfg.Server.APIPrefix, "/")
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

// anonymousAllowed reports whether the endpoint may be served without a
// resolved identity.
func (g *Gateway) anonymousAllowed(endpoint string) bool {
	for _, p := range g.cfg.Auth.AnonymousPaths {
		if strings.Trim(p, "/") == endpoint {
			return true
		}
	}
	return false
}

// writeJSONError writes a structured error body with the given status.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
