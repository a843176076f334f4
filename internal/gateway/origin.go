// ABOUTME: WebSocket Origin header validation against a configured allow-list
// ABOUTME: Supports exact origins and wildcard subdomain entries; no side effects

package gateway

import (
	"net/url"
	"strings"
)

// OriginValidator accepts or rejects a websocket upgrade based on the Origin
// header. Entries in the allow-list are either exact origins
// ("https://app.example.com") or wildcard subdomains ("*.example.com").
type OriginValidator struct {
	allowed      []string
	allowMissing bool
}

// NewOriginValidator creates a validator. An empty allow-list permits any
// origin; allowMissing controls connections that send no Origin header.
func NewOriginValidator(allowed []string, allowMissing bool) *OriginValidator {
	return &OriginValidator{allowed: allowed, allowMissing: allowMissing}
}

// Validate reports whether the raw Origin header value is acceptable.
func (v *OriginValidator) Validate(origin string) bool {
	if origin == "" {
		return v.allowMissing
	}
	if len(v.allowed) == 0 {
		return true
	}

	host := originHost(origin)
	for _, entry := range v.allowed {
		if wild, ok := strings.CutPrefix(entry, "*."); ok {
			if host == wild || strings.HasSuffix(host, "."+wild) {
				return true
			}
			continue
		}
		if entry == origin || entry == host {
			return true
		}
	}
	return false
}

// originHost extracts the hostname from an Origin header value. Falls back to
// the raw value when it does not parse as a URL.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return origin
	}
	return u.Hostname()
}
