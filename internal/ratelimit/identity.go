package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownIdentity is used when no client address can be determined.
const UnknownIdentity = "unknown"

// ClientIdentity resolves the throttling identity for a request: the
// configured trusted proxy header, then the first X-Forwarded-For entry, then
// X-Real-IP, else "unknown". RemoteAddr is not consulted.
func ClientIdentity(r *http.Request, trustedProxyHeader string) string {
	if trustedProxyHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(trustedProxyHeader)); v != "" {
			return v
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	return UnknownIdentity
}
