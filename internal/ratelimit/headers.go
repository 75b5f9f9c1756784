package ratelimit

import (
	"net/http"
	"strconv"
)

// WriteHeaders sets the advisory rate-limit headers. Retry-After is only set
// when the request was throttled. A zero Result writes nothing.
func WriteHeaders(w http.ResponseWriter, r Result) {
	if r.Limit == 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	if !r.Success && r.RetryAfterSeconds > 0 {
		h.Set("Retry-After", strconv.Itoa(r.RetryAfterSeconds))
	}
}
