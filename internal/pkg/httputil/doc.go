// Package httputil holds the response writers and body decoder behind the
// waitlist endpoints.
//
// Confirmation pages go through HTML so link-carrying responses are never
// cached. Decode caps bodies at MaxBodyBytes and rejects unknown fields.
package httputil
