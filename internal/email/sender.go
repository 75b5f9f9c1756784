// Package email delivers transactional waitlist mail through one of several
// interchangeable backends and renders the message bodies.
//
// Backends never return provider errors to callers. Every failure is folded
// into a Result with Success=false, and a backend without credentials fails
// fast with "<provider> not configured" without touching the network.
package email

import (
	"context"
	"fmt"
	"net/mail"
	"time"
)

const defaultTimeout = 30 * time.Second

// Template is a fully rendered message ready to send.
type Template struct {
	To       string
	From     string
	Subject  string
	HTML     string
	Text     string
	Tags     []string
	Metadata map[string]string
}

// Result is the normalized outcome of a send.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Provider  string `json:"provider"`
}

// Sender is implemented by every delivery backend.
type Sender interface {
	Send(ctx context.Context, msg Template) Result
	IsConfigured() bool
	TestConnection(ctx context.Context) bool
	Name() string
}

func failure(provider string, format string, args ...any) Result {
	return Result{Success: false, Provider: provider, Error: fmt.Sprintf(format, args...)}
}

func notConfigured(provider string) Result {
	return failure(provider, "%s not configured", provider)
}

// splitAddress parses "Name <addr>" or a bare address.
func splitAddress(s string) (name, addr string) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", s
	}
	return a.Name, a.Address
}

// truncate keeps provider error bodies out of logs at full length.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
