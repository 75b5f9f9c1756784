// Package waitlist implements the pre-launch waitlist lifecycle: signup,
// email ownership verification, unsubscribe, and the launch broadcast.
//
// Every operation is throttled through a ratelimit.Limiter before it touches
// the store, and reports the limiter result back so the HTTP layer can set
// advisory headers on both success and failure.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package waitlist
