// Package security holds the waitlist's cryptographic primitives: the
// irreversible dedup hash, the reversible at-rest cipher for addresses, and
// the verification/unsubscribe token formats.
//
// Nothing here touches storage. Token freshness is a hint only; callers must
// also find the token in the store before trusting it.
package security
