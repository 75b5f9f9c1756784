package domain

import "time"

// WaitlistStatus is the derived lifecycle state of an entry.
type WaitlistStatus string

const (
	StatusUnverified   WaitlistStatus = "unverified"
	StatusVerified     WaitlistStatus = "verified"
	StatusUnsubscribed WaitlistStatus = "unsubscribed"
)

// WaitlistEntry is one persisted waitlist signup. The plaintext address is
// never stored; EmailHash is the dedup key and EmailEncrypted is only
// decrypted to send mail.
type WaitlistEntry struct {
	ID                 string     `json:"id" db:"id"`
	EmailHash          string     `json:"-" db:"email_hash"`
	EmailEncrypted     string     `json:"-" db:"email_encrypted"`
	VerificationToken  *string    `json:"-" db:"verification_token"`
	UnsubscribeToken   string     `json:"-" db:"unsubscribe_token"`
	Verified           bool       `json:"verified" db:"verified"`
	Unsubscribed       bool       `json:"unsubscribed" db:"unsubscribed"`
	Source             string     `json:"source,omitempty" db:"source"`
	VerificationSentAt *time.Time `json:"verification_sent_at,omitempty" db:"verification_sent_at"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	UnsubscribedAt     *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Status collapses the two flags into a single state. Unsubscribed wins
// because it is terminal.
func (e *WaitlistEntry) Status() WaitlistStatus {
	switch {
	case e.Unsubscribed:
		return StatusUnsubscribed
	case e.Verified:
		return StatusVerified
	default:
		return StatusUnverified
	}
}

// EmailKind identifies one of the transactional emails the waitlist sends.
type EmailKind string

const (
	EmailVerification EmailKind = "verification"
	EmailWelcome      EmailKind = "welcome"
	EmailLaunch       EmailKind = "launch"
)

// Valid reports whether k is a known email kind.
func (k EmailKind) Valid() bool {
	switch k {
	case EmailVerification, EmailWelcome, EmailLaunch:
		return true
	}
	return false
}
