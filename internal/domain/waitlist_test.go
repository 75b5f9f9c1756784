package domain

import "testing"

func TestWaitlistEntry_Status(t *testing.T) {
	tests := []struct {
		name  string
		entry WaitlistEntry
		want  WaitlistStatus
	}{
		{"fresh signup", WaitlistEntry{}, StatusUnverified},
		{"verified", WaitlistEntry{Verified: true}, StatusVerified},
		{"unsubscribed before verify", WaitlistEntry{Unsubscribed: true}, StatusUnsubscribed},
		{"unsubscribed after verify", WaitlistEntry{Verified: true, Unsubscribed: true}, StatusUnsubscribed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEmailKind_Valid(t *testing.T) {
	for _, k := range []EmailKind{EmailVerification, EmailWelcome, EmailLaunch} {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	if EmailKind("newsletter").Valid() {
		t.Error("expected unknown kind to be invalid")
	}
}
