package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

func newEntry(id, hash string) *domain.WaitlistEntry {
	tok := "1." + id
	return &domain.WaitlistEntry{ID: id, EmailHash: hash, EmailEncrypted: "ct", VerificationToken: &tok, UnsubscribeToken: "u-" + id}
}

func TestWaitlistRepo_CreateAndLookup(t *testing.T) {
	r := NewWaitlistRepo()
	ctx := context.Background()

	if err := r.Create(ctx, newEntry("a", "h1")); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := r.Create(ctx, newEntry("b", "h1")); !errors.Is(err, waitlist.ErrDuplicate) {
		t.Errorf("duplicate Create() err = %v, want ErrDuplicate", err)
	}

	if e, err := r.GetByHash(ctx, "h1"); err != nil || e.ID != "a" {
		t.Errorf("GetByHash() = %v, %v", e, err)
	}
	if e, err := r.GetByVerificationToken(ctx, "1.a"); err != nil || e.ID != "a" {
		t.Errorf("GetByVerificationToken() = %v, %v", e, err)
	}
	if e, err := r.GetByUnsubscribeToken(ctx, "u-a"); err != nil || e.ID != "a" {
		t.Errorf("GetByUnsubscribeToken() = %v, %v", e, err)
	}
	if _, err := r.GetByHash(ctx, "missing"); !errors.Is(err, waitlist.ErrNotFound) {
		t.Errorf("GetByHash(missing) err = %v", err)
	}
}

func TestWaitlistRepo_ReturnsCopies(t *testing.T) {
	r := NewWaitlistRepo()
	ctx := context.Background()
	_ = r.Create(ctx, newEntry("a", "h1"))

	e, _ := r.GetByHash(ctx, "h1")
	e.Verified = true
	*e.VerificationToken = "mutated"

	again, _ := r.GetByHash(ctx, "h1")
	if again.Verified || *again.VerificationToken != "1.a" {
		t.Errorf("store was mutated through a returned entry: %+v", again)
	}
}

func TestWaitlistRepo_Guards(t *testing.T) {
	r := NewWaitlistRepo()
	ctx := context.Background()
	now := time.Now()
	_ = r.Create(ctx, newEntry("a", "h1"))

	if ok, _ := r.MarkVerified(ctx, "a", now); !ok {
		t.Error("first MarkVerified should win")
	}
	if ok, _ := r.MarkVerified(ctx, "a", now); ok {
		t.Error("second MarkVerified should not win")
	}
	if err := r.UpdateVerificationToken(ctx, "a", "2.x", now); !errors.Is(err, waitlist.ErrNotFound) {
		t.Errorf("rotating a verified entry err = %v, want ErrNotFound", err)
	}
	if ok, _ := r.MarkUnsubscribed(ctx, "a", now); !ok {
		t.Error("MarkUnsubscribed should change")
	}
	if ok, _ := r.MarkUnsubscribed(ctx, "a", now); ok {
		t.Error("repeated MarkUnsubscribed should not change")
	}
	if n, _ := r.CountVerified(ctx); n != 0 {
		t.Errorf("CountVerified() = %d, want 0 after unsubscribe", n)
	}

	_ = r.Create(ctx, newEntry("b", "h2"))
	_, _ = r.MarkUnsubscribed(ctx, "b", now)
	if ok, _ := r.MarkVerified(ctx, "b", now); ok {
		t.Error("MarkVerified must not flip an unsubscribed entry")
	}
}

func TestWaitlistRepo_ListVerifiedPaging(t *testing.T) {
	r := NewWaitlistRepo()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("id-%d", i)
		_ = r.Create(ctx, newEntry(id, "h"+id))
		_, _ = r.MarkVerified(ctx, id, time.Now())
	}
	_ = r.Create(ctx, newEntry("id-9", "unverified"))

	var seen []string
	after := ""
	for {
		page, err := r.ListVerified(ctx, after, 2)
		if err != nil {
			t.Fatalf("ListVerified() error: %v", err)
		}
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		if len(page) < 2 {
			break
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 5 {
		t.Errorf("paged %d entries, want 5: %v", len(seen), seen)
	}
}
