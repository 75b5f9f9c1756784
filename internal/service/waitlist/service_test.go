package waitlist_test

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/email"
	"github.com/ignite/waitlist-service/internal/pkg/distlock"
	"github.com/ignite/waitlist-service/internal/ratelimit"
	"github.com/ignite/waitlist-service/internal/repository/memory"
	"github.com/ignite/waitlist-service/internal/security"
	"github.com/ignite/waitlist-service/internal/service/waitlist"
)

// fakeSender records every message and can be told to fail.
type fakeSender struct {
	mu      sync.Mutex
	sent    []email.Template
	failTo  map[string]bool
	failAll bool
}

func (f *fakeSender) Name() string                        { return "fake" }
func (f *fakeSender) IsConfigured() bool                  { return true }
func (f *fakeSender) TestConnection(context.Context) bool { return true }

func (f *fakeSender) Send(_ context.Context, msg email.Template) email.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failTo[msg.To] {
		return email.Result{Success: false, Provider: "fake", Error: "provider rejected"}
	}
	f.sent = append(f.sent, msg)
	return email.Result{Success: true, Provider: "fake", MessageID: "m"}
}

func (f *fakeSender) byKind(kind domain.EmailKind) []email.Template {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []email.Template
	for _, m := range f.sent {
		for _, tag := range m.Tags {
			if tag == string(kind) {
				out = append(out, m)
			}
		}
	}
	return out
}

// flakyCipher wraps a real cipher and can fail decryption.
type flakyCipher struct {
	*security.Cipher
	failDecrypt bool
}

func (c *flakyCipher) Decrypt(s string) (string, error) {
	if c.failDecrypt {
		return "", security.ErrDecrypt
	}
	return c.Cipher.Decrypt(s)
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string, ratelimit.Category, ...ratelimit.Option) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLock) Release(context.Context) error         { return nil }

type harness struct {
	svc     *waitlist.Service
	repo    *memory.WaitlistRepo
	sender  *fakeSender
	cipher  *flakyCipher
	now     time.Time
	clockMu sync.Mutex
}

func (h *harness) clock() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.clockMu.Lock()
	h.now = h.now.Add(d)
	h.clockMu.Unlock()
}

type option func(*waitlist.Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	c, err := security.NewCipherFromMaterial("test passphrase")
	require.NoError(t, err)

	h := &harness{
		repo:   memory.NewWaitlistRepo(),
		sender: &fakeSender{failTo: map[string]bool{}},
		cipher: &flakyCipher{Cipher: c},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	deps := waitlist.Deps{
		Repo:    h.repo,
		Hasher:  security.NewHasher("pepper"),
		Cipher:  h.cipher,
		Limiter: ratelimit.NewMemoryLimiter(nil),
		Sender:  h.sender,
		Clock:   h.clock,
		Config: waitlist.Config{
			BaseURL:         "https://nova.dev",
			From:            "Nova <hello@nova.dev>",
			ProductName:     "Nova",
			VerificationTTL: 24 * time.Hour,
		},
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = waitlist.NewService(deps)
	return h
}

var caller = waitlist.Caller{Identity: "203.0.113.7"}

var tokenRe = regexp.MustCompile(`/waitlist/verify\?token=([^"&\s<]+)`)

func verifyToken(t *testing.T, msg email.Template) string {
	t.Helper()
	m := tokenRe.FindStringSubmatch(msg.Text)
	require.Len(t, m, 2, "no verify link in %q", msg.Text)
	tok, err := url.QueryUnescape(m[1])
	require.NoError(t, err)
	return tok
}

func TestSignupVerifyLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.svc.Signup(ctx, caller, "  Alice@Example.com ", "landing")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, waitlist.MsgSignupCheckEmail, out.Message)
	assert.Equal(t, "al***@example.com", out.Email)
	assert.Equal(t, 10, out.RateLimit.Limit)

	verifications := h.sender.byKind(domain.EmailVerification)
	require.Len(t, verifications, 1)
	assert.Equal(t, "alice@example.com", verifications[0].To)
	token := verifyToken(t, verifications[0])

	out, err = h.svc.VerifyByToken(ctx, caller, token)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.AlreadyVerified)
	assert.Equal(t, waitlist.MsgVerified, out.Message)

	h.svc.Wait()
	welcomes := h.sender.byKind(domain.EmailWelcome)
	require.Len(t, welcomes, 1)
	assert.Contains(t, welcomes[0].Text, "#1")

	out, err = h.svc.VerifyByToken(ctx, caller, token)
	require.NoError(t, err)
	assert.True(t, out.AlreadyVerified)
	h.svc.Wait()
	assert.Len(t, h.sender.byKind(domain.EmailWelcome), 1, "second verify must not send another welcome")

	stats, err := h.svc.Stats(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Verified)
}

func TestSignup_StoresOnlyHashAndCiphertext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "bob@example.com", "")
	require.NoError(t, err)

	e, err := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("bob@example.com"))
	require.NoError(t, err)
	assert.NotContains(t, e.EmailEncrypted, "bob@example.com")
	plain, err := h.cipher.Decrypt(e.EmailEncrypted)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", plain)
	assert.Len(t, e.UnsubscribeToken, 43)
}

func TestSignup_SourceTruncatedOnRuneBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "fay@example.com", strings.Repeat("a", 63)+"é-campaign")
	require.NoError(t, err)

	e, err := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("fay@example.com"))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(e.Source), "source %q is not valid UTF-8", e.Source)
	assert.Equal(t, strings.Repeat("a", 63), e.Source)

	_, err = h.svc.Signup(ctx, caller, "gus@example.com", strings.Repeat("é", 40))
	require.NoError(t, err)
	e, err = h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("gus@example.com"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 32), e.Source)
}

func TestSignup_InvalidEmail(t *testing.T) {
	h := newHarness(t)
	for _, in := range []string{"", "not-an-email", "a@", strings.Repeat("a", 250) + "@x.com"} {
		_, err := h.svc.Signup(context.Background(), caller, in, "")
		var ve *waitlist.ValidationError
		assert.True(t, errors.As(err, &ve), "input %q: got %v", in, err)
	}
	assert.Empty(t, h.sender.sent)
}

func TestSignup_SendFailureIsTransportError(t *testing.T) {
	h := newHarness(t)
	h.sender.failAll = true

	_, err := h.svc.Signup(context.Background(), caller, "carol@example.com", "")
	var te *waitlist.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "fake", te.Provider)
}

func TestSignup_UnverifiedResignupRotatesToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "dave@example.com", "")
	require.NoError(t, err)
	first := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	h.advance(time.Minute)
	out, err := h.svc.Signup(ctx, caller, "dave@example.com", "")
	require.NoError(t, err)
	assert.True(t, out.Success)

	sent := h.sender.byKind(domain.EmailVerification)
	require.Len(t, sent, 2)
	second := verifyToken(t, sent[1])
	assert.NotEqual(t, first, second)

	_, err = h.svc.VerifyByToken(ctx, caller, first)
	var nf *waitlist.NotFoundError
	assert.True(t, errors.As(err, &nf), "old token should be dead, got %v", err)

	out, err = h.svc.VerifyByToken(ctx, caller, second)
	require.NoError(t, err)
	assert.Equal(t, waitlist.MsgVerified, out.Message)
	h.svc.Wait()
}

func TestSignup_VerifiedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "erin@example.com", "")
	require.NoError(t, err)
	_, err = h.svc.VerifyByToken(ctx, caller, verifyToken(t, h.sender.byKind(domain.EmailVerification)[0]))
	require.NoError(t, err)
	h.svc.Wait()

	out, err := h.svc.Signup(ctx, caller, "erin@example.com", "")
	require.NoError(t, err)
	assert.True(t, out.AlreadyVerified)
	assert.Len(t, h.sender.byKind(domain.EmailVerification), 1)
}

func TestUnsubscribe_IdempotentAndTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "frank@example.com", "")
	require.NoError(t, err)
	e, err := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("frank@example.com"))
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	out, err := h.svc.Unsubscribe(ctx, caller, e.UnsubscribeToken)
	require.NoError(t, err)
	assert.Equal(t, waitlist.MsgUnsubscribed, out.Message)
	assert.Equal(t, "fr***@example.com", out.Email)

	out, err = h.svc.Unsubscribe(ctx, caller, e.UnsubscribeToken)
	require.NoError(t, err)
	assert.True(t, out.AlreadyUnsubscribed)

	_, err = h.svc.VerifyByToken(ctx, caller, token)
	var ve *waitlist.ValidationError
	assert.True(t, errors.As(err, &ve), "verify after unsubscribe: %v", err)

	_, err = h.svc.Signup(ctx, caller, "frank@example.com", "")
	assert.True(t, errors.As(err, &ve), "signup after unsubscribe: %v", err)

	after, _ := h.repo.GetByHash(ctx, e.EmailHash)
	assert.False(t, after.Verified)
	assert.True(t, after.Unsubscribed)
}

func TestUnsubscribe_BadTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ve *waitlist.ValidationError
	_, err := h.svc.Unsubscribe(ctx, caller, "")
	assert.True(t, errors.As(err, &ve))
	_, err = h.svc.Unsubscribe(ctx, caller, strings.Repeat("a", 500))
	assert.True(t, errors.As(err, &ve))

	var nf *waitlist.NotFoundError
	_, err = h.svc.Unsubscribe(ctx, caller, security.GenerateUnsubscribeToken())
	assert.True(t, errors.As(err, &nf))
}

func TestVerify_ConcurrentSendsOneWelcome(t *testing.T) {
	h := newHarness(t, func(d *waitlist.Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(map[ratelimit.Category]ratelimit.Budget{
			ratelimit.CategoryEmailVerification: {Limit: 100, Window: time.Minute},
		})
	})
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "gina@example.com", "")
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.svc.VerifyByToken(ctx, caller, token)
			assert.NoError(t, err)
			assert.True(t, out.Success)
		}()
	}
	wg.Wait()
	h.svc.Wait()

	assert.Len(t, h.sender.byKind(domain.EmailWelcome), 1)
}

func TestVerify_ExpiredAndUnknownLookTheSame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "hank@example.com", "")
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	h.advance(24*time.Hour + time.Millisecond)
	_, expiredErr := h.svc.VerifyByToken(ctx, caller, token)
	_, unknownErr := h.svc.VerifyByToken(ctx, caller, security.GenerateVerificationToken(h.clock()))

	var a, b *waitlist.NotFoundError
	require.True(t, errors.As(expiredErr, &a), "expired: %v", expiredErr)
	require.True(t, errors.As(unknownErr, &b), "unknown: %v", unknownErr)
	assert.Equal(t, a.Message, b.Message)

	e, _ := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("hank@example.com"))
	assert.False(t, e.Verified)
}

func TestVerify_ExactlyAtTTLIsFresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "ivy@example.com", "")
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	h.advance(24 * time.Hour)
	out, err := h.svc.VerifyByToken(ctx, caller, token)
	require.NoError(t, err)
	assert.Equal(t, waitlist.MsgVerified, out.Message)
	h.svc.Wait()
}

func TestVerify_MalformedToken(t *testing.T) {
	h := newHarness(t)
	for _, tok := range []string{"", "garbage", "123.xyz"} {
		_, err := h.svc.VerifyByToken(context.Background(), caller, tok)
		var ve *waitlist.ValidationError
		assert.True(t, errors.As(err, &ve), "token %q: %v", tok, err)
	}
}

func TestVerify_DecryptionFailureLeavesEntryUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "jack@example.com", "")
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	h.cipher.failDecrypt = true
	_, err = h.svc.VerifyByToken(ctx, caller, token)
	var de *waitlist.DecryptionError
	require.True(t, errors.As(err, &de), "got %v", err)

	e, _ := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("jack@example.com"))
	assert.False(t, e.Verified)
	h.svc.Wait()
	assert.Empty(t, h.sender.byKind(domain.EmailWelcome))
}

func TestVerify_WelcomeFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, caller, "kim@example.com", "")
	require.NoError(t, err)
	token := verifyToken(t, h.sender.byKind(domain.EmailVerification)[0])

	h.sender.mu.Lock()
	h.sender.failAll = true
	h.sender.mu.Unlock()

	out, err := h.svc.VerifyByToken(ctx, caller, token)
	require.NoError(t, err)
	assert.True(t, out.Success)
	h.svc.Wait()
}

func TestRateLimit_SignupBudget(t *testing.T) {
	h := newHarness(t, func(d *waitlist.Deps) {
		d.Limiter = ratelimit.NewMemoryLimiter(map[ratelimit.Category]ratelimit.Budget{
			ratelimit.CategorySignup: {Limit: 2, Window: time.Hour},
		})
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.svc.Signup(ctx, caller, "x@example.com", "")
		require.NoError(t, err)
	}
	out, err := h.svc.Signup(ctx, caller, "x@example.com", "")
	var rl *waitlist.RateLimitedError
	require.True(t, errors.As(err, &rl), "got %v", err)
	assert.False(t, out.RateLimit.Success)
	assert.Equal(t, 0, out.RateLimit.Remaining)
	assert.Greater(t, rl.Result.RetryAfterSeconds, 0)

	// Independent identity and bypass are unaffected.
	_, err = h.svc.Signup(ctx, waitlist.Caller{Identity: "198.51.100.1"}, "y@example.com", "")
	assert.NoError(t, err)
	_, err = h.svc.Signup(ctx, waitlist.Caller{Identity: caller.Identity, Bypass: "admin"}, "z@example.com", "")
	assert.NoError(t, err)
}

func TestLimiterFailureIsTransportError(t *testing.T) {
	h := newHarness(t, func(d *waitlist.Deps) { d.Limiter = erroringLimiter{} })

	_, err := h.svc.Signup(context.Background(), caller, "a@example.com", "")
	var te *waitlist.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "ratelimit", te.Provider)
	assert.Empty(t, h.sender.sent)
}

func TestResendVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ResendVerification(ctx, caller, "nobody@example.com")
	var nf *waitlist.NotFoundError
	assert.True(t, errors.As(err, &nf))

	_, err = h.svc.Signup(ctx, caller, "lee@example.com", "")
	require.NoError(t, err)

	out, err := h.svc.ResendVerification(ctx, caller, "LEE@example.com")
	require.NoError(t, err)
	assert.Equal(t, waitlist.MsgVerificationResent, out.Message)
	assert.Len(t, h.sender.byKind(domain.EmailVerification), 2)
}

func TestNotifyLaunch(t *testing.T) {
	h := newHarness(t, func(d *waitlist.Deps) {
		d.Config.LaunchBatchSize = 2
		d.Config.LaunchURL = "https://app.nova.dev"
		d.Limiter = ratelimit.NewMemoryLimiter(map[ratelimit.Category]ratelimit.Budget{
			ratelimit.CategoryEmailVerification: {Limit: 100, Window: time.Minute},
			ratelimit.CategorySignup:            {Limit: 100, Window: time.Minute},
		})
	})
	ctx := context.Background()

	addrs := []string{"a1@example.com", "a2@example.com", "a3@example.com", "a4@example.com", "a5@example.com"}
	for i, a := range addrs {
		_, err := h.svc.Signup(ctx, caller, a, "")
		require.NoError(t, err)
		if i == 4 {
			continue // stays unverified
		}
		sent := h.sender.byKind(domain.EmailVerification)
		_, err = h.svc.VerifyByToken(ctx, caller, verifyToken(t, sent[len(sent)-1]))
		require.NoError(t, err)
	}
	h.svc.Wait()

	e, _ := h.repo.GetByHash(ctx, security.NewHasher("pepper").HashEmail("a4@example.com"))
	_, err := h.svc.Unsubscribe(ctx, caller, e.UnsubscribeToken)
	require.NoError(t, err)

	h.sender.mu.Lock()
	h.sender.failTo["a2@example.com"] = true
	h.sender.mu.Unlock()

	report, err := h.svc.NotifyLaunch(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	launches := h.sender.byKind(domain.EmailLaunch)
	require.Len(t, launches, 2)
	for _, m := range launches {
		assert.NotEqual(t, "a4@example.com", m.To)
		assert.Contains(t, m.Text, "https://app.nova.dev")
		assert.Contains(t, m.Text, "/waitlist/unsubscribe?token=")
	}
}

func TestNotifyLaunch_LockHeld(t *testing.T) {
	h := newHarness(t, func(d *waitlist.Deps) {
		d.Locks = func(string, time.Duration) distlock.DistLock { return heldLock{} }
	})
	_, err := h.svc.NotifyLaunch(context.Background(), caller)
	assert.ErrorIs(t, err, waitlist.ErrLaunchInProgress)
}
