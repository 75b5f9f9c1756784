package waitlist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/email"
	"github.com/ignite/waitlist-service/internal/pkg/distlock"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/ratelimit"
	"github.com/ignite/waitlist-service/internal/security"
)

// Public messages returned to callers.
const (
	MsgSignupCheckEmail    = "Check your email to confirm your spot on the waitlist."
	MsgAlreadyOnWaitlist   = "You're already on the waitlist."
	MsgVerified            = "Your email has been verified. You're on the waitlist!"
	MsgAlreadyVerified     = "Your email is already verified."
	MsgVerificationResent  = "Verification email sent."
	MsgInvalidEmail        = "Please enter a valid email address."
	MsgInvalidToken        = "Invalid verification token."
	MsgTokenNotFound       = "This verification link is invalid or has expired."
	MsgEntryUnsubscribed   = "This email has been unsubscribed from the waitlist."
	MsgUnsubscribed        = "You have been unsubscribed from the waitlist."
	MsgAlreadyUnsubscribed = "You are already unsubscribed."
	MsgInvalidUnsubscribe  = "Invalid unsubscribe link."
	MsgUnsubscribeNotFound = "This unsubscribe link is invalid."
	MsgEmailNotFound       = "No waitlist entry exists for this email."
)

const (
	maxEmailLength         = 254
	maxSourceLength        = 64
	defaultWelcomeTimeout  = 30 * time.Second
	defaultVerificationTTL = 24 * time.Hour
	defaultLaunchBatchSize = 100
	launchLockKey          = "waitlist:launch"
	launchLockTTL          = 30 * time.Minute
)

// Cipher encrypts addresses at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// LockFactory returns a distributed lock for key.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// Config holds the lifecycle settings the service needs.
type Config struct {
	BaseURL         string
	From            string
	ProductName     string
	LaunchURL       string
	VerificationTTL time.Duration
	WelcomeTimeout  time.Duration
	LaunchBatchSize int
}

// Deps are the collaborators of Service. Repo, Cipher, Limiter and Sender
// are required.
type Deps struct {
	Repo    Repository
	Hasher  *security.Hasher
	Cipher  Cipher
	Limiter ratelimit.Limiter
	Sender  email.Sender
	Locks   LockFactory
	Clock   func() time.Time
	Config  Config
}

// Caller identifies who is calling for throttling. A non-empty Bypass skips
// the limiter and is logged with its reason.
type Caller struct {
	Identity string
	Bypass   string
}

// Outcome is the result of a lifecycle operation. RateLimit is populated on
// errors too, whenever the limiter was consulted.
type Outcome struct {
	Success             bool
	Message             string
	Email               string
	AlreadyVerified     bool
	AlreadyUnsubscribed bool
	RateLimit           ratelimit.Result
}

// Service implements the waitlist lifecycle. All public methods are safe for
// concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo     Repository
	hasher   *security.Hasher
	cipher   Cipher
	limiter  ratelimit.Limiter
	sender   email.Sender
	locks    LockFactory
	now      func() time.Time
	cfg      Config
	validate *validator.Validate

	localLaunch sync.Mutex
	wg          sync.WaitGroup
}

// NewService creates a waitlist service from its dependencies.
func NewService(d Deps) *Service {
	if d.Hasher == nil {
		d.Hasher = security.NewHasher("")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Config.VerificationTTL <= 0 {
		d.Config.VerificationTTL = defaultVerificationTTL
	}
	if d.Config.WelcomeTimeout <= 0 {
		d.Config.WelcomeTimeout = defaultWelcomeTimeout
	}
	if d.Config.LaunchBatchSize <= 0 {
		d.Config.LaunchBatchSize = defaultLaunchBatchSize
	}
	return &Service{
		repo:     d.Repo,
		hasher:   d.Hasher,
		cipher:   d.Cipher,
		limiter:  d.Limiter,
		sender:   d.Sender,
		locks:    d.Locks,
		now:      d.Clock,
		cfg:      d.Config,
		validate: validator.New(),
	}
}

// Sender returns the configured email backend.
func (s *Service) Sender() email.Sender { return s.sender }

// Wait blocks until background welcome sends have finished.
func (s *Service) Wait() { s.wg.Wait() }

// throttle consults the limiter for category.
func (s *Service) throttle(ctx context.Context, c Caller, category ratelimit.Category) (Outcome, error) {
	var opts []ratelimit.Option
	if c.Bypass != "" {
		opts = append(opts, ratelimit.WithBypass(c.Bypass))
	}
	identity := c.Identity
	if identity == "" {
		identity = ratelimit.UnknownIdentity
	}
	res, err := s.limiter.Allow(ctx, identity, category, opts...)
	if err != nil {
		return Outcome{}, &TransportError{Provider: "ratelimit", Err: err}
	}
	out := Outcome{RateLimit: res}
	if !res.Success {
		return out, &RateLimitedError{Result: res}
	}
	return out, nil
}

// normalize validates syntax and returns the normalized address.
func (s *Service) normalize(raw string) (string, error) {
	addr := security.NormalizeEmail(raw)
	if addr == "" || len(addr) > maxEmailLength {
		return "", &ValidationError{Message: MsgInvalidEmail}
	}
	if err := s.validate.Var(addr, "required,email"); err != nil {
		return "", &ValidationError{Message: MsgInvalidEmail}
	}
	return addr, nil
}

// Signup adds an email to the waitlist and sends the verification email.
// Re-signing up while unverified rotates the token and resends; verified
// entries are left alone; unsubscribed entries are refused.
func (s *Service) Signup(ctx context.Context, c Caller, rawEmail, source string) (Outcome, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategorySignup)
	if err != nil {
		return out, err
	}

	addr, err := s.normalize(rawEmail)
	if err != nil {
		return out, err
	}
	hash := s.hasher.HashEmail(addr)

	entry, err := s.repo.GetByHash(ctx, hash)
	switch {
	case err == nil:
		return s.signupExisting(ctx, out, entry, addr)
	case !errors.Is(err, ErrNotFound):
		return out, storeError(err)
	}

	encrypted, err := s.cipher.Encrypt(addr)
	if err != nil {
		return out, &TransportError{Provider: "cipher", Err: err}
	}
	now := s.now()
	token := security.GenerateVerificationToken(now)
	entry = &domain.WaitlistEntry{
		ID:                 uuid.New().String(),
		EmailHash:          hash,
		EmailEncrypted:     encrypted,
		VerificationToken:  &token,
		UnsubscribeToken:   security.GenerateUnsubscribeToken(),
		Source:             cleanSource(source),
		VerificationSentAt: &now,
		CreatedAt:          now,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return out, storeError(err)
		}
		// Lost a concurrent create for the same address.
		existing, gerr := s.repo.GetByHash(ctx, hash)
		if gerr != nil {
			return out, storeError(gerr)
		}
		return s.signupExisting(ctx, out, existing, addr)
	}

	if err := s.sendVerification(ctx, entry, addr, token); err != nil {
		return out, err
	}

	logger.Info("waitlist signup", "entry_id", entry.ID, "email", addr, "source", entry.Source)
	out.Success = true
	out.Message = MsgSignupCheckEmail
	out.Email = logger.RedactEmail(addr)
	return out, nil
}

func (s *Service) signupExisting(ctx context.Context, out Outcome, entry *domain.WaitlistEntry, addr string) (Outcome, error) {
	switch entry.Status() {
	case domain.StatusUnsubscribed:
		return out, &ValidationError{Message: MsgEntryUnsubscribed}
	case domain.StatusVerified:
		out.Success = true
		out.AlreadyVerified = true
		out.Message = MsgAlreadyOnWaitlist
		out.Email = logger.RedactEmail(addr)
		return out, nil
	}
	out, err := s.reissue(ctx, out, entry, addr)
	if err == nil && !out.AlreadyVerified {
		out.Message = MsgSignupCheckEmail
	}
	return out, err
}

// ResendVerification rotates the token and resends the verification email.
// Privileged; the HTTP layer gates access.
func (s *Service) ResendVerification(ctx context.Context, c Caller, rawEmail string) (Outcome, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategoryEmailVerification)
	if err != nil {
		return out, err
	}

	addr, err := s.normalize(rawEmail)
	if err != nil {
		return out, err
	}
	entry, err := s.repo.GetByHash(ctx, s.hasher.HashEmail(addr))
	if errors.Is(err, ErrNotFound) {
		return out, &NotFoundError{Message: MsgEmailNotFound}
	}
	if err != nil {
		return out, storeError(err)
	}

	switch entry.Status() {
	case domain.StatusUnsubscribed:
		return out, &ValidationError{Message: MsgEntryUnsubscribed}
	case domain.StatusVerified:
		out.Success = true
		out.AlreadyVerified = true
		out.Message = MsgAlreadyVerified
		out.Email = logger.RedactEmail(addr)
		return out, nil
	}
	return s.reissue(ctx, out, entry, addr)
}

// reissue rotates the verification token of an unverified entry and sends
// the verification email to addr.
func (s *Service) reissue(ctx context.Context, out Outcome, entry *domain.WaitlistEntry, addr string) (Outcome, error) {
	now := s.now()
	token := security.GenerateVerificationToken(now)

	if err := s.repo.UpdateVerificationToken(ctx, entry.ID, token, now); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return out, storeError(err)
		}
		// The entry changed state underneath us.
		current, gerr := s.repo.GetByHash(ctx, entry.EmailHash)
		if gerr != nil {
			return out, storeError(gerr)
		}
		if current.Unsubscribed {
			return out, &ValidationError{Message: MsgEntryUnsubscribed}
		}
		out.Success = true
		out.AlreadyVerified = true
		out.Message = MsgAlreadyVerified
		out.Email = logger.RedactEmail(addr)
		return out, nil
	}

	if err := s.sendVerification(ctx, entry, addr, token); err != nil {
		return out, err
	}

	logger.Info("verification reissued", "entry_id", entry.ID, "email", addr)
	out.Success = true
	out.Message = MsgVerificationResent
	out.Email = logger.RedactEmail(addr)
	return out, nil
}

func (s *Service) sendVerification(ctx context.Context, entry *domain.WaitlistEntry, addr, token string) error {
	content, err := email.BuildTemplate(domain.EmailVerification, email.TemplateData{
		VerificationToken: token,
		UnsubscribeToken:  entry.UnsubscribeToken,
		ProductName:       s.cfg.ProductName,
		Year:              s.now().Year(),
	}, s.cfg.BaseURL)
	if err != nil {
		return &TransportError{Provider: "template", Err: err}
	}

	res := s.sender.Send(ctx, content.Message(addr, s.cfg.From, map[string]string{"entry_id": entry.ID}))
	if !res.Success {
		logger.Error("verification email failed", "entry_id", entry.ID, "provider", res.Provider, "error", res.Error)
		return &TransportError{Provider: res.Provider, Err: errors.New(res.Error)}
	}
	return nil
}

// VerifyByToken confirms email ownership. The token must be well formed,
// fresh, and held by an entry in the store. Only the call that actually
// flips the entry sends the welcome email.
func (s *Service) VerifyByToken(ctx context.Context, c Caller, token string) (Outcome, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategoryEmailVerification)
	if err != nil {
		return out, err
	}

	token = strings.TrimSpace(token)
	if _, err := security.ParseVerificationToken(token); err != nil {
		return out, &ValidationError{Message: MsgInvalidToken}
	}

	fresh := security.VerificationTokenFresh(token, s.now(), s.cfg.VerificationTTL)
	entry, err := s.repo.GetByVerificationToken(ctx, token)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return out, storeError(err)
	}
	if err != nil || !fresh {
		return out, &NotFoundError{Message: MsgTokenNotFound}
	}

	switch entry.Status() {
	case domain.StatusUnsubscribed:
		return out, &ValidationError{Message: MsgEntryUnsubscribed}
	case domain.StatusVerified:
		out.Success = true
		out.AlreadyVerified = true
		out.Message = MsgAlreadyVerified
		out.Email = s.maskedEmail(entry)
		return out, nil
	}

	addr, err := s.cipher.Decrypt(entry.EmailEncrypted)
	if err != nil {
		logger.Error("stored email could not be decrypted", "entry_id", entry.ID, "error", err.Error())
		return out, &DecryptionError{Err: err}
	}

	won, err := s.repo.MarkVerified(ctx, entry.ID, s.now())
	if err != nil {
		return out, storeError(err)
	}
	if !won {
		current, gerr := s.repo.GetByVerificationToken(ctx, token)
		if gerr == nil && current.Unsubscribed {
			return out, &ValidationError{Message: MsgEntryUnsubscribed}
		}
		out.Success = true
		out.AlreadyVerified = true
		out.Message = MsgAlreadyVerified
		out.Email = logger.RedactEmail(addr)
		return out, nil
	}

	logger.Info("waitlist entry verified", "entry_id", entry.ID, "email", addr)
	s.sendWelcome(ctx, entry, addr)

	out.Success = true
	out.Message = MsgVerified
	out.Email = logger.RedactEmail(addr)
	return out, nil
}

// sendWelcome fires the welcome email in the background. It outlives the
// request but is bounded by WelcomeTimeout and tracked for Wait.
func (s *Service) sendWelcome(parent context.Context, entry *domain.WaitlistEntry, addr string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.WelcomeTimeout)
		defer cancel()

		position, err := s.repo.CountVerified(ctx)
		if err != nil {
			position = 0
		}
		content, err := email.BuildTemplate(domain.EmailWelcome, email.TemplateData{
			UnsubscribeToken: entry.UnsubscribeToken,
			Position:         position,
			ProductName:      s.cfg.ProductName,
			LaunchURL:        s.cfg.LaunchURL,
			Year:             s.now().Year(),
		}, s.cfg.BaseURL)
		if err != nil {
			logger.Error("welcome template failed", "entry_id", entry.ID, "error", err.Error())
			return
		}
		res := s.sender.Send(ctx, content.Message(addr, s.cfg.From, map[string]string{"entry_id": entry.ID}))
		if !res.Success {
			logger.Warn("welcome email failed", "entry_id", entry.ID, "provider", res.Provider, "error", res.Error)
			return
		}
		logger.Debug("welcome email sent", "entry_id", entry.ID, "provider", res.Provider)
	}()
}

// Unsubscribe opts an entry out permanently. Repeating it is a no-op
// success.
func (s *Service) Unsubscribe(ctx context.Context, c Caller, token string) (Outcome, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategoryGeneral)
	if err != nil {
		return out, err
	}

	token = strings.TrimSpace(token)
	if !security.ValidUnsubscribeToken(token) {
		return out, &ValidationError{Message: MsgInvalidUnsubscribe}
	}

	entry, err := s.repo.GetByUnsubscribeToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return out, &NotFoundError{Message: MsgUnsubscribeNotFound}
	}
	if err != nil {
		return out, storeError(err)
	}

	out.Success = true
	out.Email = s.maskedEmail(entry)
	if entry.Unsubscribed {
		out.AlreadyUnsubscribed = true
		out.Message = MsgAlreadyUnsubscribed
		return out, nil
	}

	changed, err := s.repo.MarkUnsubscribed(ctx, entry.ID, s.now())
	if err != nil {
		return Outcome{RateLimit: out.RateLimit}, storeError(err)
	}
	if !changed {
		out.AlreadyUnsubscribed = true
		out.Message = MsgAlreadyUnsubscribed
		return out, nil
	}

	logger.Info("waitlist entry unsubscribed", "entry_id", entry.ID)
	out.Message = MsgUnsubscribed
	return out, nil
}

// maskedEmail decrypts for display only; failure yields "".
func (s *Service) maskedEmail(entry *domain.WaitlistEntry) string {
	addr, err := s.cipher.Decrypt(entry.EmailEncrypted)
	if err != nil {
		return ""
	}
	return logger.RedactEmail(addr)
}

// Stats is the admin view of the waitlist.
type Stats struct {
	Verified  int              `json:"verified"`
	RateLimit ratelimit.Result `json:"-"`
}

// Stats returns the number of verified, subscribed entries.
func (s *Service) Stats(ctx context.Context, c Caller) (Stats, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategoryGeneral)
	if err != nil {
		return Stats{RateLimit: out.RateLimit}, err
	}
	n, err := s.repo.CountVerified(ctx)
	if err != nil {
		return Stats{RateLimit: out.RateLimit}, storeError(err)
	}
	return Stats{Verified: n, RateLimit: out.RateLimit}, nil
}

func cleanSource(source string) string {
	source = strings.TrimSpace(source)
	if len(source) <= maxSourceLength {
		return source
	}
	cut := maxSourceLength
	for cut > 0 && !utf8.RuneStart(source[cut]) {
		cut--
	}
	return source[:cut]
}
