package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/waitlist-service/internal/domain"
	"github.com/ignite/waitlist-service/internal/email"
	"github.com/ignite/waitlist-service/internal/pkg/distlock"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
	"github.com/ignite/waitlist-service/internal/ratelimit"
)

// LaunchReport summarizes a launch broadcast.
type LaunchReport struct {
	Sent      int              `json:"sent"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	RateLimit ratelimit.Result `json:"-"`
}

// NotifyLaunch emails every verified, subscribed entry that the product is
// live. Only one broadcast runs at a time across processes. Per-entry
// failures are counted, never fatal.
func (s *Service) NotifyLaunch(ctx context.Context, c Caller) (LaunchReport, error) {
	out, err := s.throttle(ctx, c, ratelimit.CategoryGeneral)
	report := LaunchReport{RateLimit: out.RateLimit}
	if err != nil {
		return report, err
	}

	lock, err := s.acquireLaunchLock(ctx)
	if err != nil {
		return report, err
	}
	defer lock.release()

	logger.Info("launch broadcast started", "batch_size", s.cfg.LaunchBatchSize)

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("launch broadcast interrupted", "sent", report.Sent, "failed", report.Failed)
			return report, err
		}

		page, err := s.repo.ListVerified(ctx, afterID, s.cfg.LaunchBatchSize)
		if err != nil {
			return report, storeError(err)
		}
		if err := lock.refresh(ctx); err != nil {
			logger.Error("launch broadcast aborted", "sent", report.Sent, "failed", report.Failed, "error", err.Error())
			return report, err
		}
		for i := range page {
			s.notifyOne(ctx, &page[i], &report)
		}
		if len(page) < s.cfg.LaunchBatchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	logger.Info("launch broadcast finished", "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

func (s *Service) notifyOne(ctx context.Context, entry *domain.WaitlistEntry, report *LaunchReport) {
	if entry.Status() != domain.StatusVerified {
		report.Skipped++
		return
	}
	addr, err := s.cipher.Decrypt(entry.EmailEncrypted)
	if err != nil {
		logger.Error("launch: stored email could not be decrypted", "entry_id", entry.ID, "error", err.Error())
		report.Skipped++
		return
	}
	content, err := email.BuildTemplate(domain.EmailLaunch, email.TemplateData{
		UnsubscribeToken: entry.UnsubscribeToken,
		ProductName:      s.cfg.ProductName,
		LaunchURL:        s.cfg.LaunchURL,
		Year:             s.now().Year(),
	}, s.cfg.BaseURL)
	if err != nil {
		logger.Error("launch template failed", "entry_id", entry.ID, "error", err.Error())
		report.Failed++
		return
	}
	res := s.sender.Send(ctx, content.Message(addr, s.cfg.From, map[string]string{"entry_id": entry.ID}))
	if !res.Success {
		logger.Warn("launch email failed", "entry_id", entry.ID, "provider", res.Provider, "error", res.Error)
		report.Failed++
		return
	}
	report.Sent++
}

// launchLock is the hold taken by NotifyLaunch. refresh is called once per
// page so a long broadcast keeps an expiring lock alive.
type launchLock struct {
	release func()
	refresh func(ctx context.Context) error
}

// acquireLaunchLock takes the distributed lock when one is configured and
// a process-local lock otherwise.
func (s *Service) acquireLaunchLock(ctx context.Context) (*launchLock, error) {
	if s.locks == nil {
		if !s.localLaunch.TryLock() {
			return nil, ErrLaunchInProgress
		}
		return &launchLock{
			release: s.localLaunch.Unlock,
			refresh: func(context.Context) error { return nil },
		}, nil
	}

	lock := s.locks(launchLockKey, launchLockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, &TransportError{Provider: "lock", Err: fmt.Errorf("acquire launch lock: %w", err)}
	}
	if !ok {
		return nil, ErrLaunchInProgress
	}
	return &launchLock{
		release: func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release launch lock", "error", err.Error())
			}
		},
		refresh: func(ctx context.Context) error {
			ext, ok := lock.(distlock.Extender)
			if !ok {
				return nil
			}
			err := ext.Extend(ctx, launchLockTTL)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, distlock.ErrNotHeld):
				// Another process may already be broadcasting.
				return fmt.Errorf("%w: %w", ErrLaunchInProgress, err)
			default:
				return &TransportError{Provider: "lock", Err: fmt.Errorf("extend launch lock: %w", err)}
			}
		},
	}, nil
}
