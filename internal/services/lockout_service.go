package services

import (
	"context"
	"log/slog"

	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/session"
)

// LockoutService maintains the per-(user, factorType) failure counter and
// decides when a factor crosses into the locked state.
//
// Every lockout-path storage failure is absorbed here and converted to the
// unavailable sentinel: a migration gap must grant full attempts, never lock
// everyone out and never crash the login flow.
type LockoutService struct {
	records   repositories.FactorRecordRepository
	notifier  Notifier
	audit     *AuditService
	logger    *slog.Logger
	threshold int
}

// NewLockoutService creates a new LockoutService with the global threshold.
func NewLockoutService(records repositories.FactorRecordRepository, notifier Notifier, logger *slog.Logger, threshold int) *LockoutService {
	return &LockoutService{
		records:   records,
		notifier:  notifier,
		logger:    logger,
		threshold: threshold,
	}
}

// SetAudit enables audit emission for lockout events.
func (s *LockoutService) SetAudit(audit *AuditService) {
	s.audit = audit
}

func (s *LockoutService) thresholdFor(f Factor) int {
	if t := f.LockoutThreshold(); t > 0 {
		return t
	}
	return s.threshold
}

// LoadLockState derives the current lock status for (f, userID).
//
// Disabled or non-lockable factors report a clean zero state without
// touching storage. A storage failure yields the unavailable sentinel, never
// an error: -1 is a first-class value, distinguished from a real 0 by every
// downstream branch.
func (s *LockoutService) LoadLockState(ctx context.Context, f Factor, userID string) models.LockStatus {
	if !f.Enabled() || !f.Lockable() {
		return models.LockStatus{}
	}

	counter, err := s.records.MaxLockCounter(ctx, userID, f.Type())
	if err != nil {
		s.logger.Warn("lock counter unavailable, failing open",
			slog.String("factor_type", f.Type()),
			slog.Any("error", err))
		return models.LockStatus{Counter: models.LockCounterUnavailable}
	}

	return models.LockStatus{
		Counter: counter,
		Locked:  counter >= s.thresholdFor(f),
	}
}

// Increment records one more consecutive failure.
//
// When the counter is unavailable the call is a no-op. Otherwise the
// incremented counter is persisted to all matching records in its own write;
// crossing the threshold moves the session to LOCKED (through the
// state-machine guard) and emits the user-visible lockout warning.
func (s *LockoutService) Increment(ctx context.Context, f Factor, userID string, bag session.Bag) {
	if !f.Enabled() || !f.Lockable() {
		return
	}

	status := s.LoadLockState(ctx, f, userID)
	if status.Unavailable() {
		s.logger.Warn("skipping lock counter increment, counter unavailable",
			slog.String("factor_type", f.Type()))
		return
	}

	next := status.Counter + 1
	if err := s.records.SetLockCounter(ctx, userID, f.Type(), next); err != nil {
		s.logger.Error("failed to persist lock counter",
			slog.String("factor_type", f.Type()),
			slog.Int("counter", next),
			slog.Any("error", err))
		return
	}

	threshold := s.thresholdFor(f)
	if next >= threshold {
		session.WriteState(bag, f.Type(), models.StateLocked)

		if s.audit != nil {
			s.audit.LogFactorEvent(ctx, models.AuditEventFactorLocked, userID, userID, f.Type(), "",
				models.AuditMetadata{"counter": next, "threshold": threshold})
		}

		if err := s.notifier.NotifyLockout(ctx, userID, f.Type(), threshold); err != nil {
			s.logger.Error("failed to send lockout notification",
				slog.String("factor_type", f.Type()),
				slog.Any("error", err))
		}

		s.logger.Warn("factor locked",
			slog.String("user_id", userID),
			slog.String("factor_type", f.Type()),
			slog.Int("counter", next))
	}
}

// RemainingAttempts reports the attempts budget left before lockout.
// An unavailable counter grants the full threshold; the sentinel never
// leaks into the arithmetic and the result is never negative.
func (s *LockoutService) RemainingAttempts(ctx context.Context, f Factor, userID string) int {
	threshold := s.thresholdFor(f)

	status := s.LoadLockState(ctx, f, userID)
	if status.Unavailable() {
		return threshold
	}

	remaining := threshold - status.Counter
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset zeroes the counter. Only called on a successful verification; the
// counter is never decremented any other way.
func (s *LockoutService) Reset(ctx context.Context, f Factor, userID string) {
	if !f.Enabled() || !f.Lockable() {
		return
	}

	if err := s.records.SetLockCounter(ctx, userID, f.Type(), 0); err != nil {
		s.logger.Error("failed to reset lock counter",
			slog.String("factor_type", f.Type()),
			slog.Any("error", err))
	}
}
