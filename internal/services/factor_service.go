package services

import (
	"context"
	"log/slog"

	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/session"
)

// Factor is the capability surface a concrete factor type presents to the
// orchestration layer. BaseFactor supplies the defaults; a factor type
// overrides only what differs for it.
type Factor interface {
	// Type is the string key identifying the factor implementation.
	Type() string
	// Enabled reports whether deployment configuration turned the type on.
	Enabled() bool
	// Weight is the configured relative importance for combination scoring.
	Weight() int
	// HasInput reports whether the factor takes direct user input.
	HasInput() bool
	// Lockable reports whether repeated failures lock the factor. Passive,
	// contextual factors are not brute-forceable the same way and are not
	// lockable.
	Lockable() bool
	// LockoutThreshold overrides the global threshold; 0 keeps the global.
	LockoutThreshold() int
	// CheckCombination is a pure predicate over a proposed set of factor
	// types; types with mutual-exclusion rules return false for invalid sets.
	CheckCombination(factorTypes []string) bool
	// PossibleStates returns the candidate states for planning/UI purposes.
	PossibleStates(ctx context.Context, userID string, bag session.Bag) []models.FactorState
}

// SecretStore clears short-lived verification secrets for a factor. Cleanup
// runs after every attempt, pass or fail.
type SecretStore interface {
	CleanupTemporarySecrets(ctx context.Context, userID, factorType string, bag session.Bag) error
}

// BaseFactor carries the shared per-type configuration and the default
// behavior for every Factor method. Concrete factor types embed it.
//
// Embedding is not virtual dispatch: a type that overrides HasInput must
// override Lockable too if the two are meant to track each other.
type BaseFactor struct {
	factorType string
	settings   config.FactorSettings
}

func NewBaseFactor(factorType string, settings config.FactorSettings) BaseFactor {
	return BaseFactor{factorType: factorType, settings: settings}
}

func (f BaseFactor) Type() string   { return f.factorType }
func (f BaseFactor) Enabled() bool  { return f.settings.Enabled }
func (f BaseFactor) Weight() int    { return f.settings.Weight }
func (f BaseFactor) HasInput() bool { return true }

// Lockable defaults to HasInput: only factors taking direct user input can
// be brute-forced. This resolves statically against BaseFactor.HasInput, so
// a type overriding HasInput must override Lockable alongside it.
func (f BaseFactor) Lockable() bool        { return f.HasInput() }
func (f BaseFactor) LockoutThreshold() int { return f.settings.ThresholdOverride }

func (f BaseFactor) CheckCombination(factorTypes []string) bool { return true }

// PossibleStates defaults to the singleton set of the current session state.
func (f BaseFactor) PossibleStates(ctx context.Context, userID string, bag session.Bag) []models.FactorState {
	return []models.FactorState{session.ReadState(bag, f.factorType)}
}

// FactorService composes the record store, lockout tracker, state machine,
// secret store and audit sink into the operations an orchestrator calls.
// Composition is one-directional; nothing here calls back out.
type FactorService struct {
	records repositories.FactorRecordRepository
	lockout *LockoutService
	secrets SecretStore
	audit   *AuditService
	logger  *slog.Logger
}

// NewFactorService creates a new FactorService
func NewFactorService(
	records repositories.FactorRecordRepository,
	lockout *LockoutService,
	secrets SecretStore,
	audit *AuditService,
	logger *slog.Logger,
) *FactorService {
	return &FactorService{
		records: records,
		lockout: lockout,
		secrets: secrets,
		audit:   audit,
		logger:  logger,
	}
}

// Lockout exposes the composed lockout tracker.
func (s *FactorService) Lockout() *LockoutService {
	return s.lockout
}

// EnsureSingleton returns the user's records for a singleton factor type,
// creating the one fresh record if none exist. Creation emits a setup audit
// event.
func (s *FactorService) EnsureSingleton(ctx context.Context, f Factor, userID string) ([]models.FactorRecord, error) {
	records, created, err := s.records.GetOrCreateSingleton(ctx, userID, f.Type())
	if err != nil {
		return nil, err
	}

	if created {
		s.audit.LogFactorEvent(ctx, models.AuditEventFactorSetup, userID, userID, f.Type(), "", nil)
	}

	return records, nil
}

// EnrollRecord persists a new factor record and emits a setup audit event.
func (s *FactorService) EnrollRecord(ctx context.Context, f Factor, record *models.FactorRecord) error {
	record.FactorType = f.Type()
	if err := s.records.Create(ctx, record); err != nil {
		return err
	}

	s.audit.LogFactorEvent(ctx, models.AuditEventFactorSetup, record.UserID, record.UserID, f.Type(), record.Label, nil)
	return nil
}

// LoadLockedState refreshes lock state from storage and, when the factor is
// over threshold, moves the session to LOCKED through the state machine
// (so an absorbed FAIL stays FAIL).
func (s *FactorService) LoadLockedState(ctx context.Context, f Factor, userID string, bag session.Bag) models.LockStatus {
	status := s.lockout.LoadLockState(ctx, f, userID)
	if status.Locked {
		session.WriteState(bag, f.Type(), models.StateLocked)
	}
	return status
}

// PostPassState persists last-verified on an observed PASS and resets the
// lock counter. Temporary secrets are cleared regardless of outcome so a
// stale secret never leaks into the next attempt.
func (s *FactorService) PostPassState(ctx context.Context, f Factor, userID string, bag session.Bag) {
	if session.ReadState(bag, f.Type()) == models.StatePass {
		if _, err := s.records.UpdateLastVerified(ctx, userID, f.Type(), nil); err != nil {
			s.logger.Error("failed to update last verified",
				slog.String("factor_type", f.Type()),
				slog.Any("error", err))
		}
		s.lockout.Reset(ctx, f, userID)
	}

	if err := s.secrets.CleanupTemporarySecrets(ctx, userID, f.Type(), bag); err != nil {
		s.logger.Error("failed to clean up temporary secrets",
			slog.String("factor_type", f.Type()),
			slog.Any("error", err))
	}
}

// IncrementLockCounter refreshes lock state and then records one more
// failed attempt.
func (s *FactorService) IncrementLockCounter(ctx context.Context, f Factor, userID string, bag session.Bag) {
	s.LoadLockedState(ctx, f, userID, bag)
	s.lockout.Increment(ctx, f, userID, bag)
}

// RemainingAttempts delegates to the lockout tracker.
func (s *FactorService) RemainingAttempts(ctx context.Context, f Factor, userID string) int {
	return s.lockout.RemainingAttempts(ctx, f, userID)
}

// RevokeUserFactor revokes the targeted record (or all records of the type)
// and emits a revocation audit event on success. Ownership and not-found
// failures come back as false; storage failures propagate.
func (s *FactorService) RevokeUserFactor(ctx context.Context, f Factor, actingUserID, targetUserID string, recordID *string, elevated bool) (bool, error) {
	var label string
	if recordID != nil {
		if l, err := s.records.GetLabel(ctx, *recordID); err == nil {
			label = l
		}
	}

	ok, err := s.records.Revoke(ctx, targetUserID, f.Type(), recordID, elevated)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.audit.LogFactorEvent(ctx, models.AuditEventFactorRevoke, actingUserID, targetUserID, f.Type(), label, nil)
	return true, nil
}

// DeleteFactorForUser hard-deletes every record of the factor type and
// emits a deletion audit event.
func (s *FactorService) DeleteFactorForUser(ctx context.Context, f Factor, actingUserID, targetUserID string) error {
	if err := s.records.Delete(ctx, targetUserID, f.Type()); err != nil {
		return err
	}

	s.audit.LogFactorEvent(ctx, models.AuditEventFactorDelete, actingUserID, targetUserID, f.Type(), "", nil)
	return nil
}

// ProcessCancelAction moves the session to NEUTRAL; the FAIL guard applies.
func (s *FactorService) ProcessCancelAction(f Factor, bag session.Bag) bool {
	return session.WriteState(bag, f.Type(), models.StateNeutral)
}
