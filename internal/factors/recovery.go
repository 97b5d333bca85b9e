package factors

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
)

const TypeRecovery = "recovery"

const recoveryCodeCount = 8

// RecoveryFactor verifies single-use recovery codes held bcrypt-hashed on
// the user's singleton record. It is a last-resort factor: it refuses to be
// combined with any other factor type in one requirement set.
type RecoveryFactor struct {
	services.BaseFactor
	secrets *auth.SecretManager
	records repositories.FactorRecordRepository
	svc     *services.FactorService
	logger  *slog.Logger
}

func NewRecoveryFactor(settings config.FactorSettings, secrets *auth.SecretManager, records repositories.FactorRecordRepository, svc *services.FactorService, logger *slog.Logger) *RecoveryFactor {
	return &RecoveryFactor{
		BaseFactor: services.NewBaseFactor(TypeRecovery, settings),
		secrets:    secrets,
		records:    records,
		svc:        svc,
		logger:     logger,
	}
}

// CheckCombination rejects any set naming another factor type alongside
// recovery codes.
func (f *RecoveryFactor) CheckCombination(factorTypes []string) bool {
	for _, t := range factorTypes {
		if t != f.Type() {
			return false
		}
	}
	return true
}

// GenerateCodes replaces the user's recovery codes and returns the new
// plaintext codes exactly once.
func (f *RecoveryFactor) GenerateCodes(ctx context.Context, userID string) ([]string, error) {
	records, err := f.svc.EnsureSingleton(ctx, f, userID)
	if err != nil {
		return nil, err
	}

	codes, err := f.secrets.GenerateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hashes[i] = string(hash)
	}

	if err := f.records.SetCodeHashes(ctx, records[0].ID, hashes); err != nil {
		return nil, err
	}

	return codes, nil
}

// Verify consumes a matching recovery code: the matched hash is removed so
// the code can never be replayed.
func (f *RecoveryFactor) Verify(ctx context.Context, userID, code string, bag session.Bag) (bool, error) {
	status := f.svc.LoadLockedState(ctx, f, userID, bag)
	if status.Locked {
		return false, models.ErrFactorLocked
	}

	records, err := f.records.ListActive(ctx, userID, f.Type())
	if err != nil {
		return false, err
	}

	for _, record := range records {
		for i, hash := range record.CodeHashes {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
				continue
			}

			remaining := make([]string, 0, len(record.CodeHashes)-1)
			remaining = append(remaining, record.CodeHashes[:i]...)
			remaining = append(remaining, record.CodeHashes[i+1:]...)

			if err := f.records.SetCodeHashes(ctx, record.ID, remaining); err != nil {
				// The code must not remain spendable if consumption failed.
				f.logger.Error("failed to consume recovery code",
					slog.String("record_id", record.ID),
					slog.Any("error", err))
				return false, err
			}

			session.WriteState(bag, f.Type(), models.StatePass)
			f.logger.Info("recovery code used",
				slog.String("user_id", userID),
				slog.Int("codes_left", len(remaining)))
			return true, nil
		}
	}

	session.WriteState(bag, f.Type(), models.StateFail)
	f.svc.IncrementLockCounter(ctx, f, userID, bag)
	return false, nil
}
