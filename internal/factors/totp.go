package factors

import (
	"context"
	"log/slog"

	"github.com/treyhollis/factorgate/internal/auth"
	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
)

const TypeTOTP = "totp"

// TOTPFactor verifies time-based one-time codes. A user may enroll several
// code generators; verification passes when any active record validates.
type TOTPFactor struct {
	services.BaseFactor
	secrets *auth.SecretManager
	records repositories.FactorRecordRepository
	svc     *services.FactorService
	logger  *slog.Logger
}

func NewTOTPFactor(settings config.FactorSettings, secrets *auth.SecretManager, records repositories.FactorRecordRepository, svc *services.FactorService, logger *slog.Logger) *TOTPFactor {
	return &TOTPFactor{
		BaseFactor: services.NewBaseFactor(TypeTOTP, settings),
		secrets:    secrets,
		records:    records,
		svc:        svc,
		logger:     logger,
	}
}

// BeginEnrollment creates a new code-generator record for the user and
// returns its ID plus the provisioning QR data URL. The plaintext secret
// stays parked in the session until cleanup.
func (f *TOTPFactor) BeginEnrollment(ctx context.Context, userID, label, accountName, remoteAddr string, bag session.Bag) (string, string, error) {
	encrypted, nonce, qr, err := f.secrets.GenerateEnrollment(f.Type(), accountName, bag)
	if err != nil {
		return "", "", err
	}

	record := &models.FactorRecord{
		UserID:             userID,
		Label:              label,
		CreatedFromAddress: remoteAddr,
		SecretEncrypted:    encrypted,
		SecretNonce:        nonce,
	}
	if err := f.svc.EnrollRecord(ctx, f, record); err != nil {
		return "", "", err
	}

	return record.ID, qr, nil
}

// Verify checks a submitted code against every active record. Failure
// writes FAIL into the session and charges the lockout budget.
func (f *TOTPFactor) Verify(ctx context.Context, userID, code string, bag session.Bag) (bool, error) {
	status := f.svc.LoadLockedState(ctx, f, userID, bag)
	if status.Locked {
		return false, models.ErrFactorLocked
	}

	records, err := f.records.ListActive(ctx, userID, f.Type())
	if err != nil {
		return false, err
	}

	for _, record := range records {
		if len(record.SecretEncrypted) == 0 {
			continue
		}

		secret, err := f.secrets.DecryptSecret(record.SecretEncrypted, record.SecretNonce)
		if err != nil {
			f.logger.Error("failed to decrypt factor secret",
				slog.String("record_id", record.ID),
				slog.Any("error", err))
			continue
		}

		valid, err := f.secrets.ValidateCode(string(secret), code, record.LastVerifiedAt)
		if err != nil {
			f.logger.Warn("code validation rejected",
				slog.String("record_id", record.ID),
				slog.Any("error", err))
			continue
		}
		if valid {
			session.WriteState(bag, f.Type(), models.StatePass)
			return true, nil
		}
	}

	session.WriteState(bag, f.Type(), models.StateFail)
	f.svc.IncrementLockCounter(ctx, f, userID, bag)
	return false, nil
}
