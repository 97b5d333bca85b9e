package factors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
	"github.com/treyhollis/factorgate/internal/services"
	"github.com/treyhollis/factorgate/internal/session"
)

const TypeDevice = "device"

// DeviceFactor recognizes a previously trusted browser/device by
// fingerprint. It takes no direct user input, so it is not lockable, and it
// keeps a single conceptual record per user.
type DeviceFactor struct {
	services.BaseFactor
	records repositories.FactorRecordRepository
	svc     *services.FactorService
	logger  *slog.Logger
}

func NewDeviceFactor(settings config.FactorSettings, records repositories.FactorRecordRepository, svc *services.FactorService, logger *slog.Logger) *DeviceFactor {
	return &DeviceFactor{
		BaseFactor: services.NewBaseFactor(TypeDevice, settings),
		records:    records,
		svc:        svc,
		logger:     logger,
	}
}

func (f *DeviceFactor) HasInput() bool { return false }
func (f *DeviceFactor) Lockable() bool { return false }

// TrustDevice records the fingerprint hash on the user's singleton record.
func (f *DeviceFactor) TrustDevice(ctx context.Context, userID, fingerprint string) error {
	records, err := f.svc.EnsureSingleton(ctx, f, userID)
	if err != nil {
		return err
	}

	return f.records.SetLabel(ctx, records[0].ID, fingerprintHash(fingerprint))
}

// Evaluate passes when the presented fingerprint matches an active trusted
// record. An unrecognized device is NEUTRAL, not FAIL: absence of trust is
// not a failed attempt.
func (f *DeviceFactor) Evaluate(ctx context.Context, userID, fingerprint string, bag session.Bag) models.FactorState {
	records, err := f.records.ListActive(ctx, userID, f.Type())
	if err != nil {
		f.logger.Error("failed to load trusted devices", slog.Any("error", err))
		session.WriteState(bag, f.Type(), models.StateNeutral)
		return session.ReadState(bag, f.Type())
	}

	hash := fingerprintHash(fingerprint)
	for _, record := range records {
		if record.Label == hash {
			session.WriteState(bag, f.Type(), models.StatePass)
			return session.ReadState(bag, f.Type())
		}
	}

	session.WriteState(bag, f.Type(), models.StateNeutral)
	return session.ReadState(bag, f.Type())
}

func fingerprintHash(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}
