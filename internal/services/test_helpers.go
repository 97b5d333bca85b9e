package services

import (
	"context"

	"github.com/treyhollis/factorgate/internal/config"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/session"
)

// MockFactorRecordRepository implements FactorRecordRepository for testing
type MockFactorRecordRepository struct {
	CreateFunc               func(ctx context.Context, record *models.FactorRecord) error
	GetByIDFunc              func(ctx context.Context, recordID string) (*models.FactorRecord, error)
	ListAllFunc              func(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error)
	ListActiveFunc           func(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error)
	GetOrCreateSingletonFunc func(ctx context.Context, userID, factorType string) ([]models.FactorRecord, bool, error)
	RevokeFunc               func(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error)
	UpdateLastVerifiedFunc   func(ctx context.Context, userID, factorType string, recordID *string) (bool, error)
	DeleteFunc               func(ctx context.Context, userID, factorType string) error
	SetLabelFunc             func(ctx context.Context, recordID, label string) error
	GetLabelFunc             func(ctx context.Context, recordID string) (string, error)
	SetCodeHashesFunc        func(ctx context.Context, recordID string, hashes []string) error
	MaxLockCounterFunc       func(ctx context.Context, userID, factorType string) (int, error)
	SetLockCounterFunc       func(ctx context.Context, userID, factorType string, counter int) error
}

func (m *MockFactorRecordRepository) Create(ctx context.Context, record *models.FactorRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, record)
	}
	return nil
}

func (m *MockFactorRecordRepository) GetByID(ctx context.Context, recordID string) (*models.FactorRecord, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, recordID)
	}
	return nil, models.ErrNotFound
}

func (m *MockFactorRecordRepository) ListAll(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error) {
	if m.ListAllFunc != nil {
		return m.ListAllFunc(ctx, userID, factorType)
	}
	return nil, nil
}

func (m *MockFactorRecordRepository) ListActive(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, userID, factorType)
	}
	all, err := m.ListAll(ctx, userID, factorType)
	if err != nil {
		return nil, err
	}
	active := make([]models.FactorRecord, 0, len(all))
	for _, r := range all {
		if r.IsActive() {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *MockFactorRecordRepository) GetOrCreateSingleton(ctx context.Context, userID, factorType string) ([]models.FactorRecord, bool, error) {
	if m.GetOrCreateSingletonFunc != nil {
		return m.GetOrCreateSingletonFunc(ctx, userID, factorType)
	}
	return []models.FactorRecord{{ID: "record_1", UserID: userID, FactorType: factorType}}, true, nil
}

func (m *MockFactorRecordRepository) Revoke(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, userID, factorType, recordID, elevated)
	}
	return true, nil
}

func (m *MockFactorRecordRepository) UpdateLastVerified(ctx context.Context, userID, factorType string, recordID *string) (bool, error) {
	if m.UpdateLastVerifiedFunc != nil {
		return m.UpdateLastVerifiedFunc(ctx, userID, factorType, recordID)
	}
	return true, nil
}

func (m *MockFactorRecordRepository) Delete(ctx context.Context, userID, factorType string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, factorType)
	}
	return nil
}

func (m *MockFactorRecordRepository) SetLabel(ctx context.Context, recordID, label string) error {
	if m.SetLabelFunc != nil {
		return m.SetLabelFunc(ctx, recordID, label)
	}
	return nil
}

func (m *MockFactorRecordRepository) GetLabel(ctx context.Context, recordID string) (string, error) {
	if m.GetLabelFunc != nil {
		return m.GetLabelFunc(ctx, recordID)
	}
	return "", models.ErrNotFound
}

func (m *MockFactorRecordRepository) SetCodeHashes(ctx context.Context, recordID string, hashes []string) error {
	if m.SetCodeHashesFunc != nil {
		return m.SetCodeHashesFunc(ctx, recordID, hashes)
	}
	return nil
}

func (m *MockFactorRecordRepository) MaxLockCounter(ctx context.Context, userID, factorType string) (int, error) {
	if m.MaxLockCounterFunc != nil {
		return m.MaxLockCounterFunc(ctx, userID, factorType)
	}
	return 0, nil
}

func (m *MockFactorRecordRepository) SetLockCounter(ctx context.Context, userID, factorType string, counter int) error {
	if m.SetLockCounterFunc != nil {
		return m.SetLockCounterFunc(ctx, userID, factorType, counter)
	}
	return nil
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc        func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByUserIDFunc   func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
	CountByUserIDFunc func(ctx context.Context, userID string) (int64, error)

	Created []*models.AuditLog
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.Created = append(m.Created, log)
	return log, nil
}

func (m *MockAuditLogRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockAuditLogRepository) CountByUserID(ctx context.Context, userID string) (int64, error) {
	if m.CountByUserIDFunc != nil {
		return m.CountByUserIDFunc(ctx, userID)
	}
	return 0, nil
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	NotifyLockoutFunc func(ctx context.Context, userID, factorType string, threshold int) error

	Notifications int
}

func (m *MockNotifier) NotifyLockout(ctx context.Context, userID, factorType string, threshold int) error {
	m.Notifications++
	if m.NotifyLockoutFunc != nil {
		return m.NotifyLockoutFunc(ctx, userID, factorType, threshold)
	}
	return nil
}

// MockSecretStore implements SecretStore for testing
type MockSecretStore struct {
	CleanupFunc func(ctx context.Context, userID, factorType string, bag session.Bag) error

	Cleanups int
}

func (m *MockSecretStore) CleanupTemporarySecrets(ctx context.Context, userID, factorType string, bag session.Bag) error {
	m.Cleanups++
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, userID, factorType, bag)
	}
	return nil
}

// stubFactor is a configurable Factor for service tests
type stubFactor struct {
	BaseFactor
	hasInput bool
	lockable bool
}

func newStubFactor(factorType string, enabled, lockable bool) stubFactor {
	return stubFactor{
		BaseFactor: NewBaseFactor(factorType, config.FactorSettings{Enabled: enabled}),
		hasInput:   lockable,
		lockable:   lockable,
	}
}

func (f stubFactor) HasInput() bool { return f.hasInput }
func (f stubFactor) Lockable() bool { return f.lockable }

func factorSettingsWithThreshold(threshold int) config.FactorSettings {
	return config.FactorSettings{Enabled: true, ThresholdOverride: threshold}
}
