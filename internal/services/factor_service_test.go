package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/session"
)

func newTestFactorService(repo *MockFactorRecordRepository, auditRepo *MockAuditLogRepository, secrets *MockSecretStore, notifier *MockNotifier, threshold int) *FactorService {
	logger := slog.Default()
	lockout := NewLockoutService(repo, notifier, logger, threshold)
	audit := NewAuditService(auditRepo, logger)
	return NewFactorService(repo, lockout, secrets, audit, logger)
}

func TestFactorService_EnsureSingleton_AuditsCreationOnly(t *testing.T) {
	created := true
	repo := &MockFactorRecordRepository{
		GetOrCreateSingletonFunc: func(ctx context.Context, userID, factorType string) ([]models.FactorRecord, bool, error) {
			records := []models.FactorRecord{{ID: "r1", UserID: userID, FactorType: factorType}}
			wasCreated := created
			created = false // second call sees the existing row
			return records, wasCreated, nil
		},
	}
	auditRepo := &MockAuditLogRepository{}
	svc := newTestFactorService(repo, auditRepo, &MockSecretStore{}, &MockNotifier{}, 3)
	factor := newStubFactor("device", true, false)

	first, err := svc.EnsureSingleton(context.Background(), factor, "u1")
	require.NoError(t, err)
	second, err := svc.EnsureSingleton(context.Background(), factor, "u1")
	require.NoError(t, err)

	// Idempotent read-through: both calls see the same record set.
	assert.Equal(t, first, second)

	require.Len(t, auditRepo.Created, 1)
	assert.Equal(t, models.AuditEventFactorSetup, auditRepo.Created[0].EventType)
}

func TestFactorService_LoadLockedState_TransitionsSessionToLocked(t *testing.T) {
	repo := &MockFactorRecordRepository{
		MaxLockCounterFunc: func(ctx context.Context, userID, factorType string) (int, error) {
			return 3, nil
		},
	}
	svc := newTestFactorService(repo, &MockAuditLogRepository{}, &MockSecretStore{}, &MockNotifier{}, 3)
	bag := session.NewMemoryBag()

	status := svc.LoadLockedState(context.Background(), newStubFactor("totp", true, true), "u1", bag)

	assert.True(t, status.Locked)
	assert.Equal(t, models.StateLocked, session.ReadState(bag, "totp"))
}

func TestFactorService_LoadLockedState_FailStaysFail(t *testing.T) {
	repo := &MockFactorRecordRepository{
		MaxLockCounterFunc: func(ctx context.Context, userID, factorType string) (int, error) {
			return 3, nil
		},
	}
	svc := newTestFactorService(repo, &MockAuditLogRepository{}, &MockSecretStore{}, &MockNotifier{}, 3)
	bag := session.NewMemoryBag()
	session.WriteState(bag, "totp", models.StateFail)

	status := svc.LoadLockedState(context.Background(), newStubFactor("totp", true, true), "u1", bag)

	assert.True(t, status.Locked)
	assert.Equal(t, models.StateFail, session.ReadState(bag, "totp"))
}

func TestFactorService_PostPassState_PersistsVerificationAndResets(t *testing.T) {
	var verifiedType string
	counterReset := false
	repo := &MockFactorRecordRepository{
		UpdateLastVerifiedFunc: func(ctx context.Context, userID, factorType string, recordID *string) (bool, error) {
			verifiedType = factorType
			return true, nil
		},
		SetLockCounterFunc: func(ctx context.Context, userID, factorType string, counter int) error {
			if counter == 0 {
				counterReset = true
			}
			return nil
		},
	}
	secrets := &MockSecretStore{}
	svc := newTestFactorService(repo, &MockAuditLogRepository{}, secrets, &MockNotifier{}, 3)
	bag := session.NewMemoryBag()
	session.WriteState(bag, "totp", models.StatePass)

	svc.PostPassState(context.Background(), newStubFactor("totp", true, true), "u1", bag)

	assert.Equal(t, "totp", verifiedType)
	assert.True(t, counterReset)
	assert.Equal(t, 1, secrets.Cleanups)
}

func TestFactorService_PostPassState_CleanupRunsOnNonPassToo(t *testing.T) {
	updated := false
	repo := &MockFactorRecordRepository{
		UpdateLastVerifiedFunc: func(ctx context.Context, userID, factorType string, recordID *string) (bool, error) {
			updated = true
			return true, nil
		},
	}
	secrets := &MockSecretStore{}
	svc := newTestFactorService(repo, &MockAuditLogRepository{}, secrets, &MockNotifier{}, 3)

	for _, state := range []models.FactorState{models.StateFail, models.StateNeutral, models.StateUnknown} {
		bag := session.NewMemoryBag()
		if state != models.StateUnknown {
			session.WriteState(bag, "totp", state)
		}
		svc.PostPassState(context.Background(), newStubFactor("totp", true, true), "u1", bag)
	}

	assert.False(t, updated, "last verified only persists on pass")
	assert.Equal(t, 3, secrets.Cleanups, "secret cleanup is unconditional")
}

func TestFactorService_RevokeUserFactor_OtherUsersRecordWithoutPrivilege(t *testing.T) {
	revoked := false
	repo := &MockFactorRecordRepository{
		GetByIDFunc: func(ctx context.Context, recordID string) (*models.FactorRecord, error) {
			return &models.FactorRecord{ID: recordID, UserID: "someone-else", FactorType: "totp"}, nil
		},
		RevokeFunc: func(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error) {
			if recordID != nil && !elevated {
				return false, nil
			}
			revoked = true
			return true, nil
		},
	}
	auditRepo := &MockAuditLogRepository{}
	svc := newTestFactorService(repo, auditRepo, &MockSecretStore{}, &MockNotifier{}, 3)

	recordID := "r-theirs"
	ok, err := svc.RevokeUserFactor(context.Background(), newStubFactor("totp", true, true), "attacker", "victim", &recordID, false)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, revoked)
	assert.Empty(t, auditRepo.Created, "no audit event for a refused revocation")
}

func TestFactorService_RevokeUserFactor_EmitsAuditWithLabel(t *testing.T) {
	repo := &MockFactorRecordRepository{
		GetLabelFunc: func(ctx context.Context, recordID string) (string, error) {
			return "work phone", nil
		},
		RevokeFunc: func(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error) {
			return true, nil
		},
	}
	auditRepo := &MockAuditLogRepository{}
	svc := newTestFactorService(repo, auditRepo, &MockSecretStore{}, &MockNotifier{}, 3)

	recordID := "r1"
	ok, err := svc.RevokeUserFactor(context.Background(), newStubFactor("totp", true, true), "admin", "u1", &recordID, true)

	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, auditRepo.Created, 1)

	event := auditRepo.Created[0]
	assert.Equal(t, models.AuditEventFactorRevoke, event.EventType)
	assert.Equal(t, "admin", event.ActingUserID)
	assert.Equal(t, "u1", event.TargetUserID)
	require.NotNil(t, event.DisplayLabel)
	assert.Equal(t, "work phone", *event.DisplayLabel)
}

func TestFactorService_RevokeUserFactor_StorageErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &MockFactorRecordRepository{
		RevokeFunc: func(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error) {
			return false, storeErr
		},
	}
	svc := newTestFactorService(repo, &MockAuditLogRepository{}, &MockSecretStore{}, &MockNotifier{}, 3)

	_, err := svc.RevokeUserFactor(context.Background(), newStubFactor("totp", true, true), "u1", "u1", nil, false)

	assert.ErrorIs(t, err, storeErr)
}

func TestFactorService_DeleteFactorForUser_EmitsAudit(t *testing.T) {
	deleted := false
	repo := &MockFactorRecordRepository{
		DeleteFunc: func(ctx context.Context, userID, factorType string) error {
			deleted = true
			return nil
		},
	}
	auditRepo := &MockAuditLogRepository{}
	svc := newTestFactorService(repo, auditRepo, &MockSecretStore{}, &MockNotifier{}, 3)

	err := svc.DeleteFactorForUser(context.Background(), newStubFactor("totp", true, true), "admin", "u1")

	require.NoError(t, err)
	assert.True(t, deleted)
	require.Len(t, auditRepo.Created, 1)
	assert.Equal(t, models.AuditEventFactorDelete, auditRepo.Created[0].EventType)
}

func TestFactorService_ProcessCancelAction(t *testing.T) {
	svc := newTestFactorService(&MockFactorRecordRepository{}, &MockAuditLogRepository{}, &MockSecretStore{}, &MockNotifier{}, 3)
	factor := newStubFactor("totp", true, true)

	bag := session.NewMemoryBag()
	assert.True(t, svc.ProcessCancelAction(factor, bag))
	assert.Equal(t, models.StateNeutral, session.ReadState(bag, "totp"))

	// Cancel cannot clear an absorbed failure.
	session.WriteState(bag, "totp", models.StateFail)
	assert.False(t, svc.ProcessCancelAction(factor, bag))
	assert.Equal(t, models.StateFail, session.ReadState(bag, "totp"))
}

func TestBaseFactor_Defaults(t *testing.T) {
	factor := NewBaseFactor("totp", factorSettingsWithThreshold(0))

	assert.True(t, factor.Enabled())
	assert.Equal(t, 0, factor.Weight())
	assert.True(t, factor.HasInput())
	// The lockable default tracks the input default: input factors lock.
	assert.Equal(t, factor.HasInput(), factor.Lockable())
	assert.True(t, factor.CheckCombination([]string{"totp", "device", "ipcheck"}))

	bag := session.NewMemoryBag()
	session.WriteState(bag, "totp", models.StatePass)
	states := factor.PossibleStates(context.Background(), "u1", bag)
	assert.Equal(t, []models.FactorState{models.StatePass}, states)
}

func TestAuditService_PersistFailureIsSwallowed(t *testing.T) {
	auditRepo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			return nil, errors.New("audit store down")
		},
	}
	svc := NewAuditService(auditRepo, slog.Default())

	// Must not panic or surface the failure.
	svc.LogFactorEvent(context.Background(), models.AuditEventFactorRevoke, "a", "t", "totp", "", nil)
}

func TestAuditService_GetUserAuditTrail_ClampsPaging(t *testing.T) {
	var gotLimit, gotOffset int
	auditRepo := &MockAuditLogRepository{
		GetByUserIDFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
			gotLimit, gotOffset = limit, offset
			return []*models.AuditLog{{EventType: models.AuditEventFactorSetup, CreatedAt: time.Now()}}, nil
		},
	}
	svc := NewAuditService(auditRepo, slog.Default())

	logs, err := svc.GetUserAuditTrail(context.Background(), "u1", 1000, -5)

	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 50, gotLimit)
	assert.Equal(t, 0, gotOffset)
}
