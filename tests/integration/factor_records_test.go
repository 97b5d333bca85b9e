package integration

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treyhollis/factorgate/internal/models"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		// No docker available; unit tests still cover the logic
		os.Exit(0)
	}
	testDB = db

	code := m.Run()

	testDB.Teardown(ctx)
	os.Exit(code)
}

func TestFactorRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	record := &models.FactorRecord{
		UserID:             userID,
		FactorType:         "totp",
		Label:              "primary phone",
		CreatedFromAddress: "203.0.113.10",
		SecretEncrypted:    []byte("ciphertext"),
		SecretNonce:        []byte("nonce-bytes"),
	}
	require.NoError(t, records.Create(ctx, record))
	require.NotEmpty(t, record.ID)
	assert.False(t, record.Revoked)
	assert.Zero(t, record.LockCounter)

	got, err := records.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary phone", got.Label)
	assert.Equal(t, []byte("ciphertext"), got.SecretEncrypted)
	assert.Nil(t, got.LastVerifiedAt)

	// A second enrollment of the same type coexists with the first
	second := &models.FactorRecord{UserID: userID, FactorType: "totp", Label: "backup phone"}
	require.NoError(t, records.Create(ctx, second))

	all, err := records.ListAll(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Revoking one record leaves the other active
	ok, err := records.Revoke(ctx, userID, "totp", &second.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := records.ListActive(ctx, userID, "totp")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, record.ID, active[0].ID)

	// Revocation is idempotent
	ok, err = records.Revoke(ctx, userID, "totp", &second.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	// Another user cannot revoke without elevation
	ok, err = records.Revoke(ctx, uuid.NewString(), "totp", &record.ID, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// With elevation the revocation goes through
	ok, err = records.Revoke(ctx, uuid.NewString(), "totp", &record.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err = records.ListActive(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, records.Delete(ctx, userID, "totp"))
	all, err = records.ListAll(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRevoke_AllRecordsOfType(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	_, err := SeedFactorRecord(ctx, testDB.Pool, userID, "totp", "first")
	require.NoError(t, err)
	_, err = SeedFactorRecord(ctx, testDB.Pool, userID, "totp", "second")
	require.NoError(t, err)

	// No record ID targets every record of the type
	ok, err := records.Revoke(ctx, userID, "totp", nil, false)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := records.ListActive(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Empty(t, active)

	// Revoked rows stay visible to the full listing
	all, err := records.ListAll(ctx, userID, "totp")
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, record := range all {
		assert.True(t, record.Revoked)
	}
}

func TestRevoke_TargetedRecordMustMatchFactorType(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	deviceID, err := SeedFactorRecord(ctx, testDB.Pool, userID, "device", "laptop")
	require.NoError(t, err)

	// Addressing a device record through the totp path must not touch it,
	// even for the owner or an elevated caller
	ok, err := records.Revoke(ctx, userID, "totp", &deviceID, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = records.Revoke(ctx, uuid.NewString(), "totp", &deviceID, true)
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := records.ListActive(ctx, userID, "device")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.False(t, active[0].Revoked)

	// The matching type still revokes normally
	ok, err = records.Revoke(ctx, userID, "device", &deviceID, false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateLastVerified_TargetedRecordMustMatchFactorType(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	deviceID, err := SeedFactorRecord(ctx, testDB.Pool, userID, "device", "laptop")
	require.NoError(t, err)

	ok, err := records.UpdateLastVerified(ctx, userID, "totp", &deviceID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := records.GetByID(ctx, deviceID)
	require.NoError(t, err)
	assert.Nil(t, got.LastVerifiedAt)

	ok, err = records.UpdateLastVerified(ctx, userID, "device", &deviceID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = records.GetByID(ctx, deviceID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastVerifiedAt)
}

func TestLockCounterAggregatesAcrossRecords(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	firstID, err := SeedFactorRecord(ctx, testDB.Pool, userID, "totp", "first")
	require.NoError(t, err)
	_, err = SeedFactorRecord(ctx, testDB.Pool, userID, "totp", "second")
	require.NoError(t, err)

	counter, err := records.MaxLockCounter(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Zero(t, counter)

	require.NoError(t, records.SetLockCounter(ctx, userID, "totp", 2))

	counter, err = records.MaxLockCounter(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Equal(t, 2, counter)

	// Revoked records drop out of the aggregate
	ok, err := records.Revoke(ctx, userID, "totp", &firstID, false)
	require.NoError(t, err)
	require.True(t, ok)

	counter, err = records.MaxLockCounter(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Equal(t, 2, counter)

	// No active rows at all reads as zero, not an error
	require.NoError(t, records.Delete(ctx, userID, "totp"))
	counter, err = records.MaxLockCounter(ctx, userID, "totp")
	require.NoError(t, err)
	assert.Zero(t, counter)
}

func TestGetOrCreateSingleton_ConcurrentCallsCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	records, _ := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()

	const callers = 8
	created := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, wasCreated, err := records.GetOrCreateSingleton(ctx, userID, "device")
			assert.NoError(t, err)
			created[i] = wasCreated
		}(i)
	}
	wg.Wait()

	creations := 0
	for _, c := range created {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations)

	all, err := records.ListAll(ctx, userID, "device")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAuditLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	_, audit := InitializeRepositories(testDB.DB)
	userID := uuid.NewString()
	label := "primary phone"

	entry := &models.AuditLog{
		EventType:    models.AuditEventFactorSetup,
		ActingUserID: userID,
		TargetUserID: userID,
		FactorType:   "totp",
		DisplayLabel: &label,
		Success:      true,
		Metadata:     models.AuditMetadata{"source": "integration"},
	}
	created, err := audit.Create(ctx, entry)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	logs, err := audit.GetByUserID(ctx, userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditEventFactorSetup, logs[0].EventType)
	require.NotNil(t, logs[0].DisplayLabel)
	assert.Equal(t, "primary phone", *logs[0].DisplayLabel)
	assert.Equal(t, "integration", logs[0].Metadata["source"])

	count, err := audit.CountByUserID(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
