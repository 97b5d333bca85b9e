package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"github.com/treyhollis/factorgate/internal/database"
	"github.com/treyhollis/factorgate/internal/models"
)

// FactorRecordRepository defines factor record persistence operations.
// Records are keyed by (userID, factorType, id); revocation is monotonic.
type FactorRecordRepository interface {
	Create(ctx context.Context, record *models.FactorRecord) error
	GetByID(ctx context.Context, recordID string) (*models.FactorRecord, error)
	ListAll(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error)
	ListActive(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error)
	GetOrCreateSingleton(ctx context.Context, userID, factorType string) ([]models.FactorRecord, bool, error)
	Revoke(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error)
	UpdateLastVerified(ctx context.Context, userID, factorType string, recordID *string) (bool, error)
	Delete(ctx context.Context, userID, factorType string) error
	SetLabel(ctx context.Context, recordID, label string) error
	GetLabel(ctx context.Context, recordID string) (string, error)
	SetCodeHashes(ctx context.Context, recordID string, hashes []string) error
	MaxLockCounter(ctx context.Context, userID, factorType string) (int, error)
	SetLockCounter(ctx context.Context, userID, factorType string, counter int) error
}

// factorRecordRepoImpl implements FactorRecordRepository on PostgreSQL.
type factorRecordRepoImpl struct {
	db *database.DB
}

// NewFactorRecordRepository creates a new factor record repository
func NewFactorRecordRepository(db *database.DB) FactorRecordRepository {
	return &factorRecordRepoImpl{db: db}
}

const factorRecordColumns = `
	id, user_id, factor_type, label, created_from_address,
	secret_encrypted, secret_nonce, code_hashes, lock_counter, revoked,
	last_verified_at, created_at, modified_at
`

func scanFactorRecord(row pgx.Row) (*models.FactorRecord, error) {
	record := &models.FactorRecord{}
	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.FactorType,
		&record.Label,
		&record.CreatedFromAddress,
		&record.SecretEncrypted,
		&record.SecretNonce,
		pq.Array(&record.CodeHashes),
		&record.LockCounter,
		&record.Revoked,
		&record.LastVerifiedAt,
		&record.CreatedAt,
		&record.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create inserts a new factor record
func (r *factorRecordRepoImpl) Create(ctx context.Context, record *models.FactorRecord) error {
	query := `
		INSERT INTO factor_records
			(user_id, factor_type, label, created_from_address, secret_encrypted, secret_nonce, code_hashes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, lock_counter, revoked, created_at, modified_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		record.UserID,
		record.FactorType,
		record.Label,
		record.CreatedFromAddress,
		record.SecretEncrypted,
		record.SecretNonce,
		pq.Array(record.CodeHashes),
	).Scan(&record.ID, &record.LockCounter, &record.Revoked, &record.CreatedAt, &record.ModifiedAt)

	if err != nil {
		return fmt.Errorf("failed to create factor record: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetByID retrieves a factor record by ID
func (r *factorRecordRepoImpl) GetByID(ctx context.Context, recordID string) (*models.FactorRecord, error) {
	query := `SELECT ` + factorRecordColumns + ` FROM factor_records WHERE id = $1`

	record, err := scanFactorRecord(r.db.Pool.QueryRow(ctx, query, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get factor record: %w", err)
	}

	return record, nil
}

// ListAll retrieves every record for (userID, factorType), revoked included.
func (r *factorRecordRepoImpl) ListAll(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error) {
	query := `
		SELECT ` + factorRecordColumns + `
		FROM factor_records
		WHERE user_id = $1 AND factor_type = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, factorType)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor records: %w", err)
	}
	defer rows.Close()

	var records []models.FactorRecord
	for rows.Next() {
		record, err := scanFactorRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating factor records: %w", err)
	}

	return records, nil
}

// ListActive is ListAll filtered to non-revoked records. It is deliberately
// a pure filter over ListAll rather than a second query so the two views
// cannot diverge.
func (r *factorRecordRepoImpl) ListActive(ctx context.Context, userID, factorType string) ([]models.FactorRecord, error) {
	all, err := r.ListAll(ctx, userID, factorType)
	if err != nil {
		return nil, err
	}

	active := make([]models.FactorRecord, 0, len(all))
	for _, record := range all {
		if record.IsActive() {
			active = append(active, record)
		}
	}
	return active, nil
}

// GetOrCreateSingleton returns the existing rows for (userID, factorType),
// or atomically creates exactly one fresh record when none exist. The second
// return value reports whether a record was created.
//
// The insert-if-absent runs under a per-(user, factorType) advisory lock so
// two racing first-time setups cannot both insert; a table-level unique
// constraint cannot serve here because non-singleton factor types share the
// same table.
func (r *factorRecordRepoImpl) GetOrCreateSingleton(ctx context.Context, userID, factorType string) ([]models.FactorRecord, bool, error) {
	var (
		records []models.FactorRecord
		created bool
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`,
			userID, factorType,
		); err != nil {
			return fmt.Errorf("failed to take singleton lock: %w", err)
		}

		query := `
			SELECT ` + factorRecordColumns + `
			FROM factor_records
			WHERE user_id = $1 AND factor_type = $2
			ORDER BY created_at DESC
		`
		rows, err := tx.Query(ctx, query, userID, factorType)
		if err != nil {
			return fmt.Errorf("failed to query factor records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanFactorRecord(rows)
			if err != nil {
				return fmt.Errorf("failed to scan factor record: %w", err)
			}
			records = append(records, *record)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating factor records: %w", err)
		}

		if len(records) > 0 {
			return nil
		}

		insert := `
			INSERT INTO factor_records (user_id, factor_type)
			VALUES ($1, $2)
			RETURNING ` + factorRecordColumns + `
		`
		record, err := scanFactorRecord(tx.QueryRow(ctx, insert, userID, factorType))
		if err != nil {
			return fmt.Errorf("failed to create singleton factor record: %w", database.MapPostgresError(err))
		}

		records = append(records, *record)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return records, created, nil
}

// Revoke marks records revoked. With a recordID it targets that record after
// an ownership check (or elevated privilege); without one it revokes every
// record of the factor type for the user. It is idempotent: revoking an
// already-revoked record reports success. Ownership and not-found failures
// are boolean, storage failures propagate.
func (r *factorRecordRepoImpl) Revoke(ctx context.Context, userID, factorType string, recordID *string, elevated bool) (bool, error) {
	if recordID == nil {
		query := `
			UPDATE factor_records
			SET revoked = true, modified_at = NOW()
			WHERE user_id = $1 AND factor_type = $2
		`
		if _, err := r.db.Pool.Exec(ctx, query, userID, factorType); err != nil {
			return false, fmt.Errorf("failed to revoke factor records: %w", err)
		}
		return true, nil
	}

	record, err := r.GetByID(ctx, *recordID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	// The record must belong to the addressed factor type; a revoke routed
	// through the wrong type's path must not touch it.
	if record.FactorType != factorType {
		return false, nil
	}
	if record.UserID != userID && !elevated {
		return false, nil
	}
	if record.Revoked {
		return true, nil
	}

	query := `UPDATE factor_records SET revoked = true, modified_at = NOW() WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, *recordID); err != nil {
		return false, fmt.Errorf("failed to revoke factor record: %w", err)
	}

	return true, nil
}

// UpdateLastVerified stamps last_verified_at = now on the targeted record(s),
// following the same targeting rule as Revoke.
func (r *factorRecordRepoImpl) UpdateLastVerified(ctx context.Context, userID, factorType string, recordID *string) (bool, error) {
	if recordID == nil {
		query := `
			UPDATE factor_records
			SET last_verified_at = NOW(), modified_at = NOW()
			WHERE user_id = $1 AND factor_type = $2 AND revoked = false
		`
		if _, err := r.db.Pool.Exec(ctx, query, userID, factorType); err != nil {
			return false, fmt.Errorf("failed to update last verified: %w", err)
		}
		return true, nil
	}

	query := `
		UPDATE factor_records
		SET last_verified_at = NOW(), modified_at = NOW()
		WHERE id = $1 AND user_id = $2 AND factor_type = $3
	`
	tag, err := r.db.Pool.Exec(ctx, query, *recordID, userID, factorType)
	if err != nil {
		return false, fmt.Errorf("failed to update last verified: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Delete hard-deletes all records for (userID, factorType).
func (r *factorRecordRepoImpl) Delete(ctx context.Context, userID, factorType string) error {
	query := `DELETE FROM factor_records WHERE user_id = $1 AND factor_type = $2`

	if _, err := r.db.Pool.Exec(ctx, query, userID, factorType); err != nil {
		return fmt.Errorf("failed to delete factor records: %w", err)
	}

	return nil
}

// SetLabel updates the informational label of a record
func (r *factorRecordRepoImpl) SetLabel(ctx context.Context, recordID, label string) error {
	query := `UPDATE factor_records SET label = $1, modified_at = NOW() WHERE id = $2`

	tag, err := r.db.Pool.Exec(ctx, query, label, recordID)
	if err != nil {
		return fmt.Errorf("failed to set label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetLabel returns the informational label of a record
func (r *factorRecordRepoImpl) GetLabel(ctx context.Context, recordID string) (string, error) {
	query := `SELECT label FROM factor_records WHERE id = $1`

	var label string
	err := r.db.Pool.QueryRow(ctx, query, recordID).Scan(&label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("failed to get label: %w", err)
	}

	return label, nil
}

// SetCodeHashes replaces the stored recovery code hashes on a record
func (r *factorRecordRepoImpl) SetCodeHashes(ctx context.Context, recordID string, hashes []string) error {
	query := `UPDATE factor_records SET code_hashes = $1, modified_at = NOW() WHERE id = $2`

	tag, err := r.db.Pool.Exec(ctx, query, pq.Array(hashes), recordID)
	if err != nil {
		return fmt.Errorf("failed to set code hashes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// MaxLockCounter returns the highest lock_counter across the user's
// non-revoked records of the factor type. Aggregating over all records stops
// an attacker from resetting the budget by switching between enrolled
// instances of the same type. No rows yields 0.
func (r *factorRecordRepoImpl) MaxLockCounter(ctx context.Context, userID, factorType string) (int, error) {
	query := `
		SELECT COALESCE(MAX(lock_counter), 0)
		FROM factor_records
		WHERE user_id = $1 AND factor_type = $2 AND revoked = false
	`

	var counter int
	err := r.db.Pool.QueryRow(ctx, query, userID, factorType).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to read lock counter: %w", err)
	}

	return counter, nil
}

// SetLockCounter writes the counter to every non-revoked record of the
// factor type. Each call issues its own persisted write.
func (r *factorRecordRepoImpl) SetLockCounter(ctx context.Context, userID, factorType string, counter int) error {
	query := `
		UPDATE factor_records
		SET lock_counter = $3, modified_at = NOW()
		WHERE user_id = $1 AND factor_type = $2 AND revoked = false
	`

	if _, err := r.db.Pool.Exec(ctx, query, userID, factorType, counter); err != nil {
		return fmt.Errorf("failed to set lock counter: %w", err)
	}

	return nil
}
