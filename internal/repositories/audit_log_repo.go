package repositories

import (
	"context"
	"fmt"

	"github.com/treyhollis/factorgate/internal/database"
	"github.com/treyhollis/factorgate/internal/models"
)

// AuditLogRepository defines audit log persistence operations
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
	CountByUserID(ctx context.Context, userID string) (int64, error)
}

// auditLogRepoImpl implements AuditLogRepository
type auditLogRepoImpl struct {
	db *database.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *database.DB) AuditLogRepository {
	return &auditLogRepoImpl{db: db}
}

// Create inserts an audit log entry
func (r *auditLogRepoImpl) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs
			(event_type, acting_user_id, target_user_id, factor_type, display_label, success, failure_reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		log.EventType,
		log.ActingUserID,
		log.TargetUserID,
		log.FactorType,
		log.DisplayLabel,
		log.Success,
		log.FailureReason,
		log.Metadata,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}

	return log, nil
}

// GetByUserID retrieves audit logs where the user is the target, newest first
func (r *auditLogRepoImpl) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, acting_user_id, target_user_id, factor_type,
		       display_label, success, failure_reason, metadata, created_at
		FROM audit_logs
		WHERE target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		if err := rows.Scan(
			&log.ID,
			&log.EventType,
			&log.ActingUserID,
			&log.TargetUserID,
			&log.FactorType,
			&log.DisplayLabel,
			&log.Success,
			&log.FailureReason,
			&log.Metadata,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

// CountByUserID returns the number of audit logs targeting a user
func (r *auditLogRepoImpl) CountByUserID(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE target_user_id = $1`

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return count, nil
}
