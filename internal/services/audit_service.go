package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/treyhollis/factorgate/internal/models"
	"github.com/treyhollis/factorgate/internal/repositories"
)

// AuditService is the append-only audit sink, dual-writing slog + database.
// Emission is fire-and-forget: a failed persist is logged and swallowed, it
// never rolls back the data mutation it describes.
type AuditService struct {
	repo   repositories.AuditLogRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo repositories.AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// LogFactorEvent records a factor lifecycle event (setup, revoke, delete, lock).
func (s *AuditService) LogFactorEvent(ctx context.Context, eventType, actingUserID, targetUserID, factorType string, displayLabel string, metadata models.AuditMetadata) {
	log := &models.AuditLog{
		EventType:    eventType,
		ActingUserID: actingUserID,
		TargetUserID: targetUserID,
		FactorType:   factorType,
		Success:      true,
		Metadata:     metadata,
	}
	if displayLabel != "" {
		log.DisplayLabel = &displayLabel
	}

	// Dual-write: immediate slog output
	s.logger.InfoContext(ctx, "factor audit event",
		slog.String("event_type", eventType),
		slog.String("acting_user_id", actingUserID),
		slog.String("target_user_id", targetUserID),
		slog.String("factor_type", factorType),
		slog.Any("metadata", metadata),
	)

	if _, err := s.repo.Create(ctx, log); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
	}
}

// GetUserAuditTrail retrieves the audit trail for a user, newest first.
func (s *AuditService) GetUserAuditTrail(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user audit trail: %w", err)
	}

	return logs, nil
}

// GetCountForUser returns the count of audit logs for a user
func (s *AuditService) GetCountForUser(ctx context.Context, userID string) (int64, error) {
	count, err := s.repo.CountByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}
