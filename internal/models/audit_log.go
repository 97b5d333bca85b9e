package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging
const (
	AuditEventFactorSetup  = "factor_setup"
	AuditEventFactorRevoke = "factor_revoke"
	AuditEventFactorDelete = "factor_delete"
	AuditEventFactorLocked = "factor_locked"
)

type AuditLog struct {
	ID            string        `db:"id"`
	EventType     string        `db:"event_type"`
	ActingUserID  string        `db:"acting_user_id"`
	TargetUserID  string        `db:"target_user_id"`
	FactorType    string        `db:"factor_type"`
	DisplayLabel  *string       `db:"display_label"`
	Success       bool          `db:"success"`
	FailureReason *string       `db:"failure_reason"`
	Metadata      AuditMetadata `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}
