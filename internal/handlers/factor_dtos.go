package handlers

import (
	"time"

	"github.com/treyhollis/factorgate/internal/models"
)

// IssueChallengeRequest asks for a short-lived challenge token binding a
// user to a verification session.
type IssueChallengeRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	SessionID string `json:"session_id" validate:"required,min=8,max=128"`
}

type IssueChallengeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type EnrollTOTPRequest struct {
	Label       string `json:"label" validate:"required,min=1,max=100"`
	AccountName string `json:"account_name" validate:"required,min=3,max=255"`
}

type EnrollTOTPResponse struct {
	RecordID string `json:"record_id"`
	QRCode   string `json:"qr_code"` // data URL, PNG
}

type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=16"`
}

type VerifyCodeResponse struct {
	Verified          bool               `json:"verified"`
	State             models.FactorState `json:"state"`
	RemainingAttempts int                `json:"remaining_attempts,omitempty"`
}

type GenerateRecoveryCodesResponse struct {
	Codes []string `json:"codes"` // shown exactly once
}

type TrustDeviceRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,min=16,max=512"`
}

type EvaluateDeviceRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,min=16,max=512"`
}

type EvaluateResponse struct {
	State models.FactorState `json:"state"`
}

// FactorStatus is the per-type slice of the status report.
type FactorStatus struct {
	FactorType        string               `json:"factor_type"`
	Enabled           bool                 `json:"enabled"`
	Weight            int                  `json:"weight"`
	State             models.FactorState   `json:"state"`
	PossibleStates    []models.FactorState `json:"possible_states"`
	Locked            bool                 `json:"locked"`
	RemainingAttempts *int                 `json:"remaining_attempts,omitempty"` // lockable factors only
}

type StatusResponse struct {
	Factors []FactorStatus `json:"factors"`
}

type RevokeFactorRequest struct {
	RecordID *string `json:"record_id,omitempty" validate:"omitempty,uuid"`
}

type RevokeFactorResponse struct {
	Revoked bool `json:"revoked"`
}

type CancelResponse struct {
	State models.FactorState `json:"state"`
}

type CheckCombinationRequest struct {
	FactorTypes []string `json:"factor_types" validate:"required,min=1,dive,min=1,max=32"`
}

type CheckCombinationResponse struct {
	Allowed bool `json:"allowed"`
}

type AuditTrailResponse struct {
	Events []*models.AuditLog `json:"events"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}
