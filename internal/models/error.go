package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Factor state errors
	ErrFactorLocked     = errors.New("factor is temporarily locked")
	ErrFactorRevoked    = errors.New("factor record is revoked")
	ErrFactorDisabled   = errors.New("factor type is not enabled")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrChallengeExpired = errors.New("verification challenge expired")
)
