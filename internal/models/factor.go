package models

import (
	"time"
)

// FactorState is the per-session verification state of one factor type.
type FactorState string

const (
	StateUnknown FactorState = "unknown"
	StateNeutral FactorState = "neutral"
	StatePass    FactorState = "pass"
	StateFail    FactorState = "fail"
	StateLocked  FactorState = "locked"
)

// LockCounterUnavailable marks a lock counter that could not be read from
// storage (e.g. the column is missing mid-migration). It must never be
// treated as a real count; every consumer branches on it explicitly.
const LockCounterUnavailable = -1

// FactorRecord is one stored enrollment/attempt instance of a factor for a user.
type FactorRecord struct {
	ID                 string
	UserID             string
	FactorType         string
	Label              string
	CreatedFromAddress string
	SecretEncrypted    []byte     // AES-256-GCM encrypted factor secret, nil for secretless types
	SecretNonce        []byte     // GCM nonce (12 bytes)
	CodeHashes         []string   // bcrypt hashes of recovery codes, nil for other types
	LockCounter        int        // consecutive failures since last reset; LockCounterUnavailable when unreadable
	Revoked            bool       // monotonic: false -> true only
	LastVerifiedAt     *time.Time // nil until the first successful pass
	CreatedAt          time.Time
	ModifiedAt         time.Time
}

// IsActive reports whether the record is still usable for verification.
func (r *FactorRecord) IsActive() bool {
	return !r.Revoked
}

// LockStatus is the derived lockout view for one (user, factorType).
type LockStatus struct {
	Counter int
	Locked  bool
}

// Unavailable reports whether the underlying counter could not be read.
func (ls LockStatus) Unavailable() bool {
	return ls.Counter == LockCounterUnavailable
}
