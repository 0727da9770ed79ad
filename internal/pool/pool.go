package pool

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EmergencyUnlockLimit is the lifetime cap on emergency unlocks per user.
const EmergencyUnlockLimit = 3

// Transaction types recorded in the append-only pool_transactions log.
const (
	TxLock            = "LOCK"
	TxEmergencyUnlock = "EMERGENCY_UNLOCK"
	TxRunPayout       = "RUN_PAYOUT"
)

var (
	// ErrNotFound means the user has no pool row.
	ErrNotFound = errors.New("pool not found")
	// ErrLimitReached means all emergency unlocks are spent.
	ErrLimitReached = errors.New("emergency unlock limit reached")
	// ErrInsufficient means the pool holds less than the requested cents.
	ErrInsufficient = errors.New("insufficient locked funds")
	// ErrBadAmount means the requested cents are not a positive amount.
	ErrBadAmount = errors.New("cents must be positive")
)

// Pool is one user's locked-funds account.
type Pool struct {
	UserID               uuid.UUID
	CentsLocked          int64
	EmergencyUnlocksUsed int
}

// Payout records the cents actually debited for one settled activity.
type Payout struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ActivityID string
	Cents      int64
	CreatedAt  time.Time
}

// SettleOutcome reports whether a settle call applied or hit the
// idempotent-replay gate.
type SettleOutcome int

const (
	SettleApplied SettleOutcome = iota
	SettleAlreadyProcessed
)
