package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Lock adds cents to the pool and appends the LOCK transaction, both in
// one database transaction.
func (r *Repository) Lock(ctx context.Context, userID uuid.UUID, cents int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE money_pools SET cents_locked = cents_locked + $1 WHERE user_id = $2
	`, cents, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := appendTransaction(ctx, tx, userID, TxLock, cents, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EmergencyUnlock releases cents early, bounded by the lifetime limit.
// The preliminary read only classifies failures; the conditional UPDATE
// is the authoritative decision. Zero rows affected means another unlock
// won the race, and the operation fails even if the read looked fine.
func (r *Repository) EmergencyUnlock(ctx context.Context, userID uuid.UUID, cents int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := classifyUnlock(ctx, tx, userID, cents); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE money_pools
		SET cents_locked = cents_locked - $1, emergency_unlocks_used = emergency_unlocks_used + 1
		WHERE user_id = $2 AND emergency_unlocks_used < $3 AND cents_locked >= $1
	`, cents, userID, EmergencyUnlockLimit)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Lost a concurrent race; re-read for the accurate reason.
		if err := classifyUnlock(ctx, tx, userID, cents); err != nil {
			return err
		}
		return ErrInsufficient
	}
	if err := appendTransaction(ctx, tx, userID, TxEmergencyUnlock, cents, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func classifyUnlock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, cents int64) error {
	var locked int64
	var used int
	row := tx.QueryRow(ctx, `
		SELECT cents_locked, emergency_unlocks_used FROM money_pools WHERE user_id = $1
	`, userID)
	if err := row.Scan(&locked, &used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if used >= EmergencyUnlockLimit {
		return ErrLimitReached
	}
	if locked < cents {
		return ErrInsufficient
	}
	return nil
}

// Settle converts one activity into a balance debit, exactly once. The
// processed_activities insert is the idempotence gate: ON CONFLICT DO
// NOTHING affecting zero rows means this activity already settled, and
// nothing else happens. Otherwise the debit (capped at the balance), the
// payout row and the RUN_PAYOUT transaction commit together.
func (r *Repository) Settle(ctx context.Context, userID uuid.UUID, activityID string, cents int64) (SettleOutcome, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		INSERT INTO processed_activities (activity_id, user_id) VALUES ($1, $2)
		ON CONFLICT (activity_id) DO NOTHING
	`, activityID, userID)
	if err != nil {
		return 0, 0, err
	}
	if result.RowsAffected() == 0 {
		return SettleAlreadyProcessed, 0, nil
	}

	var locked int64
	hasPool := true
	row := tx.QueryRow(ctx, `
		SELECT cents_locked FROM money_pools WHERE user_id = $1 FOR UPDATE
	`, userID)
	if err := row.Scan(&locked); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, err
		}
		hasPool = false
	}

	debit := cents
	if debit > locked {
		debit = locked
	}
	if debit < 0 {
		debit = 0
	}
	if hasPool && debit > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE money_pools SET cents_locked = cents_locked - $1 WHERE user_id = $2
		`, debit, userID); err != nil {
			return 0, 0, err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payouts (id, user_id, activity_id, cents) VALUES ($1, $2, $3, $4)
	`, uuid.New(), userID, activityID, debit); err != nil {
		return 0, 0, err
	}
	meta := map[string]string{"activity_id": activityID}
	if err := appendTransaction(ctx, tx, userID, TxRunPayout, debit, meta); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return SettleApplied, debit, nil
}

// Snapshot returns the pool, or a zero-valued pool when the user has
// never synced one.
func (r *Repository) Snapshot(ctx context.Context, userID uuid.UUID) (Pool, error) {
	p := Pool{UserID: userID}
	row := r.db.QueryRow(ctx, `
		SELECT cents_locked, emergency_unlocks_used FROM money_pools WHERE user_id = $1
	`, userID)
	if err := row.Scan(&p.CentsLocked, &p.EmergencyUnlocksUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pool{UserID: userID}, nil
		}
		return Pool{}, err
	}
	return p, nil
}

// ListPayouts returns the user's payouts, newest first.
func (r *Repository) ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Payout, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, activity_id, cents, created_at FROM payouts
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		p := Payout{UserID: userID}
		if err := rows.Scan(&p.ID, &p.ActivityID, &p.Cents, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func appendTransaction(ctx context.Context, tx pgx.Tx, userID uuid.UUID, txType string, cents int64, meta map[string]string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO pool_transactions (id, user_id, type, cents, meta) VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, txType, cents, meta)
	if err != nil {
		return fmt.Errorf("append %s transaction: %w", txType, err)
	}
	return nil
}
