package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runlock/backend/internal/strava"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// UpsertAthlete resolves the athlete to an existing user or creates one,
// ensures the pool row exists, and replaces the stored credential triple.
// All of it commits as one transaction so a user never exists without a
// pool or credential.
func (r *Repository) UpsertAthlete(ctx context.Context, tok strava.Token) (uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	row := tx.QueryRow(ctx, `SELECT id FROM users WHERE strava_athlete_id = $1`, tok.AthleteID)
	if err := row.Scan(&userID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, err
		}
		userID = uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, strava_athlete_id) VALUES ($1, $2)
		`, userID, tok.AthleteID); err != nil {
			return uuid.Nil, err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO money_pools (user_id, cents_locked, emergency_unlocks_used)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return uuid.Nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO strava_credentials (user_id, athlete_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at
	`, userID, tok.AthleteID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

// UserIDByAthlete maps a provider athlete id to the internal user id.
// The second return reports whether a mapping exists.
func (r *Repository) UserIDByAthlete(ctx context.Context, athleteID int64) (uuid.UUID, bool, error) {
	var userID uuid.UUID
	row := r.db.QueryRow(ctx, `SELECT id FROM users WHERE strava_athlete_id = $1`, athleteID)
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return userID, true, nil
}
