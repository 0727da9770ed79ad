package credentials

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoCredential means the user has never linked a provider account.
var ErrNoCredential = errors.New("no credential for user")

// Credential is one user's OAuth token triple. ExpiresAt is epoch
// seconds, as last reported by the provider.
type Credential struct {
	UserID       uuid.UUID
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	c := Credential{UserID: userID}
	row := r.db.QueryRow(ctx, `
		SELECT athlete_id, access_token, refresh_token, expires_at
		FROM strava_credentials WHERE user_id = $1
	`, userID)
	if err := row.Scan(&c.AthleteID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, err
	}
	return c, nil
}

// SetTokens overwrites the stored triple. No history is kept.
func (r *Repository) SetTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt int64) error {
	result, err := r.db.Exec(ctx, `
		UPDATE strava_credentials
		SET access_token = $1, refresh_token = $2, expires_at = $3
		WHERE user_id = $4
	`, accessToken, refreshToken, expiresAt, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNoCredential
	}
	return nil
}
