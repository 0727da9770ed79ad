package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runlock/backend/internal/strava"
)

// refreshWindow is how early a token is refreshed before its expiry.
const refreshWindow = 60 * time.Second

// Store is the persistence contract for one token triple per user.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (Credential, error)
	SetTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt int64) error
}

// TokenRefresher exchanges a refresh token with the provider.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (strava.Token, error)
}

type Service struct {
	store    Store
	provider TokenRefresher
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, provider TokenRefresher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, provider: provider, log: log, now: time.Now}
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	return s.store.Get(ctx, userID)
}

// EnsureValid returns a credential safe to use for a fetch, refreshing
// proactively when the stored expiry is inside the refresh window. A
// failed refresh is not fatal here: the stale triple is returned and the
// caller's 401-retry path gets a second chance.
func (s *Service) EnsureValid(ctx context.Context, userID uuid.UUID) (Credential, error) {
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	if cred.ExpiresAt > s.now().Add(refreshWindow).Unix() {
		return cred, nil
	}
	refreshed, err := s.Refresh(ctx, userID, cred.RefreshToken)
	if err != nil {
		s.log.Warn("token pre-refresh failed, using stale credential", "user_id", userID, "error", err)
		return cred, nil
	}
	return refreshed, nil
}

// Refresh exchanges the refresh token and persists the new triple over
// the old one.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID, refreshToken string) (Credential, error) {
	tok, err := s.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.store.SetTokens(ctx, userID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt); err != nil {
		return Credential{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	return Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}, nil
}
