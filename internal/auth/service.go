package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/runlock/backend/internal/strava"
)

// ErrUnauthenticated is returned when no valid session can be resolved.
var ErrUnauthenticated = errors.New("no session")

const sessionTTL = 365 * 24 * time.Hour

// CodeExchanger completes the authorization-code grant with the provider.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (strava.Token, error)
}

// UserStore persists athlete-keyed users with their pool and credential
// rows.
type UserStore interface {
	UpsertAthlete(ctx context.Context, tok strava.Token) (uuid.UUID, error)
}

type Service struct {
	store    UserStore
	provider CodeExchanger
	secret   []byte
}

func NewService(store UserStore, provider CodeExchanger) *Service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "devsecret"
	}
	return &Service{store: store, provider: provider, secret: []byte(secret)}
}

// HandleCallback exchanges the authorization code and upserts the user,
// pool and credential rows. Returns the internal user id the session
// should be bound to.
func (s *Service) HandleCallback(ctx context.Context, code, redirectURI string) (uuid.UUID, error) {
	tok, err := s.provider.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token exchange: %w", err)
	}
	return s.store.UpsertAthlete(ctx, tok)
}

// IssueSession signs a session token for the user.
func (s *Service) IssueSession(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// ValidateSession parses a session token back into a user id.
func (s *Service) ValidateSession(token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}
