package pool

import (
	"context"

	"github.com/google/uuid"
)

const (
	defaultPayoutLimit = 50
	maxPayoutLimit     = 200
)

// Store is the persistence contract. Every mutation is atomic with
// respect to a single user's pool row.
type Store interface {
	Lock(ctx context.Context, userID uuid.UUID, cents int64) error
	EmergencyUnlock(ctx context.Context, userID uuid.UUID, cents int64) error
	Settle(ctx context.Context, userID uuid.UUID, activityID string, cents int64) (SettleOutcome, int64, error)
	Snapshot(ctx context.Context, userID uuid.UUID) (Pool, error)
	ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Payout, error)
}

// Service validates inputs before delegating to the store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Lock(ctx context.Context, userID uuid.UUID, cents int64) error {
	if cents <= 0 {
		return ErrBadAmount
	}
	return s.store.Lock(ctx, userID, cents)
}

func (s *Service) EmergencyUnlock(ctx context.Context, userID uuid.UUID, cents int64) error {
	if cents <= 0 {
		return ErrBadAmount
	}
	return s.store.EmergencyUnlock(ctx, userID, cents)
}

func (s *Service) Settle(ctx context.Context, userID uuid.UUID, activityID string, cents int64) (SettleOutcome, int64, error) {
	if cents < 0 {
		return 0, 0, ErrBadAmount
	}
	return s.store.Settle(ctx, userID, activityID, cents)
}

func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (Pool, error) {
	return s.store.Snapshot(ctx, userID)
}

func (s *Service) ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Payout, error) {
	if limit <= 0 {
		limit = defaultPayoutLimit
	}
	if limit > maxPayoutLimit {
		limit = maxPayoutLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPayouts(ctx, userID, limit, offset)
}
