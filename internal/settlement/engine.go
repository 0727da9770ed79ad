package settlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/runlock/backend/internal/credentials"
	"github.com/runlock/backend/internal/obs"
	"github.com/runlock/backend/internal/pool"
	"github.com/runlock/backend/internal/strava"
)

const (
	metersPerMile = 1609.34
	// $1 per mile, capped at $5.
	maxPayoutCents = 500
	qualifyingType = "Run"
)

// CredentialSource supplies and refreshes the user's provider token.
type CredentialSource interface {
	EnsureValid(ctx context.Context, userID uuid.UUID) (credentials.Credential, error)
	Refresh(ctx context.Context, userID uuid.UUID, refreshToken string) (credentials.Credential, error)
}

// ActivityFetcher fetches activity details from the provider.
type ActivityFetcher interface {
	Activity(ctx context.Context, accessToken, activityID string) (strava.Activity, error)
}

// Ledger is the slice of the pool service the engine needs.
type Ledger interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (pool.Pool, error)
	Settle(ctx context.Context, userID uuid.UUID, activityID string, cents int64) (pool.SettleOutcome, int64, error)
}

// Engine converts "activity X happened for user U" into a ledger effect,
// exactly once. It is stateless; idempotence lives inside the atomic
// ledger settle.
type Engine struct {
	creds    CredentialSource
	provider ActivityFetcher
	ledger   Ledger
	log      *slog.Logger
}

func NewEngine(creds CredentialSource, provider ActivityFetcher, ledger Ledger, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{creds: creds, provider: provider, ledger: ledger, log: log}
}

// Settle runs the settlement algorithm for one activity. Expected aborts
// (no linked account, non-qualifying activity, duplicate delivery,
// provider flakiness past the single refresh retry) are logged and
// absorbed; only store failures propagate.
func (e *Engine) Settle(ctx context.Context, userID uuid.UUID, activityID string) error {
	cred, err := e.creds.EnsureValid(ctx, userID)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredential) {
			e.log.Debug("settlement skipped, no linked account", "user_id", userID, "activity_id", activityID)
			obs.Settlement("no_credential")
			return nil
		}
		return err
	}

	act, err := e.provider.Activity(ctx, cred.AccessToken, activityID)
	if errors.Is(err, strava.ErrUnauthorized) {
		// The token expired underneath us. Refresh once and retry once.
		cred, err = e.creds.Refresh(ctx, userID, cred.RefreshToken)
		if err != nil {
			e.log.Error("refresh after 401 failed", "user_id", userID, "activity_id", activityID, "error", err)
			obs.Settlement("refresh_failed")
			return nil
		}
		act, err = e.provider.Activity(ctx, cred.AccessToken, activityID)
	}
	if err != nil {
		e.log.Error("activity fetch failed", "user_id", userID, "activity_id", activityID, "error", err)
		obs.Settlement("fetch_failed")
		return nil
	}

	if act.Type != qualifyingType {
		e.log.Debug("activity does not qualify", "user_id", userID, "activity_id", activityID, "type", act.Type)
		obs.Settlement("not_qualifying")
		return nil
	}

	payout := int64(act.DistanceMeters / metersPerMile * 100)
	if payout > maxPayoutCents {
		payout = maxPayoutCents
	}
	if payout < 0 {
		payout = 0
	}

	snap, err := e.ledger.Snapshot(ctx, userID)
	if err != nil {
		return err
	}
	if payout > snap.CentsLocked {
		payout = snap.CentsLocked
	}

	outcome, debited, err := e.ledger.Settle(ctx, userID, activityID, payout)
	if err != nil {
		return err
	}
	if outcome == pool.SettleAlreadyProcessed {
		e.log.Info("duplicate settlement ignored", "user_id", userID, "activity_id", activityID)
		obs.Settlement("already_processed")
		return nil
	}
	e.log.Info("activity settled", "user_id", userID, "activity_id", activityID, "cents", debited)
	obs.Settlement("applied")
	return nil
}
