package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/runlock/backend/internal/obs"
	"github.com/runlock/backend/internal/strava"
)

// UserResolver maps a provider athlete id to an internal user.
type UserResolver interface {
	UserIDByAthlete(ctx context.Context, athleteID int64) (uuid.UUID, bool, error)
}

// DispatchFunc hands a settlement off to the background queue. The
// acknowledgement to the sender never waits on settlement completion.
type DispatchFunc func(ctx context.Context, userID uuid.UUID, activityID string) error

// SubscriptionLister exposes the provider's push-subscription listing.
type SubscriptionLister interface {
	Subscriptions(ctx context.Context) ([]strava.Subscription, error)
}

// Handler ingests provider notifications. Structurally invalid payloads
// are acknowledged with a 200: the sender must never be told to retry a
// payload that will never map to a user or never qualify.
type Handler struct {
	users         UserResolver
	dispatch      DispatchFunc
	subs          SubscriptionLister
	verifyToken   string
	signingSecret string
	log           *slog.Logger
}

func NewHandler(users UserResolver, dispatch DispatchFunc, subs SubscriptionLister, verifyToken, signingSecret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		users:         users,
		dispatch:      dispatch,
		subs:          subs,
		verifyToken:   verifyToken,
		signingSecret: signingSecret,
		log:           log,
	}
}

// Verify answers the provider's subscription validation GET.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "bad token", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

// Receive handles a notification POST.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.log.Warn("webhook body read failed", "error", err)
		h.ack(w, "read_failed")
		return
	}

	if h.signingSecret != "" && !h.validSignature(body, r.Header.Get("X-Strava-Signature")) {
		h.log.Warn("webhook signature mismatch")
		h.ack(w, "bad_signature")
		return
	}

	evt, ok := strava.ParseEvent(body)
	if !ok {
		h.log.Warn("webhook payload failed validation", "body_len", len(body))
		h.ack(w, "invalid")
		return
	}

	if evt.ObjectType != "activity" || (evt.AspectType != "create" && evt.AspectType != "update") {
		h.ack(w, "ignored")
		return
	}

	userID, found, err := h.users.UserIDByAthlete(r.Context(), evt.OwnerID)
	if err != nil {
		h.log.Error("athlete lookup failed", "owner_id", evt.OwnerID, "error", err)
		h.ack(w, "lookup_failed")
		return
	}
	if !found {
		h.log.Warn("no user for athlete", "owner_id", evt.OwnerID)
		h.ack(w, "no_user")
		return
	}

	activityID := strava.ActivityIDString(evt.ObjectID)
	if err := h.dispatch(r.Context(), userID, activityID); err != nil {
		h.log.Error("settlement dispatch failed", "user_id", userID, "activity_id", activityID, "error", err)
		h.ack(w, "dispatch_failed")
		return
	}
	h.ack(w, "dispatched")
}

// ListSubscriptions is a passthrough to the provider's subscription list.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.Subscriptions(r.Context())
	if err != nil {
		h.log.Error("list subscriptions failed", "error", err)
		http.Error(w, "provider unavailable", http.StatusBadGateway)
		return
	}
	type item struct {
		ID          int64  `json:"id"`
		CallbackURL string `json:"callback_url,omitempty"`
	}
	out := make([]item, 0, len(subs))
	for _, s := range subs {
		out = append(out, item{ID: s.ID, CallbackURL: s.CallbackURL})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) ack(w http.ResponseWriter, outcome string) {
	obs.WebhookEvent(outcome)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) validSignature(body []byte, header string) bool {
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
