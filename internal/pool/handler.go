package pool

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/runlock/backend/internal/auth"
)

// Request/response bodies use snake_case JSON, matching the frontend.

type amountRequest struct {
	Cents int64 `json:"cents"`
}

type poolResponse struct {
	CentsLocked          int64 `json:"cents_locked"`
	EmergencyUnlocksUsed int   `json:"emergency_unlocks_used"`
}

type payoutItem struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id"`
	Cents      int64  `json:"cents"`
}

type payoutsResponse struct {
	Items  []payoutItem `json:"items"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Me returns the caller's pool snapshot; never-synced users get zeros.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	p, err := h.svc.Snapshot(r.Context(), userID)
	if err != nil {
		h.log.Error("snapshot failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, poolResponse{CentsLocked: p.CentsLocked, EmergencyUnlocksUsed: p.EmergencyUnlocksUsed})
}

// ListPayouts returns the caller's payouts, newest first.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultPayoutLimit
	}
	if limit > maxPayoutLimit {
		limit = maxPayoutLimit
	}
	if offset < 0 {
		offset = 0
	}
	payouts, err := h.svc.ListPayouts(r.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("list payouts failed", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	items := make([]payoutItem, 0, len(payouts))
	for _, p := range payouts {
		items = append(items, payoutItem{ID: p.ID.String(), ActivityID: p.ActivityID, Cents: p.Cents})
	}
	writeJSON(w, payoutsResponse{Items: items, Limit: limit, Offset: offset})
}

// Lock adds cents to the caller's pool.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.svc.Lock(r.Context(), userID, req.Cents); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"locked_cents": req.Cents})
}

// EmergencyUnlock releases cents early, subject to the lifetime limit.
func (h *Handler) EmergencyUnlock(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserFromCtx(r.Context())
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.svc.EmergencyUnlock(r.Context(), userID, req.Cents); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"unlocked_cents": req.Cents})
}

// writeLedgerError maps store outcomes to distinct, stable statuses so a
// client can tell "out of unlocks" from "not enough balance".
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadAmount):
		http.Error(w, "cents must be positive", http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrLimitReached):
		http.Error(w, "limit reached", http.StatusForbidden)
	case errors.Is(err, ErrInsufficient):
		http.Error(w, "insufficient", http.StatusBadRequest)
	default:
		h.log.Error("pool operation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
