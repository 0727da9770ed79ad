package router

import (
	"net/http"

	"github.com/runlock/backend/internal/auth"
	"github.com/runlock/backend/internal/obs"
	"github.com/runlock/backend/internal/pool"
	"github.com/runlock/backend/internal/webhook"
)

// New returns the API handler. Session-protected routes go through the
// given middleware; webhook and auth routes stay unauthenticated.
func New(authHandler *auth.Handler, poolHandler *pool.Handler, webhookHandler *webhook.Handler, session func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/strava/start", methodGET(authHandler.Start))
	mux.HandleFunc("/api/auth/strava/callback", methodGET(authHandler.Callback))
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)

	mux.Handle("/api/me", session(methodGET(poolHandler.Me)))
	mux.Handle("/api/payouts", session(methodGET(poolHandler.ListPayouts)))
	mux.Handle("/api/pool/lock", session(methodPOST(poolHandler.Lock)))
	mux.Handle("/api/pool/emergency-unlock", session(methodPOST(poolHandler.EmergencyUnlock)))

	mux.HandleFunc("/api/strava/webhook", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			webhookHandler.Verify(w, r)
		case http.MethodPost:
			webhookHandler.Receive(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/strava/webhook/subscriptions", methodGET(webhookHandler.ListSubscriptions))

	mux.Handle("/metrics", obs.Handler())

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
