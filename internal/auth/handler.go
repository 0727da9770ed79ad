package auth

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type Handler struct {
	svc         *Service
	clientID    string
	appBaseURL  string
	frontendURL string
	onLogin     func()
	log         *slog.Logger
}

// NewHandler wires the OAuth routes. onLogin, when non-nil, runs after a
// successful callback (used to kick webhook-subscription reconciliation)
// and must not block.
func NewHandler(svc *Service, clientID, appBaseURL, frontendURL string, onLogin func(), log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:         svc,
		clientID:    clientID,
		appBaseURL:  appBaseURL,
		frontendURL: frontendURL,
		onLogin:     onLogin,
		log:         log,
	}
}

func (h *Handler) redirectURI() string {
	return h.appBaseURL + "/api/auth/strava/callback"
}

// Start sends the browser to the provider's authorize page.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	q := url.Values{
		"client_id":       {h.clientID},
		"response_type":   {"code"},
		"redirect_uri":    {h.redirectURI()},
		"scope":           {"read,activity:read_all"},
		"approval_prompt": {"auto"},
	}
	http.Redirect(w, r, "https://www.strava.com/oauth/authorize?"+q.Encode(), http.StatusFound)
}

// Callback completes the grant, creates the user on first authorization
// and sets the session cookie.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	userID, err := h.svc.HandleCallback(r.Context(), code, h.redirectURI())
	if err != nil {
		h.log.Error("oauth callback failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	session, err := h.svc.IssueSession(userID)
	if err != nil {
		h.log.Error("session issue failed", "error", err)
		http.Error(w, "session failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	if h.onLogin != nil {
		h.onLogin()
	}
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

// Logout expires the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}
