package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeResolver struct {
	byAthlete map[int64]uuid.UUID
}

func (f *fakeResolver) UserIDByAthlete(_ context.Context, athleteID int64) (uuid.UUID, bool, error) {
	id, ok := f.byAthlete[athleteID]
	return id, ok, nil
}

type dispatchRec struct {
	userID     uuid.UUID
	activityID string
}

type recorder struct {
	mu    sync.Mutex
	calls []dispatchRec
}

func (r *recorder) dispatch(_ context.Context, userID uuid.UUID, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatchRec{userID: userID, activityID: activityID})
	return nil
}

func newTestHandler(resolver *fakeResolver, rec *recorder, signingSecret string) *Handler {
	return NewHandler(resolver, rec.dispatch, nil, "verify-me", signingSecret, nil)
}

func TestVerifyChallenge(t *testing.T) {
	h := newTestHandler(&fakeResolver{}, &recorder{}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/strava/webhook?hub.challenge=abc&hub.verify_token=verify-me", nil)
	w := httptest.NewRecorder()
	h.Verify(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"hub.challenge":"abc"`) {
		t.Errorf("challenge not echoed: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/strava/webhook?hub.challenge=abc&hub.verify_token=wrong", nil)
	w = httptest.NewRecorder()
	h.Verify(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token status: %d, want 403", w.Code)
	}
}

func postEvent(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/strava/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Receive(w, req)
	return w
}

// Structurally invalid payloads are acknowledged, never rejected: the
// sender must not redeliver something that will never map to a user.
func TestReceiveSwallowsInvalidPayloads(t *testing.T) {
	rec := &recorder{}
	h := newTestHandler(&fakeResolver{}, rec, "")

	for _, body := range []string{
		`not json at all`,
		`{}`,
		`{"object_type":"segment","aspect_type":"create","owner_id":1,"object_id":1}`,
	} {
		w := postEvent(t, h, body)
		if w.Code != http.StatusOK {
			t.Errorf("body %q: status %d, want 200", body, w.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Errorf("invalid payloads dispatched: %v", rec.calls)
	}
}

func TestReceiveIgnoresNonActivityEvents(t *testing.T) {
	user := uuid.New()
	rec := &recorder{}
	h := newTestHandler(&fakeResolver{byAthlete: map[int64]uuid.UUID{10: user}}, rec, "")

	for _, body := range []string{
		`{"object_type":"athlete","aspect_type":"update","owner_id":10,"object_id":10}`,
		`{"object_type":"activity","aspect_type":"delete","owner_id":10,"object_id":55}`,
	} {
		w := postEvent(t, h, body)
		if w.Code != http.StatusOK {
			t.Errorf("status: %d", w.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Errorf("non-qualifying events dispatched: %v", rec.calls)
	}
}

func TestReceiveUnknownOwnerSwallowed(t *testing.T) {
	rec := &recorder{}
	h := newTestHandler(&fakeResolver{byAthlete: map[int64]uuid.UUID{}}, rec, "")

	w := postEvent(t, h, `{"object_type":"activity","aspect_type":"create","owner_id":99,"object_id":55}`)
	if w.Code != http.StatusOK {
		t.Errorf("status: %d, want 200", w.Code)
	}
	if len(rec.calls) != 0 {
		t.Error("dispatched for an unmapped athlete")
	}
}

func TestReceiveDispatchesActivityCreateAndUpdate(t *testing.T) {
	user := uuid.New()
	rec := &recorder{}
	h := newTestHandler(&fakeResolver{byAthlete: map[int64]uuid.UUID{10: user}}, rec, "")

	postEvent(t, h, `{"object_type":"activity","aspect_type":"create","owner_id":10,"object_id":1360128428}`)
	postEvent(t, h, `{"object_type":"activity","aspect_type":"update","owner_id":10,"object_id":1360128429}`)

	if len(rec.calls) != 2 {
		t.Fatalf("dispatch calls: got %d, want 2", len(rec.calls))
	}
	if rec.calls[0].userID != user || rec.calls[0].activityID != "1360128428" {
		t.Errorf("first dispatch: %+v", rec.calls[0])
	}
	if rec.calls[1].activityID != "1360128429" {
		t.Errorf("second dispatch: %+v", rec.calls[1])
	}
}

func TestReceiveSignatureCheck(t *testing.T) {
	user := uuid.New()
	rec := &recorder{}
	const secret = "sekrit"
	h := newTestHandler(&fakeResolver{byAthlete: map[int64]uuid.UUID{10: user}}, rec, secret)

	body := `{"object_type":"activity","aspect_type":"create","owner_id":10,"object_id":55}`

	// Wrong signature: swallowed, not dispatched.
	req := httptest.NewRequest(http.MethodPost, "/api/strava/webhook", strings.NewReader(body))
	req.Header.Set("X-Strava-Signature", "deadbeef")
	w := httptest.NewRecorder()
	h.Receive(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status: %d, want 200", w.Code)
	}
	if len(rec.calls) != 0 {
		t.Error("dispatched despite a bad signature")
	}

	// Correct signature passes.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	req = httptest.NewRequest(http.MethodPost, "/api/strava/webhook", strings.NewReader(body))
	req.Header.Set("X-Strava-Signature", hex.EncodeToString(mac.Sum(nil)))
	w = httptest.NewRecorder()
	h.Receive(w, req)
	if len(rec.calls) != 1 {
		t.Errorf("signed payload not dispatched: %v", rec.calls)
	}
}
