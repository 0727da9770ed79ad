package strava

import (
	"encoding/json"
	"strconv"
)

// Token is the triple the OAuth token endpoint returns, plus the athlete
// the grant belongs to. ExpiresAt is epoch seconds as reported by Strava.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	AthleteID    int64
}

// Activity is the subset of an activity detail response the settlement
// path cares about.
type Activity struct {
	ID                string
	Type              string
	DistanceMeters    float64
	MovingTimeSeconds int64
}

// Event is a webhook notification. ObjectID is the activity (or athlete)
// id, OwnerID the athlete the event belongs to.
type Event struct {
	ObjectType string
	AspectType string
	OwnerID    int64
	ObjectID   int64
}

// Subscription is one push-subscription row as listed by the provider.
type Subscription struct {
	ID          int64
	CallbackURL string
}

type tokenPayload struct {
	AccessToken  *string `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
	ExpiresAt    *int64  `json:"expires_at"`
	Athlete      *struct {
		ID *int64 `json:"id"`
	} `json:"athlete"`
}

// parseToken validates a token endpoint response. Strava is loose about
// extra fields; the four we rely on must all be present and well typed.
func parseToken(raw []byte) (Token, bool) {
	var p tokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Token{}, false
	}
	if p.AccessToken == nil || p.RefreshToken == nil || p.ExpiresAt == nil {
		return Token{}, false
	}
	if p.Athlete == nil || p.Athlete.ID == nil {
		return Token{}, false
	}
	return Token{
		AccessToken:  *p.AccessToken,
		RefreshToken: *p.RefreshToken,
		ExpiresAt:    *p.ExpiresAt,
		AthleteID:    *p.Athlete.ID,
	}, true
}

type activityPayload struct {
	ID         json.RawMessage `json:"id"`
	Type       *string         `json:"type"`
	Distance   *float64        `json:"distance"`
	MovingTime *float64        `json:"moving_time"`
}

// parseActivity validates an activity detail response. The id may arrive
// as a number or a string; type, distance and moving_time are optional.
func parseActivity(raw []byte) (Activity, bool) {
	var p activityPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Activity{}, false
	}
	id, ok := rawID(p.ID)
	if !ok {
		return Activity{}, false
	}
	a := Activity{ID: id}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Distance != nil {
		a.DistanceMeters = *p.Distance
	}
	if p.MovingTime != nil {
		a.MovingTimeSeconds = int64(*p.MovingTime)
	}
	return a, true
}

func rawID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

type eventPayload struct {
	ObjectType *string  `json:"object_type"`
	AspectType *string  `json:"aspect_type"`
	OwnerID    *float64 `json:"owner_id"`
	ObjectID   *float64 `json:"object_id"`
}

// ParseEvent validates a webhook notification body. Anything outside the
// documented shape is reported as not-ok; callers decide what to do with
// rejected payloads.
func ParseEvent(raw []byte) (Event, bool) {
	var p eventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Event{}, false
	}
	if p.ObjectType == nil || p.AspectType == nil || p.OwnerID == nil || p.ObjectID == nil {
		return Event{}, false
	}
	switch *p.ObjectType {
	case "activity", "athlete":
	default:
		return Event{}, false
	}
	switch *p.AspectType {
	case "create", "update", "delete":
	default:
		return Event{}, false
	}
	return Event{
		ObjectType: *p.ObjectType,
		AspectType: *p.AspectType,
		OwnerID:    int64(*p.OwnerID),
		ObjectID:   int64(*p.ObjectID),
	}, true
}

type subscriptionPayload struct {
	ID          *int64  `json:"id"`
	CallbackURL *string `json:"callback_url"`
}

func parseSubscription(p subscriptionPayload) (Subscription, bool) {
	if p.ID == nil {
		return Subscription{}, false
	}
	s := Subscription{ID: *p.ID}
	if p.CallbackURL != nil {
		s.CallbackURL = *p.CallbackURL
	}
	return s, true
}

// ActivityIDString formats a numeric activity id the way it is stored in
// processed_activities and payouts.
func ActivityIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
