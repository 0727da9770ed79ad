package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production Strava host. Tests point BaseURL at an
// httptest server instead.
const DefaultBaseURL = "https://www.strava.com"

// ErrUnauthorized is returned when the provider rejects the bearer token.
var ErrUnauthorized = errors.New("strava: unauthorized")

// ErrBadPayload is returned when a provider response fails validation.
var ErrBadPayload = errors.New("strava: unexpected response payload")

// Client talks to the Strava API and token endpoint.
type Client struct {
	ClientID     string
	ClientSecret string
	BaseURL      string

	httpClient *http.Client
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// RefreshToken exchanges a refresh token for a fresh triple.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.tokenRequest(ctx, form)
}

// ExchangeCode completes the authorization-code grant.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (Token, error) {
	form := url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, fmt.Errorf("strava: token request failed: status %d", resp.StatusCode)
	}
	tok, ok := parseToken(body)
	if !ok {
		return Token{}, ErrBadPayload
	}
	return tok, nil
}

// Activity fetches one activity's details. A 401 from the provider maps
// to ErrUnauthorized so callers can refresh and retry.
func (c *Client) Activity(ctx context.Context, accessToken, activityID string) (Activity, error) {
	u := c.BaseURL + "/api/v3/activities/" + url.PathEscape(activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Activity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Activity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Activity{}, ErrUnauthorized
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Activity{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Activity{}, fmt.Errorf("strava: activity fetch failed: status %d", resp.StatusCode)
	}
	act, ok := parseActivity(body)
	if !ok {
		return Activity{}, ErrBadPayload
	}
	return act, nil
}
