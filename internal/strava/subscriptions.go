package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Subscriptions lists the app's push subscriptions.
func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	u := c.BaseURL + "/api/v3/push_subscriptions?" + url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("strava: list subscriptions failed: status %d", resp.StatusCode)
	}

	var raw []subscriptionPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrBadPayload
	}
	subs := make([]Subscription, 0, len(raw))
	for _, p := range raw {
		if s, ok := parseSubscription(p); ok {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// CreateSubscription registers callbackURL for webhook delivery.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (Subscription, error) {
	form := url.Values{
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v3/push_subscriptions", strings.NewReader(form.Encode()))
	if err != nil {
		return Subscription{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Subscription{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Subscription{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Subscription{}, fmt.Errorf("strava: create subscription failed: status %d", resp.StatusCode)
	}

	var p subscriptionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Subscription{}, ErrBadPayload
	}
	s, ok := parseSubscription(p)
	if !ok {
		return Subscription{}, ErrBadPayload
	}
	return s, nil
}

// EnsureSubscription makes sure exactly one subscription points at
// callbackURL, creating it when absent. Each app may hold only one
// subscription, so an existing match is left alone.
func (c *Client) EnsureSubscription(ctx context.Context, callbackURL, verifyToken string) error {
	subs, err := c.Subscriptions(ctx)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.CallbackURL == callbackURL {
			return nil
		}
	}
	_, err = c.CreateSubscription(ctx, callbackURL, verifyToken)
	return err
}
