// ABOUTME: HTTP adapter for the remote progress store.
// ABOUTME: Fetch/upsert one progress and one profile record per user.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Client performs fetch/upsert RPCs against the remote store.
// Not-found is surfaced as ErrNotFound, distinctly from network and
// permission failures.
type Client struct {
	cfg SyncConfig
	hc  *http.Client
}

// NewClient builds a client with optional timeout override.
func NewClient(cfg SyncConfig) *Client {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: to},
	}
}

// Configured reports whether the client can reach a remote store.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.AuthToken != ""
}

// progressWire is the remote progress record shape.
type progressWire struct {
	CompletedSubtopics []string  `json:"completed_subtopics"`
	XPTotal            int       `json:"xp_total"`
	StreakCount        int       `json:"streak_count"`
	StreakLastDate     *string   `json:"streak_last_date"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastSyncedAt       time.Time `json:"last_synced_at"`
}

func (w progressWire) record() *RemoteRecord {
	rec := &RemoteRecord{
		Snapshot: Snapshot{
			CompletedTopics: normalizeTopics(w.CompletedSubtopics),
			XPTotal:         w.XPTotal,
			StreakCount:     w.StreakCount,
		},
		UpdatedAt:    w.UpdatedAt,
		LastSyncedAt: w.LastSyncedAt,
	}
	if w.StreakLastDate != nil {
		rec.StreakLastDate = *w.StreakLastDate
	}
	return rec
}

func progressToWire(snap Snapshot, syncedAt time.Time) progressWire {
	w := progressWire{
		CompletedSubtopics: snap.CompletedTopics,
		XPTotal:            snap.XPTotal,
		StreakCount:        snap.StreakCount,
		LastSyncedAt:       syncedAt,
	}
	if snap.StreakLastDate != "" {
		w.StreakLastDate = &snap.StreakLastDate
	}
	return w
}

// profileWire is the remote profile record shape. The avatar_url field
// is repurposed historically to carry the avatar id enum, not a URL.
type profileWire struct {
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	UnlockedAvatars []string  `json:"unlocked_avatars,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (w profileWire) profile() Profile {
	p := Profile{
		Name:            w.Name,
		UnlockedAvatars: normalizeTopics(w.UnlockedAvatars),
		UpdatedAt:       w.UpdatedAt,
	}
	if id, err := strconv.Atoi(w.AvatarURL); err == nil {
		p.AvatarID = id
	}
	return p
}

func profileToWire(p Profile) profileWire {
	w := profileWire{
		Name:            p.Name,
		UnlockedAvatars: p.UnlockedAvatars,
	}
	if p.AvatarID > 0 {
		w.AvatarURL = strconv.Itoa(p.AvatarID)
	}
	return w
}

// FetchProgress reads the user's progress record. A missing record is
// a valid new-user state and returns ErrNotFound.
func (c *Client) FetchProgress(ctx context.Context, userID string) (*RemoteRecord, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "pull", func() (*RemoteRecord, error) {
		var wire progressWire
		if err := c.do(ctx, http.MethodGet, c.recordURL("progress", userID), nil, &wire); err != nil {
			return nil, err
		}
		return wire.record(), nil
	})
}

// PushProgress upserts the user's progress record and returns the
// stored record with the server-assigned updated_at.
func (c *Client) PushProgress(ctx context.Context, userID string, snap Snapshot) (*RemoteRecord, error) {
	body := progressToWire(snap, time.Now().UTC())
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "push", func() (*RemoteRecord, error) {
		var wire progressWire
		if err := c.do(ctx, http.MethodPut, c.recordURL("progress", userID), body, &wire); err != nil {
			return nil, err
		}
		return wire.record(), nil
	})
}

// FetchProfile reads the user's profile record.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*Profile, error) {
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "pull", func() (*Profile, error) {
		var wire profileWire
		if err := c.do(ctx, http.MethodGet, c.recordURL("profile", userID), nil, &wire); err != nil {
			return nil, err
		}
		p := wire.profile()
		return &p, nil
	})
}

// PushProfile upserts the user's profile record.
func (c *Client) PushProfile(ctx context.Context, userID string, p Profile) (*Profile, error) {
	body := profileToWire(p)
	return WithRetry(ctx, c.cfg.GetRetryConfig(), "push", func() (*Profile, error) {
		var wire profileWire
		if err := c.do(ctx, http.MethodPut, c.recordURL("profile", userID), body, &wire); err != nil {
			return nil, err
		}
		stored := wire.profile()
		return &stored, nil
	})
}

// Ping performs the lightweight authenticated round-trip used by the
// connectivity monitor. No retry: the caller is the probe loop.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/healthz", nil, nil)
}

func (c *Client) recordURL(kind, userID string) string {
	return c.cfg.BaseURL + "/v1/" + kind + "/" + url.PathEscape(userID)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.cfg.DeviceID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := c.classify(resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps HTTP statuses onto the error taxonomy. 404 is a valid
// state, 5xx is retriable, 401 distinguishes an expired session from
// other permission failures so the app can trigger re-authentication.
func (c *Client) classify(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized:
		if c.tokenExpired() {
			if c.cfg.OnAuthExpired != nil {
				c.cfg.OnAuthExpired()
			}
			return ErrTokenExpired
		}
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrUnauthorized
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// tokenExpired inspects the bearer token's exp claim without verifying
// the signature; verification is the server's job, this only decides
// whether a 401 means "session expired" or "rejected".
func (c *Client) tokenExpired() bool {
	token, _, err := jwt.NewParser().ParseUnverified(c.cfg.AuthToken, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
