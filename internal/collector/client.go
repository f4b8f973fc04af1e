// Package collector is the HTTP client for the remote kill collector.
package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/user/killtracker/internal/types"
)

const (
	pathValidateKey = "/validateKey"
	pathDataMap     = "/api/server/data/"

	EndpointKill      = "reportKill"
	EndpointDeathKill = "reportACKill"

	DataWeapons            = "weapons"
	DataIgnoredVictimRules = "ignoredVictimRules"
)

// ErrInvalidated is returned when the collector rejects the credential
// outright (HTTP 403 on an expiry query).
var ErrInvalidated = errors.New("credential invalidated by collector")

// StatusError is returned for any non-200 response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: collector returned status %d: %s", e.Op, e.Code, strings.TrimSpace(e.Body))
}

// Client talks to the collector. Every request carries the credential in the
// Authorization header and is bounded by the client timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a collector client. A non-positive timeout means 60s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type validateRequest struct {
	APIKey     string `json:"api_key"`
	PlayerName string `json:"player_name"`
}

type expiryRequest struct {
	PlayerName string `json:"player_name"`
}

type expiryResponse struct {
	ExpiresAt string `json:"expires_at"`
}

// ValidateKey returns nil when the collector accepts key for player.
func (c *Client) ValidateKey(ctx context.Context, key, player string) error {
	_, err := c.do(ctx, "validate key", http.MethodPost, pathValidateKey, key, validateRequest{APIKey: key, PlayerName: player})
	return err
}

// FetchExpiry asks the collector when key expires.
func (c *Client) FetchExpiry(ctx context.Context, key, player string) (time.Time, error) {
	body, err := c.do(ctx, "fetch expiry", http.MethodPost, pathValidateKey, key, expiryRequest{PlayerName: player})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusForbidden {
			return time.Time{}, ErrInvalidated
		}
		return time.Time{}, err
	}
	var resp expiryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("parse expiry response: %w", err)
	}
	if resp.ExpiresAt == "" {
		return time.Time{}, errors.New("expiry missing from collector response")
	}
	return ParseExpiry(resp.ExpiresAt)
}

// ParseExpiry parses the collector's UTC timestamp format
// (2006-01-02T15:04:05.000000Z, fraction optional).
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry %q: %w", s, err)
	}
	return t.UTC(), nil
}

// PostKill posts a kill payload to endpoint (reportKill or reportACKill).
func (c *Client) PostKill(ctx context.Context, key, endpoint string, payload types.KillPayload) error {
	_, err := c.do(ctx, "post "+endpoint, http.MethodPost, "/"+strings.TrimLeft(endpoint, "/"), key, payload)
	return err
}

// FetchDataMap downloads one server-side data map.
func (c *Client) FetchDataMap(ctx context.Context, key, dataType string) ([]types.DataEntry, error) {
	body, err := c.do(ctx, "fetch "+dataType, http.MethodGet, pathDataMap+dataType, key, nil)
	if err != nil {
		return nil, err
	}
	var resp map[string][]types.DataEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse %s data map: %w", dataType, err)
	}
	entries, ok := resp[dataType]
	if !ok {
		return nil, fmt.Errorf("%s missing from data map response", dataType)
	}
	return entries, nil
}

// Heartbeat posts a presence payload. The response roster is only reported
// when the collector included a commanders field.
func (c *Client) Heartbeat(ctx context.Context, key string, hb types.HeartbeatPayload) (types.HeartbeatResponse, error) {
	body, err := c.do(ctx, "heartbeat", http.MethodPost, pathValidateKey, key, hb)
	if err != nil {
		return types.HeartbeatResponse{}, err
	}
	var raw map[string]json.RawMessage
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &raw) != nil {
		return types.HeartbeatResponse{}, nil
	}
	commanders, ok := raw["commanders"]
	if !ok {
		return types.HeartbeatResponse{}, nil
	}
	var resp types.HeartbeatResponse
	if err := json.Unmarshal(commanders, &resp.Commanders); err != nil {
		return types.HeartbeatResponse{}, fmt.Errorf("parse commanders: %w", err)
	}
	resp.HasRoster = true
	return resp, nil
}

func (c *Client) do(ctx context.Context, op, method, path, key string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: sending request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	slog.Debug("collector response", "op", op, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
