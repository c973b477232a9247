// Package rooms provisions video call rooms from an external Daily-style
// REST API. The pairing engine only depends on the Provisioner interface;
// tests substitute a stub.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blinkdate/matchmaking/internal/config"
)

// Provisioner creates a call room and returns its join URL.
type Provisioner interface {
	CreateRoom(ctx context.Context, expiry time.Duration) (string, error)
}

// ProvisioningError wraps a room API failure so callers can recognize it and
// apply the fallback policy.
type ProvisioningError struct {
	Status int
	Body   string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("room provisioning failed: %v", e.Err)
	}
	return fmt.Sprintf("room provisioning failed: status %d: %s", e.Status, e.Body)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Client calls the room provider's REST API.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// NewClient builds a Client from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiURL: cfg.Rooms.APIURL,
		apiKey: cfg.Rooms.APIKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Properties roomProperties `json:"properties"`
}

type roomProperties struct {
	Exp         int64 `json:"exp"`
	EnableChat  bool  `json:"enable_chat"`
	Screenshare bool  `json:"enable_screenshare"`
}

type createRoomResponse struct {
	URL string `json:"url"`
}

// CreateRoom provisions a room that expires after the given duration and
// returns its URL.
func (c *Client) CreateRoom(ctx context.Context, expiry time.Duration) (string, error) {
	payload := createRoomRequest{
		Name: "match-" + uuid.NewString(),
		Properties: roomProperties{
			Exp:        time.Now().Add(expiry).Unix(),
			EnableChat: true,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &ProvisioningError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", &ProvisioningError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ProvisioningError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProvisioningError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out createRoomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &ProvisioningError{Err: err}
	}
	if out.URL == "" {
		return "", &ProvisioningError{Status: resp.StatusCode, Body: "response missing room url"}
	}
	return out.URL, nil
}
