package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"workrate/internal/session"
	"workrate/internal/storage"
)

var (
	ErrNetwork = errors.New("backend unreachable")
	ErrAuth    = errors.New("session expired, please log in again")
)

// APIError is a non-2xx answer from the backend other than an
// unrecoverable 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

type TokenSource interface {
	LoadTokens(ctx context.Context) (storage.Tokens, error)
	SaveTokens(ctx context.Context, t storage.Tokens) error
	ClearTokens(ctx context.Context) error
}

type BatchError struct {
	LocalID string `json:"localId"`
	Error   string `json:"error"`
}

type BatchResult struct {
	Synced  int          `json:"synced"`
	Skipped int          `json:"skipped"`
	Errors  []BatchError `json:"errors"`
}

// Client talks to the WorkRate backend with bearer tokens, refreshing an
// expired access token once per request.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}
}

func (c *Client) SyncSession(ctx context.Context, s session.Session) error {
	return c.do(ctx, "/sessions/sync", s, nil)
}

func (c *Client) SyncBatch(ctx context.Context, batch []session.Session) (BatchResult, error) {
	var res BatchResult
	err := c.do(ctx, "/sessions/sync/batch", map[string]any{"sessions": batch}, &res)
	return res, err
}

// Logout revokes the tokens server side when possible and always forgets
// them locally.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, "/auth/logout", nil, nil); err != nil {
		log.Printf("Warning: server-side logout failed: %v", err)
	}
	return c.tokens.ClearTokens(ctx)
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	tokens, err := c.tokens.LoadTokens(ctx)
	if err != nil && !errors.Is(err, storage.ErrNoTokens) {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	status, data, err := c.post(ctx, path, tokens.AccessToken, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && tokens.RefreshToken != "" {
		if !c.refresh(ctx, tokens) {
			if err := c.tokens.ClearTokens(ctx); err != nil {
				log.Printf("Warning: failed to clear tokens: %v", err)
			}
			return ErrAuth
		}
		tokens, err = c.tokens.LoadTokens(ctx)
		if err != nil {
			return fmt.Errorf("failed to reload tokens: %w", err)
		}
		if status, data, err = c.post(ctx, path, tokens.AccessToken, body); err != nil {
			return err
		}
	}

	if status == http.StatusUnauthorized {
		return ErrAuth
	}
	if status < 200 || status > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(status)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: status, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, body any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return resp.StatusCode, data, nil
}

// refresh trades the refresh token for a new pair and stores it.
func (c *Client) refresh(ctx context.Context, tokens storage.Tokens) bool {
	status, data, err := c.post(ctx, "/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	if err != nil || status != http.StatusOK {
		return false
	}
	var body struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if json.Unmarshal(data, &body) != nil || body.AccessToken == "" {
		return false
	}
	tokens.AccessToken = body.AccessToken
	if body.RefreshToken != "" {
		tokens.RefreshToken = body.RefreshToken
	}
	if err := c.tokens.SaveTokens(ctx, tokens); err != nil {
		log.Printf("Warning: failed to store refreshed tokens: %v", err)
		return false
	}
	return true
}
