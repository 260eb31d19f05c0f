package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the NPM admin API. All requests carry a fixed timeout;
// authenticated calls expect a bearer token obtained via Login.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the NPM API rooted at baseURL
// (e.g. http://localhost:81/api).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges an identity/secret pair for a bearer token.
func (c *Client) Login(ctx context.Context, identity, secret string) (string, error) {
	payload := map[string]string{"identity": identity, "secret": secret}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens", "", payload, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("npm: login response missing token")
	}

	return out.Token, nil
}

// ListStreams returns all streams visible to the token, in NPM's own order.
func (c *Client) ListStreams(ctx context.Context, token string) ([]Stream, error) {
	var streams []Stream
	if err := c.do(ctx, http.MethodGet, "/nginx/streams", token, nil, &streams); err != nil {
		return nil, err
	}

	return streams, nil
}

// CreateStream creates a stream and returns the record NPM assigned an id to.
func (c *Client) CreateStream(ctx context.Context, token string, req StreamRequest) (*Stream, error) {
	var stream Stream
	if err := c.do(ctx, http.MethodPost, "/nginx/streams", token, req, &stream); err != nil {
		return nil, err
	}

	return &stream, nil
}

// UpdateStream replaces the forwarding fields of an existing stream.
func (c *Client) UpdateStream(ctx context.Context, token string, id uint, req StreamRequest) (*Stream, error) {
	var stream Stream
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/nginx/streams/%d", id), token, req, &stream); err != nil {
		return nil, err
	}

	return &stream, nil
}

// DeleteStream removes a stream. Returns ErrNotFound if it is already gone
// and ErrForbidden if the token may not delete it.
func (c *Client) DeleteStream(ctx context.Context, token string, id uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/nginx/streams/%d", id), token, nil, nil)
}

// SetStreamEnabled toggles a stream on or off.
func (c *Client) SetStreamEnabled(ctx context.Context, token string, id uint, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}

	return c.do(ctx, http.MethodPost, fmt.Sprintf("/nginx/streams/%d/%s", id, action), token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("npm: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("npm: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("npm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("npm: decode response: %w", err)
		}
	}

	return nil
}

// statusError maps an NPM error response to a sentinel where callers care
// about the class, carrying NPM's own message where it provides one.
func (c *Client) statusError(resp *http.Response) error {
	msg := remoteMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("npm: remote error (status %d): %s", resp.StatusCode, msg)
	}
}

// remoteMessage digs the human-readable message out of an NPM error body,
// which is either {"error":{"message":...}} or {"message":...}.
func remoteMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		if nested.Error.Message != "" {
			return nested.Error.Message
		}
		if nested.Message != "" {
			return nested.Message
		}
	}

	return strings.TrimSpace(string(raw))
}
