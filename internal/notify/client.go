// Package notify talks to the statement delivery service over its HTTP contract.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ErrTimeout reports a verify or send call that exceeded the configured timeout.
var ErrTimeout = errors.New("notify: timeout")

// Attachment is a file sent alongside a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// Message is one statement delivery.
type Message struct {
	IdempotencyKey string       `json:"idempotencyKey"`
	Contact        string       `json:"contact"`
	Subject        string       `json:"subject"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client calls the delivery service.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient constructs a client. A zero timeout selects ten seconds.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default().With("component", "notify")
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Verify asks whether contact can receive statements.
func (c *Client) Verify(ctx context.Context, contact string) (bool, error) {
	var out struct {
		Verified bool `json:"verified"`
	}
	if err := c.post(ctx, "/v1/contacts/verify", "", map[string]string{"contact": contact}, &out); err != nil {
		return false, err
	}
	return out.Verified, nil
}

// Send dispatches msg. The idempotency key lets the delivery service drop replays.
func (c *Client) Send(ctx context.Context, msg Message) error {
	return c.post(ctx, "/v1/messages", msg.IdempotencyKey, msg, nil)
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	op := "notify " + path
	if c.baseURL == "" {
		return shared.ExternalService(op, errors.New("delivery service not configured"))
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("notify: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		c.logger.Warn("notify request failed", "path", path, "duration", time.Since(start), "error", err)
		return shared.ExternalService(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		c.logger.Warn("notify request rejected", "path", path, "status", resp.StatusCode)
		return shared.ExternalService(op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return shared.ExternalService(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
