package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsline/fieldsync/internal/model"
	"go.uber.org/zap"
)

// Client talks to the sync server. Transport failures and 5xx responses are
// retried with exponential backoff under the same op ids, which is safe
// because the server replays cached terminal results.
type Client struct {
	baseURL     string
	tenantID    string
	httpClient  *http.Client
	maxAttempts int
	baseBackoff time.Duration
	logger      *zap.Logger
}

// NewClient creates a sync client
func NewClient(baseURL, tenantID string, timeout time.Duration, maxAttempts int, logger *zap.Logger) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		baseURL:     baseURL,
		tenantID:    tenantID,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		baseBackoff: 500 * time.Millisecond,
		logger:      logger,
	}
}

// Push sends one batch of operations.
func (c *Client) Push(ctx context.Context, req *model.PushRequest) (*model.PushResponse, error) {
	var resp model.PushResponse
	if err := c.post(ctx, "/v1/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches server state not yet known to the device.
func (c *Client) Pull(ctx context.Context, req *model.PullRequest) (*model.PullResponse, error) {
	var resp model.PullResponse
	if err := c.post(ctx, "/v1/sync/pull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post runs one JSON request with retry and backoff.
func (c *Client) post(ctx context.Context, path string, body, dst interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.baseBackoff << (attempt - 2)
			c.logger.Debug("Retrying sync request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retriable, err := c.doOnce(ctx, path, payload, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
	}
	return fmt.Errorf("sync request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// doOnce runs one request; the bool return reports whether a failure is worth
// retrying.
func (c *Client) doOnce(ctx context.Context, path string, payload []byte, dst interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return true, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return false, nil
}
