// Package upstream implements C1: a fetch of the authoritative player
// telemetry feed, retried with backoff the way
// PayRpc-Bitcoin_Sprint's engine retries RPC calls with
// github.com/cenkalti/backoff/v4.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/majeggstics/snapshotd/internal/models"
)

// ErrUpstreamUnavailable is returned when a fetch fails: every retry
// attempt failed, or a non-retryable error (such as a 4xx) ended the
// attempts early.
var ErrUpstreamUnavailable = errors.New("upstream: feed unavailable after retries")

// Client fetches the current player-telemetry feed.
type Client struct {
	httpClient *http.Client
	url        string
	maxRetries int
}

// New builds a Client against the given feed URL.
func New(url string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		maxRetries: maxRetries,
	}
}

// Fetch retrieves the current player set, retrying transient failures
// (network errors, 5xx, malformed bodies, and an empty or non-array
// payload) with exponential backoff. A 4xx is not retried and ends the
// fetch after one attempt. Every failure is surfaced to the controller
// as ErrUpstreamUnavailable, never as zero valid players flowing
// through as success.
func (c *Client) Fetch(ctx context.Context) ([]models.PlayerRecord, error) {
	var records []models.PlayerRecord

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("upstream: building request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upstream: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(fmt.Errorf("upstream: client error %d: %s", resp.StatusCode, body))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("upstream: server error %d", resp.StatusCode)
		}

		var parsed []models.PlayerRecord
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("upstream: decoding response: %w", err)
		}
		if len(parsed) == 0 {
			return fmt.Errorf("upstream: empty player array")
		}

		records = parsed
		return nil
	}

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, backoff.WithMaxRetries(b, uint64(c.maxRetries))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return records, nil
}
