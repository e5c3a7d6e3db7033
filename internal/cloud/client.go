// Package cloud implements the capability interface against a REST
// cloud-storage API (Drive/Dropbox-style). It owns request construction,
// bearer auth, retry with exponential backoff, and the uniform
// 401-detection contract that feeds the authentication coordinator.
// The wire format is a plain JSON files API; protocol framing beyond
// HTTP belongs to the server.
package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/mkuusisto/unifs/internal/client"
	"github.com/mkuusisto/unifs/internal/resource"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "unifs/0.1"
)

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; the auth package
// provides the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to one cloud account's REST endpoint. It satisfies
// client.CloudClient together with the auth methods in auth.go.
type Client struct {
	account    string // the cloud://<account> segment this client serves
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	session    *session
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a cloud client. baseURL is the API root, without a trailing
// slash.
func New(account, baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		account:    account,
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		session:    &session{},
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

func (c *Client) Scheme() resource.Kind { return resource.KindCloud }

// do executes an HTTP request with retry. Transient statuses (429, 5xx)
// are retried with backoff, honoring Retry-After; everything else is
// classified onto the taxonomy sentinels. The caller closes the response
// body on success.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		resp, err := c.doOnce(ctx, method, url, body, contentType)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			// Streaming request bodies cannot be replayed.
			if body != nil || attempt >= maxRetries {
				return nil, fmt.Errorf("%w: %s %s: %v", client.ErrTransport, method, path, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && body == nil && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, err
			}

			attempt++

			continue
		}

		return nil, classifyStatus(resp.StatusCode, string(errBody))
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// classifyStatus maps an HTTP error status to a taxonomy sentinel.
// 401 always means the bearer token lapsed: ErrAuthExpired, which entitles
// the coordinator to one silent refresh. That is the uniform 401-detection
// contract every authenticated call shares.
func classifyStatus(code int, body string) error {
	var sentinel error

	switch {
	case code == http.StatusUnauthorized:
		sentinel = client.ErrAuthExpired
	case code == http.StatusNotFound:
		sentinel = client.ErrNotFound
	case code == http.StatusConflict:
		sentinel = client.ErrAlreadyExists
	case code == http.StatusForbidden:
		sentinel = client.ErrNotAuthenticated
	default:
		sentinel = client.ErrTransport
	}

	return fmt.Errorf("%w: HTTP %d: %s", sentinel, code, body)
}

// isRetryable reports whether the status should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryBackoff honors Retry-After on 429 responses.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
