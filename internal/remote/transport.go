package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/todosync/internal/netmon"
)

// Retry and backoff constants. Retries here cover transient blips within
// one call; longer outages are absorbed by the sync queue.
const (
	defaultMaxRetries = 2
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	userAgent         = "todosync/0.1"
)

// Config holds the options for NewTransport.
type Config struct {
	BaseURL    string
	HealthPath string
	HTTPClient *http.Client       // nil uses http.DefaultClient
	Token      oauth2.TokenSource // nil sends no Authorization header
	MaxRetries int                // negative disables retries, zero uses the default
	Logger     *slog.Logger
}

// Transport sends JSON requests to the REST authority.
type Transport struct {
	baseURL    string
	healthPath string
	httpClient *http.Client
	token      oauth2.TokenSource
	maxRetries int
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewTransport returns a transport for cfg.BaseURL.
func NewTransport(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	retries := cfg.MaxRetries

	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}

	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		healthPath: cfg.HealthPath,
		httpClient: client,
		token:      cfg.Token,
		maxRetries: retries,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// StaticToken returns a token source for a fixed bearer token, or nil when
// token is empty.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}

	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// Health probes the server's health endpoint once.
func (t *Transport) Health(ctx context.Context) error {
	return netmon.NewHTTPProber(t.baseURL, t.healthPath, t.httpClient).Probe(ctx)
}

// Prober returns a netmon.Prober for the server's health endpoint.
func (t *Transport) Prober() netmon.Prober {
	return netmon.NewHTTPProber(t.baseURL, t.healthPath, t.httpClient)
}

// doJSON sends in (when non-nil) as the JSON body and decodes the response
// into out (when non-nil).
func (t *Transport) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encoding %s %s body: %w", method, path, err)
		}
	}

	resp, err := t.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decoding %s %s response: %w", method, path, err)
	}

	return nil
}

// do executes a request, retrying network errors and retryable statuses
// with exponential backoff. On success the caller closes the body.
func (t *Transport) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := t.baseURL + path

	var attempt int

	for {
		resp, err := t.doOnce(ctx, method, url, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
			}

			if attempt < t.maxRetries {
				backoff := calcBackoff(attempt)
				t.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := t.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("remote: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			t.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < t.maxRetries {
			backoff := retryBackoff(resp, attempt)
			t.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := t.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &Error{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (t *Transport) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if t.token != nil {
		tok, err := t.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		tok.SetAuthHeader(req)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return t.httpClient.Do(req)
}

// retryBackoff honors Retry-After on 429 responses.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	return time.Duration(backoff + jitter)
}

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
