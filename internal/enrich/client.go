// Package enrich looks wines up at external providers (Vivino,
// Wine-Searcher) and merges what they return into stored records.
//
// Provider calls are rate-limited with a token bucket, wrapped in a circuit
// breaker and bounded by a short timeout. A failed lookup is counted as
// skipped and never holds up the rest of the run.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/legrimoire/grimoire-data/internal/metrics"
)

// ClientConfig holds the settings shared by provider clients.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerMinute int
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing again.
	OpenFor time.Duration
}

func (c *ClientConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 60
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
}

// client is the HTTP plumbing under each provider.
type client struct {
	name       string
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

func newClient(name string, cfg ClientConfig, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	rps := float64(cfg.RatePerMinute) / 60.0

	c := &client{
		name:       name,
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Unknown wines are an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoMatch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(name, int(to), from.String(), to.String())
			logger.Warn("provider circuit breaker changed state",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// get performs a rate-limited GET through the breaker. A 404 returns
// ErrNoMatch.
func (c *client) get(ctx context.Context, path string, params url.Values, auth func(*http.Request)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, path, params, auth)
	})
}

func (c *client) do(ctx context.Context, path string, params url.Values, auth func(*http.Request)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.name, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoMatch
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s %s returned %d: %s", c.name, path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

// truncate shortens a response body for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
