// Package upstream provides the typed HTTP client for the external sports
// data provider: a single http.Client with an explicit timeout, a
// key-parameter auth scheme, and a golang.org/x/time/rate token bucket
// sized to the provider's hourly budget. Failures are classified into the
// errkind taxonomy so callers can distinguish retryable from fatal.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/soccerops/alertcore/internal/errkind"
	"github.com/soccerops/alertcore/internal/sportdata"
)

// Client is the typed HTTP client for the upstream sports provider. Every
// operation goes through a single global token bucket.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	minDelay   time.Duration
	logger     *slog.Logger
}

// New creates an upstream Client. budgetPerHour sizes the token bucket;
// minDelay enforces the minimum inter-request spacing on top of it.
func New(baseURL, apiKey string, budgetPerHour int, minDelay, callTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(budgetPerHour) / 3600.0
	return &Client{
		httpClient: &http.Client{Timeout: callTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), budgetPerHour),
		minDelay:   minDelay,
		logger:     logger,
	}
}

// ListLive returns all fixtures currently in a live-ish status.
func (c *Client) ListLive(ctx context.Context) ([]sportdata.Fixture, error) {
	raw, err := c.get(ctx, "/fixtures/live", nil)
	if err != nil {
		return nil, err
	}
	return decodeFixtures(raw)
}

// ListByDate returns all fixtures scheduled on the given date (UTC).
func (c *Client) ListByDate(ctx context.Context, date time.Time) ([]sportdata.Fixture, error) {
	params := url.Values{"date": {date.Format("2006-01-02")}}
	raw, err := c.get(ctx, "/fixtures/date", params)
	if err != nil {
		return nil, err
	}
	return decodeFixtures(raw)
}

// FixtureStats fetches per-team statistics for one fixture.
func (c *Client) FixtureStats(ctx context.Context, fixtureID string) (sportdata.TeamStats, sportdata.TeamStats, error) {
	raw, err := c.get(ctx, "/fixtures/"+fixtureID+"/statistics", nil)
	if err != nil {
		return sportdata.TeamStats{}, sportdata.TeamStats{}, err
	}
	return decodeStats(raw)
}

// FixtureEvents fetches the raw event list since kickoff for one fixture.
func (c *Client) FixtureEvents(ctx context.Context, fixtureID string) ([]sportdata.Event, error) {
	raw, err := c.get(ctx, "/fixtures/"+fixtureID+"/events", nil)
	if err != nil {
		return nil, err
	}
	return decodeEvents(fixtureID, raw)
}

// FixtureLineups fetches the starting lineups for one fixture.
func (c *Client) FixtureLineups(ctx context.Context, fixtureID string) (map[sportdata.TeamSide][]string, error) {
	raw, err := c.get(ctx, "/fixtures/"+fixtureID+"/lineups", nil)
	if err != nil {
		return nil, err
	}
	return decodeLineups(raw)
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// get performs a rate-limited, retried GET against the provider. Transient
// failures are retried up to 3x with backoff 1s/2s/4s jittered +/-20%;
// AuthError and NotFound surface immediately. The global budget fails fast
// rather than queuing: when the token bucket is empty, callers get
// BudgetExceeded immediately and are expected to proceed with cached data,
// never block waiting for a token to refill.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	if !c.limiter.Allow() {
		return nil, fmt.Errorf("%w: hourly call budget exhausted", errkind.BudgetExceeded)
	}
	if c.minDelay > 0 {
		time.Sleep(c.minDelay)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	backoffs := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		raw, retry, err := c.doRequest(ctx, path, params)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retry || attempt == len(backoffs) {
			return nil, err
		}
		d := jitter(backoffs[attempt])
		c.logger.Warn("upstream call failed, retrying", "path", path, "attempt", attempt+1, "delay", d, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values) (raw json.RawMessage, retryable bool, err error) {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", errkind.UpstreamTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read body: %v", errkind.UpstreamTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, false, fmt.Errorf("%w: %v", errkind.DataShape, err)
		}
		return env.Data, false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w: status %d", errkind.AuthError, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", errkind.NotFound, path)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", errkind.UpstreamTransient, resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("%w: status %d: %s", errkind.UpstreamPermanent, resp.StatusCode, truncate(body, 200))
	}
}

func jitter(base time.Duration) time.Duration {
	delta := float64(base) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return base + time.Duration(offset)
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
