// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

/*
client.go - Upstream Feed Client

This file provides the HTTP client for the upstream data-logger feed API.
It fetches the single most recent channel entry and normalizes it into a
typed Sample.

Resilience Mechanisms:
  - Per-attempt request timeout (surfaced as KindTimeout)
  - Bounded per-call retry with linear delay (retryBaseDelay x attempt),
    distinct from the poll-cadence backoff owned by the relay engine
  - Cancellable retry waits (context-aware)

Field Mapping:
The upstream returns generic numbered fields (field1..field8). Which field
carries latitude versus longitude is configured explicitly (see
config.UpstreamConfig); the client never guesses.
*/
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/openfleet/posrelay/internal/config"
	"github.com/openfleet/posrelay/internal/logging"
	"github.com/openfleet/posrelay/internal/metrics"
)

// Fetcher is the contract the reconciliation engine depends on.
// Implemented by Client for production use, by CircuitBreakerFetcher as a
// resilience wrapper, and by fakes in tests.
type Fetcher interface {
	FetchLatest(ctx context.Context) (*Sample, error)
}

// Client fetches the most recent entry from the upstream feed channel.
//
// Thread safety: safe for concurrent use; each request creates its own
// http.Request. In practice the engine serializes calls anyway.
type Client struct {
	baseURL        string
	apiKey         string
	channelID      string
	latField       int
	lngField       int
	maxRetries     int
	retryBaseDelay time.Duration
	client         *http.Client
}

// NewClient creates a feed client from the upstream configuration.
func NewClient(cfg *config.UpstreamConfig) *Client {
	return &Client{
		baseURL:        cfg.URL,
		apiKey:         cfg.APIKey,
		channelID:      cfg.ChannelID,
		latField:       cfg.LatitudeField,
		lngField:       cfg.LongitudeField,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// feedEntry mirrors the upstream JSON record. All data fields arrive as
// strings; entry_id is the only numeric field the API guarantees.
type feedEntry struct {
	EntryID   int64   `json:"entry_id"`
	CreatedAt string  `json:"created_at"`
	Field1    *string `json:"field1"`
	Field2    *string `json:"field2"`
	Field3    *string `json:"field3"`
	Field4    *string `json:"field4"`
	Field5    *string `json:"field5"`
	Field6    *string `json:"field6"`
	Field7    *string `json:"field7"`
	Field8    *string `json:"field8"`
}

// field returns the numbered field value, or nil when absent.
func (e *feedEntry) field(n int) *string {
	switch n {
	case 1:
		return e.Field1
	case 2:
		return e.Field2
	case 3:
		return e.Field3
	case 4:
		return e.Field4
	case 5:
		return e.Field5
	case 6:
		return e.Field6
	case 7:
		return e.Field7
	case 8:
		return e.Field8
	default:
		return nil
	}
}

// FetchLatest fetches the most recent feed entry, retrying failed attempts
// up to maxRetries times with a linear delay (retryBaseDelay x attempt).
// Exhausting the retry budget propagates the last UpstreamError.
func (c *Client) FetchLatest(ctx context.Context) (*Sample, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		start := time.Now()
		sample, err := c.fetchOnce(ctx)
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return sample, nil
		}
		lastErr = err

		var ue *UpstreamError
		if errors.As(err, &ue) {
			metrics.FetchErrors.WithLabelValues(string(ue.Kind)).Inc()
		}

		if attempt < c.maxRetries {
			delay := c.retryBaseDelay * time.Duration(attempt+1)
			logging.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", c.maxRetries+1).
				Dur("delay", delay).
				Msg("Upstream fetch failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("upstream fetch failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// fetchOnce performs a single GET against the feed's last-entry endpoint.
func (c *Client) fetchOnce(ctx context.Context) (*Sample, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	reqURL := fmt.Sprintf("%s/channels/%s/feeds/last.json?%s", c.baseURL, c.channelID, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &UpstreamError{Kind: KindTimeout, Err: err}
		}
		return nil, &UpstreamError{Kind: KindMalformed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var entry feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, &UpstreamError{Kind: KindMalformed, Err: err}
	}

	// An empty channel decodes to the zero entry.
	if entry.EntryID == 0 {
		return nil, &UpstreamError{Kind: KindEmpty}
	}

	return &Sample{
		EntryID:    entry.EntryID,
		Latitude:   coerceCoordinate(entry.field(c.latField)),
		Longitude:  coerceCoordinate(entry.field(c.lngField)),
		CapturedAt: entry.CreatedAt,
	}, nil
}

// coerceCoordinate parses an upstream string field into a float.
// Missing or non-numeric values coerce to NaN; the change detector treats
// such samples as invalid without failing the fetch.
func coerceCoordinate(raw *string) float64 {
	if raw == nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// isTimeout reports whether an http.Client error represents a timeout,
// either from the client's own deadline or a context deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
