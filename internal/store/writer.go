// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

/*
writer.go - Downstream Store Writer

This file provides the HTTP client that publishes accepted positions to the
downstream real-time key-path store. Writes are merge-style PATCH requests
against a fixed key path, so unrelated sibling keys in the store survive
every update.

Resilience Mechanisms:
  - Per-attempt request timeout (surfaced as KindWriteTimeout)
  - Bounded per-call retry with linear delay (retryBaseDelay x attempt),
    cancellable via context
*/
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/openfleet/posrelay/internal/config"
	"github.com/openfleet/posrelay/internal/feed"
	"github.com/openfleet/posrelay/internal/logging"
	"github.com/openfleet/posrelay/internal/metrics"
)

// ErrorKind discriminates downstream write failures.
type ErrorKind string

const (
	// KindWriteTimeout means the store did not answer within the deadline.
	KindWriteTimeout ErrorKind = "timeout"
	// KindWriteRejected means the store answered with a non-success status.
	KindWriteRejected ErrorKind = "rejected"
)

// DownstreamError describes a failed store write.
type DownstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *DownstreamError) Error() string {
	if e.Kind == KindWriteRejected {
		return fmt.Sprintf("downstream write rejected: status %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("downstream write %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("downstream write %s", e.Kind)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Writer is the contract the reconciliation engine depends on for
// publishing positions. Implemented by Client; faked in tests.
type Writer interface {
	WritePosition(ctx context.Context, sample *feed.Sample) error
}

// position is the merge payload written to the store. Coordinates are
// numeric; updatedAt is a human-readable display string alongside the
// upstream capture timestamp kept verbatim for traceability.
type position struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	UpdatedAt         string  `json:"updatedAt"`
	UpstreamEntryID   int64   `json:"upstreamEntryId"`
	UpstreamTimestamp string  `json:"upstreamTimestamp"`
}

// Client writes positions to the downstream store over HTTP.
type Client struct {
	baseURL        string
	authSecret     string
	path           string
	maxRetries     int
	retryBaseDelay time.Duration
	client         *http.Client
	now            func() time.Time // injectable for tests
}

// NewClient creates a store writer from the downstream configuration.
func NewClient(cfg *config.DownstreamConfig) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(cfg.URL, "/"),
		authSecret:     cfg.AuthSecret,
		path:           strings.Trim(cfg.Path, "/"),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// WritePosition publishes the sample to the store's key path, retrying a
// failed write up to maxRetries times with a linear delay. Success on any
// attempt counts as a confirmed write; exhausting the budget propagates
// the last DownstreamError.
func (c *Client) WritePosition(ctx context.Context, sample *feed.Sample) error {
	payload := &position{
		Latitude:          sample.Latitude,
		Longitude:         sample.Longitude,
		UpdatedAt:         c.now().UTC().Format("2006-01-02 15:04:05 UTC"),
		UpstreamEntryID:   sample.EntryID,
		UpstreamTimestamp: sample.CapturedAt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		err := c.writeOnce(ctx, body)
		metrics.WriteDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.WritesTotal.Inc()
			return nil
		}
		lastErr = err

		var de *DownstreamError
		if errors.As(err, &de) {
			metrics.WriteErrors.WithLabelValues(string(de.Kind)).Inc()
		}

		if attempt < c.maxRetries {
			delay := c.retryBaseDelay * time.Duration(attempt+1)
			logging.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", c.maxRetries+1).
				Dur("delay", delay).
				Msg("Downstream write failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("downstream write failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// writeOnce performs a single merge-write PATCH against the key path.
func (c *Client) writeOnce(ctx context.Context, body []byte) error {
	reqURL := fmt.Sprintf("%s/%s.json", c.baseURL, c.path)
	if c.authSecret != "" {
		params := url.Values{}
		params.Set("auth", c.authSecret)
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &DownstreamError{Kind: KindWriteTimeout, Err: err}
		}
		return &DownstreamError{Kind: KindWriteRejected, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DownstreamError{Kind: KindWriteRejected, StatusCode: resp.StatusCode}
	}

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
