// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

package feed

import "fmt"

// ErrorKind classifies an upstream fetch failure.
type ErrorKind string

const (
	// KindTimeout means the request exceeded the configured timeout.
	KindTimeout ErrorKind = "timeout"

	// KindStatus means the upstream returned a non-success HTTP status.
	KindStatus ErrorKind = "status"

	// KindMalformed means the response body could not be decoded.
	KindMalformed ErrorKind = "malformed"

	// KindEmpty means the response lacked the expected feed-entry structure
	// (an empty channel, or an entry without an identifier).
	KindEmpty ErrorKind = "empty"
)

// UpstreamError is the typed failure returned by the feed client.
// StatusCode is set only for KindStatus.
type UpstreamError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("upstream fetch timed out: %v", e.Err)
	case KindEmpty:
		return "upstream feed returned no entry"
	default:
		return fmt.Sprintf("upstream response malformed: %v", e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
