// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

// Package api provides the HTTP surface: health probes, a human-readable
// status page, and Prometheus metrics. The reconciliation path never
// depends on this package.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/openfleet/posrelay/internal/logging"
)

// APIResponse is the standardized response wrapper for JSON endpoints.
type APIResponse struct {
	// Success indicates whether the request was successful
	Success bool `json:"success"`

	// Data contains the response payload (null on error)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details (null on success)
	Error *APIError `json:"error,omitempty"`

	// Timestamp is when the response was generated
	Timestamp time.Time `json:"timestamp"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`
}

// Error codes for API responses
const (
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	response.Timestamp = time.Now()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logging.Error().Err(err).Msg("Failed to encode API response")
	}
}

// respondError writes a standardized error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}
