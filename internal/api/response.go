// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/boreal/internal/logging"
)

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable error codes.
const (
	errCodeBadRequest         = "BAD_REQUEST"
	errCodeNotFound           = "NOT_FOUND"
	errCodeInternalError      = "INTERNAL_ERROR"
	errCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeData(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}
