package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError / writeDecision, so
// every error response has the same shape:
//
//	{"error": "insufficient_credit", "message": "insufficient credit for user github:42"}
//
// "error" is machine-readable and stable. Clients branch on it to tell
// "sign in" (unauthorized) from "buy credits" (insufficient_credit) from
// "try again later" (storage_unavailable).

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/service"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = "5"

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "insufficient_credit")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything set afterwards is ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation         → 400 validation_error
//	ErrUnauthorized       → 401 unauthorized
//	ErrInsufficientCredit → 402 insufficient_credit
//	ErrForbidden          → 403 forbidden
//	ErrStorageUnavailable → 503 storage_unavailable
//
// Anything that is not an *apperror.AppError becomes a generic 500. The
// AppError Cause is never sent; it can hold driver messages and SQL.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = string(service.ReasonUnauthorized)
		case errors.Is(err, apperror.ErrInsufficientCredit):
			status = http.StatusPaymentRequired
			errorType = string(service.ReasonInsufficientCredit)
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = string(service.ReasonForbidden)
		case errors.Is(err, apperror.ErrStorageUnavailable):
			status = http.StatusServiceUnavailable
			errorType = string(service.ReasonStorageUnavailable)
			w.Header().Set("Retry-After", retryAfterSeconds)
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// writeDecision sends the response for a denied gate.
func writeDecision(w http.ResponseWriter, d service.Decision) {
	writeError(w, d.Err())
}
