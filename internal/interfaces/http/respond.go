// Package http exposes the connection registry over a JSON API. Callers
// identify themselves with the X-Client-ID header; the provider segment
// of each route selects the adapter.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"ledgerlink/internal/domain/accounting"
	"ledgerlink/internal/domain/connection"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the accounting error taxonomy onto HTTP. Rate
// limits carry Retry-After through; dead refresh tokens surface as 401 so
// the client knows a new consent flow is needed.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		rateErr  *accounting.RateLimitError
		tokenErr *accounting.TokenRefreshError
		connErr  *accounting.ConnectionError
		availErr *accounting.UnavailableError
		authErr  *accounting.UnauthorizedError
		provErr  *accounting.ProviderError
	)

	switch {
	case errors.Is(err, connection.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active connection"})

	case errors.Is(err, connection.ErrInactive):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})

	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateErr.RetryAfter.Seconds())))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: rateErr.Error(),
			Code:  accounting.CodeRateLimitExceeded,
		})

	case errors.As(err, &tokenErr):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: tokenErr.Error(),
			Code:  accounting.CodeTokenRefreshFailed,
		})

	case errors.As(err, &connErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: connErr.Error(),
			Code:  accounting.CodeConnectionFailed,
		})

	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: authErr.Error(),
			Code:  accounting.CodeUnauthorized,
		})

	case errors.As(err, &availErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error: availErr.Error(),
			Code:  accounting.CodeProviderUnavailable,
		})

	case errors.As(err, &provErr):
		status := provErr.StatusCode
		if provErr.Code == accounting.CodeNotImplemented {
			status = http.StatusNotImplemented
		} else if status < 400 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, errorResponse{Error: provErr.Error(), Code: provErr.Code})

	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, accounting.ErrMissingAccount) ||
		errors.Is(err, accounting.ErrMissingVendor) ||
		errors.Is(err, accounting.ErrMissingCustomer) ||
		errors.Is(err, accounting.ErrNoLineItems) ||
		errors.Is(err, accounting.ErrUnbalancedJournal) ||
		errors.Is(err, accounting.ErrDebitAndCredit) ||
		errors.Is(err, accounting.ErrNeitherDebitCredit)
}

// clientID extracts the caller identity. Empty means the request cannot
// be served.
func clientID(r *http.Request) string {
	return r.Header.Get("X-Client-ID")
}

func parseProvider(w http.ResponseWriter, r *http.Request) (accounting.ProviderID, bool) {
	provider, err := accounting.ParseProviderID(r.PathValue("provider"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", false
	}
	return provider, true
}

func requireClient(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := clientID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Client-ID header is required"})
		return "", false
	}
	return id, true
}
