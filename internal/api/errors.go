package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hdevtech/ticket/internal/domain/payment"
	"github.com/hdevtech/ticket/internal/domain/ticket"
	"github.com/hdevtech/ticket/internal/session"
	"github.com/hdevtech/ticket/internal/settlement"
	"github.com/hdevtech/ticket/internal/usecase"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
}

// StatusFor maps a usecase or workflow error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, usecase.ErrInvalidPurchase), errors.Is(err, settlement.ErrInvalidTxRef):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, usecase.ErrChargeRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, ticket.ErrRouteNotFound), errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ticket.ErrDuplicateTxRef):
		return http.StatusConflict
	case errors.Is(err, payment.ErrGatewayUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, settlement.ErrTimedOut):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := errorResponse{Error: err.Error()}

	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
	case http.StatusBadGateway:
		resp.Error = "payment gateway unreachable, try again"
		resp.Retryable = true
	case http.StatusGatewayTimeout:
		resp.Retryable = true
	case http.StatusPaymentRequired:
		resp.Redirect = ticket.BrowsePath
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
