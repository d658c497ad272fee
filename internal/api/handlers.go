package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hdevtech/ticket/internal/settlement"
	"github.com/hdevtech/ticket/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	purchaseUC   *usecase.PurchaseTicket
	receiptUC    *usecase.GetReceipt
	settlementUC *usecase.GetSettlement
	workflow     *settlement.Workflow
	runner       *settlement.Runner
	syncTimeout  time.Duration
}

func NewHandlers(
	purchaseUC *usecase.PurchaseTicket,
	receiptUC *usecase.GetReceipt,
	settlementUC *usecase.GetSettlement,
	workflow *settlement.Workflow,
	runner *settlement.Runner,
	syncTimeout time.Duration,
) *Handlers {
	if syncTimeout <= 0 {
		syncTimeout = 2 * time.Minute
	}
	return &Handlers{
		purchaseUC:   purchaseUC,
		receiptUC:    receiptUC,
		settlementUC: settlementUC,
		workflow:     workflow,
		runner:       runner,
		syncTimeout:  syncTimeout,
	}
}

func (h *Handlers) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	var req usecase.PurchaseParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.purchaseUC.Execute(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.receiptUC.Execute(r.Context(), chi.URLParam(r, "tx_ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !receipt.Ticket.PaymentStatus.IsTerminal() {
		noCache(w)
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handlers) GetSettlement(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "tx_ref")
	view, err := h.settlementUC.Execute(r.Context(), txRef)
	if err != nil {
		writeError(w, r, err)
		return
	}

	noCache(w)
	writeJSON(w, http.StatusOK, struct {
		*usecase.SettlementView
		Running bool `json:"running"`
	}{view, h.runner.Running(txRef)})
}

// StartSettlement begins background settlement of a tx_ref.
func (h *Handlers) StartSettlement(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "tx_ref")
	started := h.runner.Start(txRef)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"tx_ref":  txRef,
		"started": started,
	})
}

// CancelSettlement stops background polling of a tx_ref, as when the payer
// leaves the waiting view.
func (h *Handlers) CancelSettlement(w http.ResponseWriter, r *http.Request) {
	if !h.runner.Cancel(chi.URLParam(r, "tx_ref")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no settlement running"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SettleSync settles within the request. ?timeout= bounds the wait and is
// capped at the configured sync timeout.
func (h *Handlers) SettleSync(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	out, err := h.workflow.Settle(ctx, chi.URLParam(r, "tx_ref"))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return h.syncTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return min(d, h.syncTimeout), nil
}
