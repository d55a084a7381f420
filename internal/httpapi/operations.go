package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/service"
)

type voidRequest struct {
	Reason     string            `json:"reason"`
	ReasonCode domain.ReasonCode `json:"reason_code"`
	ManagerPIN string            `json:"manager_pin"`
}

type refundRequest struct {
	Reason          string            `json:"reason"`
	ReasonCode      domain.ReasonCode `json:"reason_code"`
	AmountCents     int64             `json:"amount_cents"`
	Method          string            `json:"method"`
	OrderTotalCents int64             `json:"order_total_cents"`
	ManagerPIN      string            `json:"manager_pin"`
}

type retryRequest struct {
	Force bool `json:"force"`
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req voidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "void", req.ManagerPIN) {
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	result, err := a.services.Executor.Void(r.Context(), domain.VoidInput{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:     req.Reason,
		ReasonCode: req.ReasonCode,
		ActorID:    actor.Username,
	})
	writeOperationResult(w, result, err)
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "refund", req.ManagerPIN) {
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	result, err := a.services.Executor.Refund(r.Context(), domain.RefundInput{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:          req.Reason,
		ReasonCode:      req.ReasonCode,
		ActorID:         actor.Username,
		AmountCents:     req.AmountCents,
		Method:          strings.ToLower(strings.TrimSpace(req.Method)),
		OrderTotalCents: req.OrderTotalCents,
	})
	writeOperationResult(w, result, err)
}

func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, r, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, r, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

// writeOperationResult sends the result body for every outcome; a queued
// operation is accepted rather than applied.
func writeOperationResult(w http.ResponseWriter, result domain.OperationResult, err error) {
	if err != nil {
		opErr := domain.AsOperationError(err)
		result.Error = opErr
		writeJSON(w, statusFor(opErr.Code), result)
		return
	}
	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := a.services.Reconciler.Pending(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	depth := queue.Depth(items)
	status := domain.SyncStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" {
		items = queue.Filter(items, status)
	}
	if limit := parsePositiveLimit(r.URL.Query().Get("limit"), 0, 500); limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"depth": depth,
	})
}

func (a *API) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := a.services.Reconciler.Discard(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		writeQueueError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	item, err := a.services.Reconciler.Retry(r.Context(), chi.URLParam(r, "itemID"), req.Force)
	if err != nil {
		writeQueueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	summary, err := a.services.Reconciler.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrItemSyncing):
		status = http.StatusConflict
	}
	writeError(w, r, status, err)
}
