package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/payment"
)

// validatePaymentsRequest checks a single payment when Payments is empty and
// a split against OrderTotalCents otherwise.
type validatePaymentsRequest struct {
	Payment         *domain.Payment  `json:"payment,omitempty"`
	Payments        []domain.Payment `json:"payments,omitempty"`
	OrderTotalCents int64            `json:"order_total_cents"`
}

type changeRequest struct {
	AmountDueCents    int64 `json:"amount_due_cents"`
	CashReceivedCents int64 `json:"cash_received_cents"`
}

const (
	splitAdd    = "add"
	splitRemove = "remove"
	splitReset  = "reset"
)

type splitRequest struct {
	Action     string             `json:"action"`
	TotalCents int64              `json:"total_cents"`
	State      *domain.SplitState `json:"state,omitempty"`
	Payment    *domain.Payment    `json:"payment,omitempty"`
	Index      int                `json:"index"`
}

func (a *API) handleValidatePayments(w http.ResponseWriter, r *http.Request) {
	var req validatePaymentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	switch {
	case len(req.Payments) > 0:
		writeJSON(w, http.StatusOK, a.services.Validator.ValidateSplitPayments(req.Payments, req.OrderTotalCents))
	case req.Payment != nil:
		writeJSON(w, http.StatusOK, a.services.Validator.ValidatePayment(*req.Payment, req.OrderTotalCents))
	default:
		writeJSON(w, http.StatusOK, a.services.Validator.ValidateSplitPayments(nil, req.OrderTotalCents))
	}
}

func (a *API) handleChange(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"change_cents": payment.CalculateChange(req.AmountDueCents, req.CashReceivedCents),
	})
}

func (a *API) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.TotalCents < 0 {
		writeError(w, r, http.StatusBadRequest, errors.New("total_cents must not be negative"))
		return
	}

	state := payment.NewSplitState(req.TotalCents)
	if req.State != nil {
		state = *req.State
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case splitAdd:
		if req.Payment == nil {
			writeError(w, r, http.StatusBadRequest, errors.New("payment is required for add"))
			return
		}
		state = payment.AddPayment(state, *req.Payment, req.TotalCents)
	case splitRemove:
		state = payment.RemovePayment(state, req.Index, req.TotalCents)
	case splitReset:
		state = payment.ResetSplitState(req.TotalCents)
	default:
		writeError(w, r, http.StatusBadRequest, errors.New("action must be add, remove or reset"))
		return
	}
	writeJSON(w, http.StatusOK, state)
}
