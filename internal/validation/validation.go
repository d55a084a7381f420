// Package validation checks financial-operation and payment requests before
// any side effect. Every function is pure and returns all applicable messages.
package validation

import (
	"fmt"
	"strings"

	"kasirinaja/terminal/internal/domain"
)

// DefaultMaxTransactionCents is the ceiling for a single payment when no
// configuration overrides it (Rp 100.000.000).
const DefaultMaxTransactionCents int64 = 10_000_000_000

// SplitToleranceCents is the accepted difference between a split sum and the order total.
const SplitToleranceCents int64 = 1

const (
	MsgOrderIDRequired     = "order id is required"
	MsgReasonRequired      = "reason is required"
	MsgReasonCodeInvalid   = "reason code is not recognized"
	MsgActorIDRequired     = "actor id is required"
	MsgRefundAmountInvalid = "refund amount must be greater than 0"
	MsgRefundExceedsTotal  = "refund amount exceeds order total"
	MsgRefundMethodMissing = "refund method is required"
	MsgAmountInvalid       = "amount must be greater than 0"
	MsgCashInsufficient    = "cash received is less than amount"
	MsgAmountOverCeiling   = "amount exceeds maximum transaction limit"
	MsgMethodUnsupported   = "payment method is not supported"
	MsgNoPayments          = "at least one payment is required"
	MsgSplitUnderpaid      = "total payments are less than order total"
	MsgSplitOverpaid       = "total payments exceed order total"
)

type Validator struct {
	MaxTransactionCents int64
}

func New(maxTransactionCents int64) Validator {
	if maxTransactionCents < 1 {
		maxTransactionCents = DefaultMaxTransactionCents
	}
	return Validator{MaxTransactionCents: maxTransactionCents}
}

var defaultValidator = New(DefaultMaxTransactionCents)

func ValidateVoidInput(input domain.VoidInput) []string {
	return defaultValidator.ValidateVoidInput(input)
}

func ValidateRefundInput(input domain.RefundInput, orderTotalCents int64) []string {
	return defaultValidator.ValidateRefundInput(input, orderTotalCents)
}

func ValidatePayment(payment domain.Payment, orderTotalCents int64) domain.ValidationResult {
	return defaultValidator.ValidatePayment(payment, orderTotalCents)
}

func ValidateSplitPayments(payments []domain.Payment, orderTotalCents int64) domain.ValidationResult {
	return defaultValidator.ValidateSplitPayments(payments, orderTotalCents)
}

func (v Validator) ValidateVoidInput(input domain.VoidInput) []string {
	return commonErrors(input.OrderID, input.Reason, input.ReasonCode, input.ActorID)
}

func (v Validator) ValidateRefundInput(input domain.RefundInput, orderTotalCents int64) []string {
	errs := commonErrors(input.OrderID, input.Reason, input.ReasonCode, input.ActorID)
	if input.AmountCents <= 0 {
		errs = append(errs, MsgRefundAmountInvalid)
	} else if input.AmountCents > orderTotalCents {
		errs = append(errs, MsgRefundExceedsTotal)
	}
	if strings.TrimSpace(input.Method) == "" {
		errs = append(errs, MsgRefundMethodMissing)
	}
	return errs
}

// ValidatePayment checks one tender for the order. No single-payment rule
// reads orderTotalCents: the ceiling bounds the payment amount on its own, and
// matching the order total is ValidateSplitPayments' job.
func (v Validator) ValidatePayment(payment domain.Payment, orderTotalCents int64) domain.ValidationResult {
	return result(v.paymentErrors(payment))
}

func (v Validator) ValidateSplitPayments(payments []domain.Payment, orderTotalCents int64) domain.ValidationResult {
	if len(payments) == 0 {
		return result([]string{MsgNoPayments})
	}

	errs := make([]string, 0)
	total := int64(0)
	for i, payment := range payments {
		for _, msg := range v.paymentErrors(payment) {
			errs = append(errs, fmt.Sprintf("payment %d: %s", i+1, msg))
		}
		total += payment.AmountCents
	}

	diff := total - orderTotalCents
	switch {
	case diff < -SplitToleranceCents:
		errs = append(errs, MsgSplitUnderpaid)
	case diff > SplitToleranceCents:
		errs = append(errs, MsgSplitOverpaid)
	}
	return result(errs)
}

func (v Validator) paymentErrors(payment domain.Payment) []string {
	errs := make([]string, 0)
	if !domain.IsSupportedPaymentMethod(strings.ToLower(strings.TrimSpace(payment.Method))) {
		errs = append(errs, MsgMethodUnsupported)
	}
	if payment.AmountCents <= 0 {
		errs = append(errs, MsgAmountInvalid)
	}
	if strings.EqualFold(strings.TrimSpace(payment.Method), domain.PaymentCash) && payment.CashReceivedCents < payment.AmountCents {
		errs = append(errs, MsgCashInsufficient)
	}
	if payment.AmountCents > v.MaxTransactionCents {
		errs = append(errs, MsgAmountOverCeiling)
	}
	return errs
}

func commonErrors(orderID string, reason string, code domain.ReasonCode, actorID string) []string {
	errs := make([]string, 0, 4)
	if strings.TrimSpace(orderID) == "" {
		errs = append(errs, MsgOrderIDRequired)
	}
	if strings.TrimSpace(reason) == "" {
		errs = append(errs, MsgReasonRequired)
	}
	if !code.Valid() {
		errs = append(errs, MsgReasonCodeInvalid)
	}
	if strings.TrimSpace(actorID) == "" {
		errs = append(errs, MsgActorIDRequired)
	}
	return errs
}

func result(errs []string) domain.ValidationResult {
	if errs == nil {
		errs = []string{}
	}
	return domain.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
