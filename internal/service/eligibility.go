package service

import (
	"fmt"

	"kasirinaja/terminal/internal/domain"
)

const (
	MsgAlreadyVoided          = "order is already voided"
	MsgAlreadyRefunded        = "order is already refunded"
	MsgCompletedRefundOnly    = "completed orders can only be refunded"
	MsgRefundRequiresComplete = "only completed orders can be refunded"
	MsgRefundExceedsBalance   = "refund exceeds refundable balance"
	MsgOrderNotFound          = "order not found on server"
	MsgPermissionDenied       = "actor lacks permission"
)

// CheckEligibility applies the order lifecycle rules for kind. amountCents is
// ignored for voids.
func CheckEligibility(kind domain.OperationKind, order domain.Order, amountCents int64) *domain.OperationError {
	switch order.Status {
	case domain.OrderStatusVoided:
		return ineligible(MsgAlreadyVoided)
	case domain.OrderStatusRefunded:
		return ineligible(MsgAlreadyRefunded)
	}

	switch kind {
	case domain.OperationVoid:
		switch order.Status {
		case domain.OrderStatusOpen:
			return nil
		case domain.OrderStatusCompleted:
			return ineligible(MsgCompletedRefundOnly)
		}
	case domain.OperationRefund:
		switch order.Status {
		case domain.OrderStatusCompleted:
			if amountCents > order.RefundableCents() {
				return ineligible(MsgRefundExceedsBalance,
					fmt.Sprintf("requested %d, refundable %d", amountCents, order.RefundableCents()))
			}
			return nil
		case domain.OrderStatusOpen:
			return ineligible(MsgRefundRequiresComplete)
		}
	}
	return ineligible(fmt.Sprintf("order status %q does not allow %s", order.Status, kind))
}

func ineligible(reason string, details ...string) *domain.OperationError {
	return domain.NewOperationError(domain.CodeEligibility, reason, details...)
}
