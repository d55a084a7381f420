package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kasirinaja/terminal/internal/domain"
)

func TestCheckEligibility(t *testing.T) {
	cases := []struct {
		name    string
		kind    domain.OperationKind
		order   domain.Order
		amount  int64
		wantMsg string
	}{
		{name: "void open", kind: domain.OperationVoid, order: domain.Order{Status: domain.OrderStatusOpen}},
		{name: "void voided", kind: domain.OperationVoid, order: domain.Order{Status: domain.OrderStatusVoided}, wantMsg: MsgAlreadyVoided},
		{name: "void refunded", kind: domain.OperationVoid, order: domain.Order{Status: domain.OrderStatusRefunded}, wantMsg: MsgAlreadyRefunded},
		{name: "void completed", kind: domain.OperationVoid, order: domain.Order{Status: domain.OrderStatusCompleted}, wantMsg: MsgCompletedRefundOnly},
		{name: "refund completed", kind: domain.OperationRefund, order: domain.Order{Status: domain.OrderStatusCompleted, TotalCents: 100}, amount: 100},
		{name: "refund partial balance", kind: domain.OperationRefund, order: domain.Order{Status: domain.OrderStatusCompleted, TotalCents: 100, RefundedCents: 60}, amount: 41, wantMsg: MsgRefundExceedsBalance},
		{name: "refund open", kind: domain.OperationRefund, order: domain.Order{Status: domain.OrderStatusOpen}, amount: 1, wantMsg: MsgRefundRequiresComplete},
		{name: "refund voided", kind: domain.OperationRefund, order: domain.Order{Status: domain.OrderStatusVoided}, amount: 1, wantMsg: MsgAlreadyVoided},
		{name: "refund refunded", kind: domain.OperationRefund, order: domain.Order{Status: domain.OrderStatusRefunded}, amount: 1, wantMsg: MsgAlreadyRefunded},
		{name: "unknown status", kind: domain.OperationVoid, order: domain.Order{Status: "draft"}, wantMsg: `order status "draft" does not allow void`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CheckEligibility(tc.kind, tc.order, tc.amount)
			if tc.wantMsg == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, domain.CodeEligibility, got.Code)
				assert.Equal(t, tc.wantMsg, got.Message)
			}
		})
	}
}
