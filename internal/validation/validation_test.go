package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
)

func validVoid() domain.VoidInput {
	return domain.VoidInput{
		OrderID:    "order-1",
		Reason:     "scanned twice",
		ReasonCode: domain.ReasonDuplicateCharge,
		ActorID:    "cashier-a",
	}
}

func TestValidateVoidInputAcceptsValidInput(t *testing.T) {
	assert.Empty(t, ValidateVoidInput(validVoid()))
}

func TestValidateVoidInputReportsEachMissingField(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.VoidInput)
		want   string
	}{
		{"order id", func(in *domain.VoidInput) { in.OrderID = "" }, MsgOrderIDRequired},
		{"blank reason", func(in *domain.VoidInput) { in.Reason = "   " }, MsgReasonRequired},
		{"reason code", func(in *domain.VoidInput) { in.ReasonCode = "because" }, MsgReasonCodeInvalid},
		{"actor", func(in *domain.VoidInput) { in.ActorID = "" }, MsgActorIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validVoid()
			tc.mutate(&input)
			errs := ValidateVoidInput(input)
			assert.Equal(t, []string{tc.want}, errs)
		})
	}
}

func TestValidateVoidInputReturnsAllMessagesTogether(t *testing.T) {
	errs := ValidateVoidInput(domain.VoidInput{})
	assert.ElementsMatch(t, []string{MsgOrderIDRequired, MsgReasonRequired, MsgReasonCodeInvalid, MsgActorIDRequired}, errs)
}

func TestValidateRefundInput(t *testing.T) {
	base := domain.RefundInput{
		OrderID:     "order-1",
		Reason:      "customer return",
		ReasonCode:  domain.ReasonCustomerRequest,
		ActorID:     "manager",
		AmountCents: 50000,
		Method:      domain.PaymentCash,
	}

	assert.Empty(t, ValidateRefundInput(base, 50000), "full refund is allowed")

	over := base
	over.AmountCents = 50001
	assert.Equal(t, []string{MsgRefundExceedsTotal}, ValidateRefundInput(over, 50000))

	zero := base
	zero.AmountCents = 0
	zero.Method = ""
	assert.ElementsMatch(t, []string{MsgRefundAmountInvalid, MsgRefundMethodMissing}, ValidateRefundInput(zero, 50000))
}

func TestValidatePayment(t *testing.T) {
	res := ValidatePayment(domain.Payment{Method: domain.PaymentCash, AmountCents: 20000, CashReceivedCents: 10000}, 20000)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, MsgCashInsufficient)

	res = ValidatePayment(domain.Payment{Method: domain.PaymentCard, AmountCents: 20000}, 20000)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)

	capped := New(100000)
	res = capped.ValidatePayment(domain.Payment{Method: domain.PaymentCard, AmountCents: 100001}, 100001)
	assert.Equal(t, []string{MsgAmountOverCeiling}, res.Errors)
}

func TestValidatePaymentCeilingIgnoresOrderTotal(t *testing.T) {
	capped := New(100000)
	card := domain.Payment{Method: domain.PaymentCard, AmountCents: 100000}

	for _, total := range []int64{0, 50000, 100000, 500000} {
		assert.True(t, capped.ValidatePayment(card, total).Valid, "order total %d", total)
	}

	card.AmountCents = 100001
	for _, total := range []int64{0, 100001, 500000} {
		assert.Equal(t, []string{MsgAmountOverCeiling}, capped.ValidatePayment(card, total).Errors, "order total %d", total)
	}
}

func TestValidateSplitPayments(t *testing.T) {
	t.Run("exact total", func(t *testing.T) {
		res := ValidateSplitPayments([]domain.Payment{
			{Method: domain.PaymentCash, AmountCents: 100000, CashReceivedCents: 100000},
			{Method: domain.PaymentCard, AmountCents: 50000},
		}, 150000)
		assert.True(t, res.Valid, res.Errors)
	})

	t.Run("underpaid", func(t *testing.T) {
		res := ValidateSplitPayments([]domain.Payment{
			{Method: domain.PaymentCash, AmountCents: 50000, CashReceivedCents: 50000},
			{Method: domain.PaymentCard, AmountCents: 50000},
		}, 150000)
		require.False(t, res.Valid)
		assert.True(t, containsSubstring(res.Errors, "less than order total"))
	})

	t.Run("overpaid", func(t *testing.T) {
		res := ValidateSplitPayments([]domain.Payment{
			{Method: domain.PaymentCash, AmountCents: 100000, CashReceivedCents: 100000},
			{Method: domain.PaymentCard, AmountCents: 100000},
		}, 150000)
		require.False(t, res.Valid)
		assert.True(t, containsSubstring(res.Errors, "exceeds order total"))
	})

	t.Run("within tolerance", func(t *testing.T) {
		res := ValidateSplitPayments([]domain.Payment{
			{Method: domain.PaymentCash, AmountCents: 99999, CashReceivedCents: 100000},
			{Method: domain.PaymentCard, AmountCents: 50000},
		}, 150000)
		assert.True(t, res.Valid, res.Errors)
	})

	t.Run("empty", func(t *testing.T) {
		res := ValidateSplitPayments(nil, 150000)
		assert.Equal(t, []string{MsgNoPayments}, res.Errors)
	})

	t.Run("position in message", func(t *testing.T) {
		res := ValidateSplitPayments([]domain.Payment{
			{Method: domain.PaymentCard, AmountCents: 150000},
			{Method: domain.PaymentCash, AmountCents: 0},
		}, 150000)
		require.False(t, res.Valid)
		assert.Contains(t, res.Errors, "payment 2: "+MsgAmountInvalid)
	})
}

func containsSubstring(messages []string, fragment string) bool {
	for _, msg := range messages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
