package payment

import (
	"kasirinaja/terminal/internal/domain"
)

// CashDenominationCents is the smallest physical cash unit change is paid in.
const CashDenominationCents int64 = 100

// CompletionToleranceCents is how close the paid sum must be to the total for a split to complete.
const CompletionToleranceCents int64 = 1

// CalculateChange returns the change owed, floored to the cash denomination so
// the store never hands back more than it owes.
func CalculateChange(amountDueCents int64, cashReceivedCents int64) int64 {
	change := cashReceivedCents - amountDueCents
	if change <= 0 {
		return 0
	}
	return change - change%CashDenominationCents
}

func NewSplitState(totalCents int64) domain.SplitState {
	return domain.SplitState{
		Payments:       []domain.Payment{},
		TotalPaidCents: 0,
		RemainingCents: totalCents,
		Status:         domain.SplitIdle,
	}
}

func ResetSplitState(totalCents int64) domain.SplitState {
	return NewSplitState(totalCents)
}

func AddPayment(state domain.SplitState, p domain.Payment, totalCents int64) domain.SplitState {
	payments := make([]domain.Payment, 0, len(state.Payments)+1)
	payments = append(payments, state.Payments...)
	payments = append(payments, p)
	return recompute(payments, totalCents)
}

// RemovePayment drops the payment at index. An out-of-range index returns an
// unchanged copy of the state.
func RemovePayment(state domain.SplitState, index int, totalCents int64) domain.SplitState {
	if index < 0 || index >= len(state.Payments) {
		payments := make([]domain.Payment, len(state.Payments))
		copy(payments, state.Payments)
		next := state
		next.Payments = payments
		return next
	}
	payments := make([]domain.Payment, 0, len(state.Payments)-1)
	payments = append(payments, state.Payments[:index]...)
	payments = append(payments, state.Payments[index+1:]...)
	return recompute(payments, totalCents)
}

func recompute(payments []domain.Payment, totalCents int64) domain.SplitState {
	paid := int64(0)
	for _, p := range payments {
		paid += p.AmountCents
	}
	remaining := totalCents - paid
	if remaining < 0 {
		remaining = 0
	}

	status := domain.SplitAdding
	switch {
	case len(payments) == 0:
		status = domain.SplitIdle
	case absInt64(paid-totalCents) <= CompletionToleranceCents:
		status = domain.SplitComplete
	}

	return domain.SplitState{
		Payments:       payments,
		TotalPaidCents: paid,
		RemainingCents: remaining,
		Status:         status,
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
