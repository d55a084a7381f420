// Package audit records one audit log entry per applied void or refund.
package audit

import (
	"context"
	"fmt"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/xid"
)

const (
	ActionVoid   = "void_order"
	ActionRefund = "refund_order"
	EntityOrder  = "order"
)

// Logger returns the id of the audit log it wrote.
type Logger interface {
	LogVoidOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.VoidInput) (string, error)
	LogRefundOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.RefundInput) (string, error)
}

// Writer is the subset of the remote datastore the audit trail needs.
type Writer interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type StoreLogger struct {
	w   Writer
	now func() time.Time
}

func NewStoreLogger(w Writer) *StoreLogger {
	return &StoreLogger{w: w, now: func() time.Time { return time.Now().UTC() }}
}

func (l *StoreLogger) LogVoidOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.VoidInput) (string, error) {
	detail := fmt.Sprintf("operation=%s,reason_code=%s,reason=%s", op.ID, input.ReasonCode, input.Reason)
	return l.write(ctx, storeID, input.ActorID, ActionVoid, op.OrderID, detail)
}

func (l *StoreLogger) LogRefundOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.RefundInput) (string, error) {
	detail := fmt.Sprintf("operation=%s,amount=%d,method=%s,reason_code=%s,reason=%s",
		op.ID, input.AmountCents, input.Method, input.ReasonCode, input.Reason)
	return l.write(ctx, storeID, input.ActorID, ActionRefund, op.OrderID, detail)
}

func (l *StoreLogger) write(ctx context.Context, storeID string, actorID string, action string, orderID string, detail string) (string, error) {
	if actorID == "" {
		actorID = "system"
	}

	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    storeID,
		ActorID:    actorID,
		Action:     action,
		EntityType: EntityOrder,
		EntityID:   orderID,
		Detail:     detail,
		CreatedAt:  l.now(),
	}
	if err := l.w.CreateAuditLog(ctx, entry); err != nil {
		return "", fmt.Errorf("write audit log action=%s entity=%s/%s: %w", action, EntityOrder, orderID, err)
	}
	return entry.ID, nil
}

var _ Logger = (*StoreLogger)(nil)
