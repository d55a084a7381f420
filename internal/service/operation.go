package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

const publishTimeout = 2 * time.Second

// operation is one void or refund, either fresh from the operator or decoded
// from a queued item. key doubles as the provisional id and the server-side
// idempotency key.
type operation struct {
	kind   domain.OperationKind
	key    string
	void   *domain.VoidInput
	refund *domain.RefundInput
	at     time.Time
	force  bool
}

func (o operation) orderID() string {
	if o.refund != nil {
		return o.refund.OrderID
	}
	if o.void != nil {
		return o.void.OrderID
	}
	return ""
}

func (o operation) actorID() string {
	if o.refund != nil {
		return o.refund.ActorID
	}
	if o.void != nil {
		return o.void.ActorID
	}
	return ""
}

func (o operation) amountCents() int64 {
	if o.refund != nil {
		return o.refund.AmountCents
	}
	return 0
}

func (o operation) payload(t Terminal) domain.OperationPayload {
	return domain.OperationPayload{
		Kind:         o.kind,
		OperationKey: o.key,
		StoreID:      t.StoreID,
		TerminalID:   t.TerminalID,
		Void:         o.void,
		Refund:       o.refund,
		ForceApply:   o.force,
	}
}

func operationFromItem(item domain.SyncQueueItem) (operation, error) {
	var p domain.OperationPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return operation{}, fmt.Errorf("decode payload: %w", err)
	}
	op := operation{
		kind:   p.Kind,
		key:    p.OperationKey,
		void:   p.Void,
		refund: p.Refund,
		at:     item.CreatedAt,
		force:  p.ForceApply,
	}
	switch {
	case op.key == "":
		return operation{}, errors.New("payload has no operation key")
	case op.kind == domain.OperationVoid && op.void == nil,
		op.kind == domain.OperationRefund && op.refund == nil:
		return operation{}, fmt.Errorf("payload has no %s input", op.kind)
	case op.kind != domain.OperationVoid && op.kind != domain.OperationRefund:
		return operation{}, fmt.Errorf("unknown operation kind %q", op.kind)
	}
	return op, nil
}

// remote holds the steps the online Executor path and the Reconciler share.
type remote struct {
	terminal   Terminal
	deps       Deps
	log        zerolog.Logger
	publishing *sync.WaitGroup
}

func (r *remote) checkPermission(ctx context.Context, op operation) *domain.OperationError {
	permission := op.kind.Permission()
	ok, err := r.deps.Datastore.HasPermission(ctx, op.actorID(), permission)
	if err != nil {
		return domain.WrapTransient(err)
	}
	if !ok {
		return domain.NewOperationError(domain.CodePermission, MsgPermissionDenied, permission)
	}
	return nil
}

func (r *remote) fetchOrder(ctx context.Context, op operation) (*domain.Order, *domain.OperationError) {
	order, err := r.deps.Datastore.GetOrder(ctx, op.orderID())
	if err != nil {
		return nil, fromStoreError(err)
	}
	return order, nil
}

// mutate applies op under its operation key. A datastore that already holds
// the key returns the earlier record instead of applying twice.
func (r *remote) mutate(ctx context.Context, op operation) (*domain.AppliedOperation, *domain.OperationError) {
	var (
		applied *domain.AppliedOperation
		err     error
	)
	switch op.kind {
	case domain.OperationVoid:
		applied, err = r.deps.Datastore.VoidOrder(ctx, domain.VoidMutation{
			OperationKey: op.key,
			OrderID:      op.void.OrderID,
			Reason:       op.void.Reason,
			ReasonCode:   op.void.ReasonCode,
			ActorID:      op.void.ActorID,
			At:           op.at,
		})
	case domain.OperationRefund:
		applied, err = r.deps.Datastore.RefundOrder(ctx, domain.RefundMutation{
			OperationKey: op.key,
			OrderID:      op.refund.OrderID,
			Reason:       op.refund.Reason,
			ReasonCode:   op.refund.ReasonCode,
			ActorID:      op.refund.ActorID,
			AmountCents:  op.refund.AmountCents,
			Method:       op.refund.Method,
			At:           op.at,
		})
	default:
		return nil, domain.NewOperationError(domain.CodeValidation, fmt.Sprintf("unknown operation kind %q", op.kind))
	}
	if err == nil {
		return applied, nil
	}

	if errors.Is(err, store.ErrInvalidTransaction) {
		// The order changed between the eligibility check and the write.
		if order, fetchErr := r.deps.Datastore.GetOrder(ctx, op.orderID()); fetchErr == nil {
			if opErr := CheckEligibility(op.kind, *order, op.amountCents()); opErr != nil {
				return nil, opErr
			}
		}
	}
	return nil, fromStoreError(err)
}

// recordAudit writes the audit entry for applied and links it to the
// operation record. It returns the audit id.
func (r *remote) recordAudit(ctx context.Context, op operation, applied domain.AppliedOperation) (string, error) {
	var (
		auditID string
		err     error
	)
	switch op.kind {
	case domain.OperationVoid:
		auditID, err = r.deps.Audit.LogVoidOperation(ctx, r.terminal.StoreID, applied, *op.void)
	case domain.OperationRefund:
		auditID, err = r.deps.Audit.LogRefundOperation(ctx, r.terminal.StoreID, applied, *op.refund)
	}
	if err != nil {
		return "", err
	}

	if err := r.deps.Datastore.AttachAuditLog(ctx, applied.ID, auditID); err != nil {
		r.log.Warn().Err(err).Str("operation", applied.ID).Str("audit", auditID).Msg("failed to link audit log to operation")
	}
	return auditID, nil
}

// publish broadcasts applied in the background so a slow broker never holds
// up the operator. WaitPublished blocks until every broadcast has finished.
func (r *remote) publish(ctx context.Context, op operation, applied domain.AppliedOperation) {
	event := domain.OperationEvent{
		Kind:        op.kind,
		OperationID: applied.ID,
		OrderID:     applied.OrderID,
		StoreID:     r.terminal.StoreID,
		TerminalID:  r.terminal.TerminalID,
		AmountCents: applied.AmountCents,
		AppliedAt:   applied.AppliedAt,
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)

	r.publishing.Add(1)
	go func() {
		defer r.publishing.Done()
		defer cancel()
		if err := r.deps.Notifier.Publish(pubCtx, event); err != nil {
			r.log.Warn().Err(err).Str("operation", applied.ID).Msg("failed to broadcast operation")
		}
	}()
}

func (r *remote) WaitPublished() {
	r.publishing.Wait()
}

func fromStoreError(err error) *domain.OperationError {
	var opErr *domain.OperationError
	switch {
	case errors.As(err, &opErr):
		return opErr
	case errors.Is(err, store.ErrNotFound):
		return domain.NewOperationError(domain.CodeNotFound, MsgOrderNotFound)
	case errors.Is(err, store.ErrInvalidTransaction):
		return domain.NewOperationError(domain.CodeEligibility, "order is no longer eligible for this operation")
	default:
		return domain.WrapTransient(err)
	}
}
