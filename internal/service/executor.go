package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/logging"
	"kasirinaja/terminal/internal/telemetry"
	"kasirinaja/terminal/internal/xid"
)

const queueEntityOrders = "orders"

// Executor runs voids and refunds. Online it checks permission and eligibility
// against the datastore and applies the mutation; offline it queues the
// operation and reports provisional success.
type Executor struct {
	remote
}

func NewExecutor(terminal Terminal, deps Deps) *Executor {
	return &Executor{remote{
		terminal:   terminal.withDefaults(),
		deps:       deps.withDefaults(),
		log:        logging.With("executor"),
		publishing: &sync.WaitGroup{},
	}}
}

func (e *Executor) Void(ctx context.Context, input domain.VoidInput) (domain.OperationResult, error) {
	if errs := e.deps.Validator.ValidateVoidInput(input); len(errs) > 0 {
		return e.reject(domain.OperationVoid, domain.NewOperationError(domain.CodeValidation, "invalid void request", errs...))
	}
	return e.execute(ctx, operation{
		kind: domain.OperationVoid,
		key:  xid.Provisional(domain.OperationVoid),
		void: &input,
		at:   e.deps.Now(),
	})
}

// Refund validates against input.OrderTotalCents, the total the terminal has
// for the order, so the same rules hold online and offline.
func (e *Executor) Refund(ctx context.Context, input domain.RefundInput) (domain.OperationResult, error) {
	if errs := e.deps.Validator.ValidateRefundInput(input, input.OrderTotalCents); len(errs) > 0 {
		return e.reject(domain.OperationRefund, domain.NewOperationError(domain.CodeValidation, "invalid refund request", errs...))
	}
	return e.execute(ctx, operation{
		kind:   domain.OperationRefund,
		key:    xid.Provisional(domain.OperationRefund),
		refund: &input,
		at:     e.deps.Now(),
	})
}

func (e *Executor) execute(ctx context.Context, op operation) (domain.OperationResult, error) {
	if !e.deps.Connectivity.Online() {
		return e.enqueue(ctx, op)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.deps.RequestTimeout)
	defer cancel()

	if opErr := e.checkPermission(callCtx, op); opErr != nil {
		return e.rejectOrDegrade(ctx, op, opErr)
	}

	order, opErr := e.fetchOrder(callCtx, op)
	if opErr != nil {
		return e.rejectOrDegrade(ctx, op, opErr)
	}
	if opErr := CheckEligibility(op.kind, *order, op.amountCents()); opErr != nil {
		return e.reject(op.kind, opErr)
	}

	applied, opErr := e.mutate(callCtx, op)
	if opErr != nil {
		return e.rejectOrDegrade(ctx, op, opErr)
	}

	e.deps.Metrics.ObserveOperation(op.kind, telemetry.OutcomeApplied)
	auditID, err := e.recordAudit(callCtx, op, *applied)
	if err != nil {
		return e.queueAuditBackfill(ctx, op, *applied, err)
	}
	e.publish(ctx, op, *applied)

	e.log.Info().
		Str("kind", string(op.kind)).
		Str("operation", applied.ID).
		Str("order", applied.OrderID).
		Int64("amount_cents", applied.AmountCents).
		Msg("operation applied")

	return domain.OperationResult{
		Success:     true,
		OperationID: applied.ID,
		Origin:      domain.OriginServer,
		AuditLogID:  auditID,
	}, nil
}

// rejectOrDegrade queues op when the failure was transient. The mutation may
// or may not have reached the server; the shared operation key lets the
// reconciler tell which.
func (e *Executor) rejectOrDegrade(ctx context.Context, op operation, opErr *domain.OperationError) (domain.OperationResult, error) {
	if !opErr.Retryable() {
		return e.reject(op.kind, opErr)
	}
	e.log.Warn().Err(opErr).Str("kind", string(op.kind)).Str("order", op.orderID()).Msg("datastore unreachable, queueing operation")
	e.deps.Connectivity.Set(false)
	return e.enqueue(ctx, op)
}

// queueAuditBackfill handles a mutation that is committed but unaudited. The
// operation is queued under its key; the reconciler finds the applied record
// and writes the audit entry and broadcast then.
func (e *Executor) queueAuditBackfill(ctx context.Context, op operation, applied domain.AppliedOperation, auditErr error) (domain.OperationResult, error) {
	log := e.log.With().Str("operation", applied.ID).Str("order", applied.OrderID).Logger()

	result := domain.OperationResult{
		Success:     true,
		OperationID: applied.ID,
		Origin:      domain.OriginServer,
	}
	item, err := e.appendOperation(ctx, op)
	if err != nil {
		log.Error().Err(err).AnErr("audit_error", auditErr).Msg("audit log not written and could not be queued")
		return result, nil
	}
	log.Warn().Err(auditErr).Str("queue_item", item.ID).Msg("audit log not written, queued for backfill")
	result.QueueItemID = item.ID
	return result, nil
}

func (e *Executor) appendOperation(ctx context.Context, op operation) (*domain.SyncQueueItem, error) {
	payload, err := json.Marshal(op.payload(e.terminal))
	if err != nil {
		return nil, fmt.Errorf("encode queue payload: %w", err)
	}
	item, err := e.deps.Queue.Append(ctx, domain.SyncQueueItem{
		Entity:    queueEntityOrders,
		Action:    domain.SyncActionUpdate,
		EntityID:  op.orderID(),
		Payload:   payload,
		CreatedAt: op.at,
		Status:    domain.SyncPending,
	})
	if err != nil {
		return nil, fmt.Errorf("queue operation: %w", err)
	}
	return item, nil
}

func (e *Executor) enqueue(ctx context.Context, op operation) (domain.OperationResult, error) {
	item, err := e.appendOperation(ctx, op)
	if err != nil {
		return e.reject(op.kind, domain.WrapTransient(err))
	}
	e.deps.Metrics.ObserveOperation(op.kind, telemetry.OutcomeQueued)

	e.log.Info().
		Str("kind", string(op.kind)).
		Str("operation", op.key).
		Str("order", op.orderID()).
		Str("queue_item", item.ID).
		Msg("operation queued for sync")

	return domain.OperationResult{
		Success:     true,
		OperationID: op.key,
		Origin:      domain.OriginLocal,
		Queued:      true,
		QueueItemID: item.ID,
	}, nil
}

func (e *Executor) reject(kind domain.OperationKind, opErr *domain.OperationError) (domain.OperationResult, error) {
	e.deps.Metrics.ObserveOperation(kind, telemetry.OutcomeRejected)
	return domain.OperationResult{Success: false, Error: opErr}, opErr
}
