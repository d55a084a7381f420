package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/validation"
	"kasirinaja/terminal/internal/xid"
)

func TestVoidAppliesOnline(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusOpen, 45500)

	res, err := h.exec.Void(context.Background(), voidInput("order-1"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Queued)
	assert.Equal(t, domain.OriginServer, res.Origin)
	assert.NotEmpty(t, res.OperationID)
	assert.False(t, strings.HasPrefix(res.OperationID, xid.LocalPrefix))
	assert.NotEmpty(t, res.AuditLogID)

	order, err := h.ds.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusVoided, order.Status)

	logs := h.ds.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, res.AuditLogID, logs[0].ID)

	events := h.events()
	require.Len(t, events, 1)
	assert.Equal(t, res.OperationID, events[0].OperationID)
	assert.Equal(t, "T-01", events[0].TerminalID)
	assert.Empty(t, h.items(t))
}

func TestVoidAlreadyVoidedIsRejectedWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusVoided, 45500)

	res, err := h.exec.Void(context.Background(), voidInput("order-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEligibility)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, MsgAlreadyVoided, res.Error.Message)

	assert.Zero(t, h.ds.Mutations())
	assert.Zero(t, h.audit.Calls())
	assert.Empty(t, h.ds.AuditLogs())
	assert.Empty(t, h.items(t))
}

func TestVoidCompletedOrderMustBeRefunded(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusCompleted, 45500)

	_, err := h.exec.Void(context.Background(), voidInput("order-1"))
	assert.ErrorIs(t, err, domain.ErrEligibility)
	assert.EqualError(t, err, MsgCompletedRefundOnly)
}

func TestVoidUnknownOrderIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec.Void(context.Background(), voidInput("order-404"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.items(t))
}

func TestInvalidInputNeverReachesDatastore(t *testing.T) {
	h := newHarness(t)
	h.ds.SetUnavailable(true)

	res, err := h.exec.Void(context.Background(), domain.VoidInput{ReasonCode: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ElementsMatch(t, []string{
		validation.MsgOrderIDRequired,
		validation.MsgReasonRequired,
		validation.MsgReasonCodeInvalid,
		validation.MsgActorIDRequired,
	}, res.Error.Details)

	assert.Empty(t, h.items(t), "invalid input is not queued either")
	assert.True(t, h.monitor.Online(), "validation failures do not touch connectivity")
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusCompleted, 10000)

	input := refundInput("order-1", 5000, 10000)
	input.ActorID = "cashier"
	_, err := h.exec.Refund(context.Background(), input)

	assert.ErrorIs(t, err, domain.ErrPermission)
	assert.Zero(t, h.ds.Mutations())
	assert.Zero(t, h.audit.Calls())
}

func TestRefundTracksRefundableBalance(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusCompleted, 10000)
	ctx := context.Background()

	res, err := h.exec.Refund(ctx, refundInput("order-1", 8000, 10000))
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = h.exec.Refund(ctx, refundInput("order-1", 5000, 10000))
	assert.ErrorIs(t, err, domain.ErrEligibility)
	assert.ErrorContains(t, err, MsgRefundExceedsBalance)

	_, err = h.exec.Refund(ctx, refundInput("order-1", 2000, 10000))
	require.NoError(t, err)

	order, err := h.ds.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
	assert.Equal(t, int64(10000), order.RefundedCents)

	_, err = h.exec.Refund(ctx, refundInput("order-1", 1, 10000))
	assert.EqualError(t, err, MsgAlreadyRefunded)
	assert.Len(t, h.ds.AuditLogs(), 2)
}

func TestRefundValidatesAgainstKnownTotal(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec.Refund(context.Background(), refundInput("order-1", 12000, 10000))
	require.Error(t, err)
	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, domain.CodeValidation, opErr.Code)
	assert.Equal(t, []string{validation.MsgRefundExceedsTotal}, opErr.Details)
}

func TestOfflineOperationIsQueuedWithProvisionalID(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusOpen, 45500)
	h.monitor.Set(false)

	res, err := h.exec.Void(context.Background(), voidInput("order-1"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Queued)
	assert.Equal(t, domain.OriginLocal, res.Origin)
	assert.True(t, strings.HasPrefix(res.OperationID, "LOCAL-VOID-"), res.OperationID)
	assert.Empty(t, res.AuditLogID)

	items := h.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, res.QueueItemID, items[0].ID)
	assert.Equal(t, domain.SyncPending, items[0].Status)
	assert.Equal(t, "order-1", items[0].EntityID)
	assert.Equal(t, "orders", items[0].Entity)
	assert.True(t, t0.Equal(items[0].CreatedAt))

	op, err := operationFromItem(items[0])
	require.NoError(t, err)
	assert.Equal(t, res.OperationID, op.key)

	assert.Zero(t, h.ds.Mutations())
	assert.Zero(t, h.audit.Calls())
	assert.Empty(t, h.ds.AuditLogs())
}

func TestTransientFailureDegradesToQueue(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusCompleted, 10000)
	h.ds.SetUnavailable(true)

	res, err := h.exec.Refund(context.Background(), refundInput("order-1", 4000, 10000))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.True(t, strings.HasPrefix(res.OperationID, "LOCAL-REFUND-"))
	assert.False(t, h.monitor.Online(), "a transient failure marks the terminal offline")
	assert.Len(t, h.items(t), 1)
}

func TestAuditFailureDoesNotFailAppliedOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putOrder("order-1", domain.OrderStatusOpen, 45500)
	h.audit.setFail(true)

	res, err := h.exec.Void(ctx, voidInput("order-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Queued)
	assert.Equal(t, domain.OriginServer, res.Origin)
	assert.Empty(t, res.AuditLogID)
	assert.NotEmpty(t, res.QueueItemID, "the audit is queued for backfill")
	assert.Equal(t, 1, h.ds.Mutations())
	assert.Empty(t, h.events(), "no broadcast before the audit exists")
	queued := h.items(t)
	require.Len(t, queued, 1)
	var payload domain.OperationPayload
	require.NoError(t, json.Unmarshal(queued[0].Payload, &payload))

	h.audit.setFail(false)
	h.clock.Advance(time.Minute)
	summary, err := h.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Synced: 1}, summary)

	logs := h.ds.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, 1, h.ds.Mutations(), "backfill never applies the void again")
	assert.Empty(t, h.items(t))
	assert.Len(t, h.events(), 1)

	found, err := h.ds.FindOperationByKey(ctx, payload.OperationKey)
	require.NoError(t, err)
	assert.Equal(t, res.OperationID, found.ID)
	assert.Equal(t, logs[0].ID, found.AuditLogID)

	_, err = h.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.ds.AuditLogs(), 1)
}

func TestNotifierFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusOpen, 45500)
	h.notifier.err = errors.New("broker down")

	res, err := h.exec.Void(context.Background(), voidInput("order-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

type stalledNotifier struct {
	release chan struct{}
	done    chan struct{}
	err     error
}

func (n *stalledNotifier) Publish(ctx context.Context, _ domain.OperationEvent) error {
	defer close(n.done)
	select {
	case <-n.release:
	case <-ctx.Done():
		n.err = ctx.Err()
	}
	return n.err
}

func (n *stalledNotifier) Close() error { return nil }

func TestSlowNotifierDoesNotHoldOperator(t *testing.T) {
	h := newHarness(t)
	h.putOrder("order-1", domain.OrderStatusOpen, 45500)
	notifier := &stalledNotifier{release: make(chan struct{}), done: make(chan struct{})}
	deps := h.deps
	deps.Notifier = notifier
	exec := NewExecutor(h.terminal, deps)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := exec.Void(ctx, voidInput("order-1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.AuditLogID)

	// The request is over; its broadcast carries on.
	cancel()
	select {
	case <-notifier.done:
		t.Fatal("publish finished before the operation returned")
	default:
	}
	close(notifier.release)
	exec.WaitPublished()
	<-notifier.done
	assert.NoError(t, notifier.err)
}
