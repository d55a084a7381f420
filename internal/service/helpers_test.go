package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/audit"
	"kasirinaja/terminal/internal/connectivity"
	"kasirinaja/terminal/internal/domain"
	queuememory "kasirinaja/terminal/internal/queue/memory"
	"kasirinaja/terminal/internal/store/memory"
	"kasirinaja/terminal/internal/telemetry"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyAudit wraps the store-backed audit logger and can be told to fail.
type flakyAudit struct {
	inner *audit.StoreLogger
	mu    sync.Mutex
	fail  bool
	calls int
}

func (a *flakyAudit) setFail(fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = fail
}

func (a *flakyAudit) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *flakyAudit) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return errors.New("audit backend down")
	}
	return nil
}

func (a *flakyAudit) LogVoidOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.VoidInput) (string, error) {
	if err := a.check(); err != nil {
		return "", err
	}
	return a.inner.LogVoidOperation(ctx, storeID, op, input)
}

func (a *flakyAudit) LogRefundOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.RefundInput) (string, error) {
	if err := a.check(); err != nil {
		return "", err
	}
	return a.inner.LogRefundOperation(ctx, storeID, op, input)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.OperationEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event domain.OperationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) Events() []domain.OperationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.OperationEvent(nil), n.events...)
}

// blockingAudit holds the first audit write until release is closed, so a
// test can act while a pass sits between mutate and audit.
type blockingAudit struct {
	inner   *audit.StoreLogger
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingAudit(inner *audit.StoreLogger) *blockingAudit {
	return &blockingAudit{inner: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (a *blockingAudit) hold() {
	first := false
	a.once.Do(func() { first = true })
	if first {
		close(a.entered)
		<-a.release
	}
}

func (a *blockingAudit) LogVoidOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.VoidInput) (string, error) {
	a.hold()
	return a.inner.LogVoidOperation(ctx, storeID, op, input)
}

func (a *blockingAudit) LogRefundOperation(ctx context.Context, storeID string, op domain.AppliedOperation, input domain.RefundInput) (string, error) {
	a.hold()
	return a.inner.LogRefundOperation(ctx, storeID, op, input)
}

type harness struct {
	deps     Deps
	terminal Terminal
	ds       *memory.Store
	queue    *queuememory.Store
	audit    *flakyAudit
	notifier *recordingNotifier
	monitor  *connectivity.Monitor
	clock    *fakeClock
	exec     *Executor
	rec      *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &fakeClock{now: t0}
	ds := memory.New()
	ds.SetClock(clock.Now)
	ds.Grant("admin", domain.PermissionSalesVoid, domain.PermissionSalesRefund)
	ds.Grant("cashier", domain.PermissionSalesVoid)

	h := &harness{
		ds:       ds,
		queue:    queuememory.New(),
		audit:    &flakyAudit{inner: audit.NewStoreLogger(ds)},
		notifier: &recordingNotifier{},
		clock:    clock,
	}
	metrics := telemetry.New()
	h.monitor = connectivity.NewMonitor(true, metrics)

	deps := Deps{
		Datastore:      ds,
		Queue:          h.queue,
		Audit:          h.audit,
		Notifier:       h.notifier,
		Connectivity:   h.monitor,
		Metrics:        metrics,
		RequestTimeout: time.Second,
		Now:            clock.Now,
	}
	terminal := Terminal{StoreID: "main-store", TerminalID: "T-01"}
	h.deps = deps
	h.terminal = terminal
	h.exec = NewExecutor(terminal, deps)
	h.rec = NewReconciler(terminal, deps, domain.RuleRejectIfServerNewer)
	return h
}

// putOrder stores an order last modified an hour before the harness clock.
func (h *harness) putOrder(id string, status string, totalCents int64) {
	h.ds.PutOrder(domain.Order{
		ID:         id,
		StoreID:    "main-store",
		Status:     status,
		TotalCents: totalCents,
		UpdatedAt:  h.clock.Now().Add(-time.Hour),
	})
}

// events returns the broadcasts once every background publish has finished.
func (h *harness) events() []domain.OperationEvent {
	h.exec.WaitPublished()
	h.rec.WaitPublished()
	return h.notifier.Events()
}

func (h *harness) items(t *testing.T) []domain.SyncQueueItem {
	t.Helper()
	items, err := h.queue.List(context.Background())
	require.NoError(t, err)
	return items
}

func voidInput(orderID string) domain.VoidInput {
	return domain.VoidInput{
		OrderID:    orderID,
		Reason:     "customer changed mind",
		ReasonCode: domain.ReasonCustomerRequest,
		ActorID:    "admin",
	}
}

func refundInput(orderID string, amount int64, total int64) domain.RefundInput {
	return domain.RefundInput{
		OrderID:         orderID,
		Reason:          "item damaged",
		ReasonCode:      domain.ReasonDamagedGoods,
		ActorID:         "admin",
		AmountCents:     amount,
		Method:          domain.PaymentCash,
		OrderTotalCents: total,
	}
}
