package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"kasirinaja/terminal/internal/conflict"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/logging"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/telemetry"
)

const DefaultSyncInterval = 5 * time.Second

// Summary counts the outcome of one reconciliation pass.
type Summary struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
	Skipped   int `json:"skipped"`
}

// Reconciler replays queued operations against the datastore, one item at a
// time and oldest first. Passes never overlap: the loop, HTTP and CLI
// triggers all serialize on mu.
type Reconciler struct {
	remote
	mu   sync.Mutex
	rule domain.ConflictRule
	// ownWrites maps an order id to the server timestamp of the last
	// mutation this reconciler applied to it. Guarded by mu.
	ownWrites map[string]time.Time
}

func NewReconciler(terminal Terminal, deps Deps, rule domain.ConflictRule) *Reconciler {
	if rule == "" {
		rule = domain.RuleRejectIfServerNewer
	}
	return &Reconciler{
		remote: remote{
			terminal:   terminal.withDefaults(),
			deps:       deps.withDefaults(),
			log:        logging.With("reconciler"),
			publishing: &sync.WaitGroup{},
		},
		rule:      rule,
		ownWrites: make(map[string]time.Time),
	}
}

// itemOutcome is how one attempt ends. Every path out of processItem maps to
// exactly one of these, so no item is left in syncing.
type itemOutcome int

const (
	outcomeSynced itemOutcome = iota
	outcomeDuplicate
	outcomeRetry
	outcomeFailed
)

// RunOnce processes every pending item. Items in syncing belong to a pass in
// progress, possibly in another process sharing the queue, and are left alone;
// RecoverStale resets those a crash left behind. After a transient failure the
// remaining items for the same order wait for the next pass so per-order
// ordering holds.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	defer func() { r.deps.Metrics.ObserveReconcilePass(time.Since(started)) }()

	items, err := r.deps.Queue.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list queue: %w", err)
	}

	var summary Summary
	blocked := make(map[string]bool)
	for _, item := range items {
		if item.Status == domain.SyncSyncing {
			summary.Skipped++
			blocked[item.EntityID] = true
			continue
		}
		if item.Status != domain.SyncPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if blocked[item.EntityID] {
			summary.Skipped++
			continue
		}

		outcome, claimed := r.processItem(ctx, item)
		if !claimed {
			summary.Skipped++
			blocked[item.EntityID] = true
			continue
		}
		summary.Processed++
		switch outcome {
		case outcomeSynced, outcomeDuplicate:
			summary.Synced++
		case outcomeRetry:
			summary.Retrying++
			blocked[item.EntityID] = true
		case outcomeFailed:
			summary.Failed++
		}
	}

	r.refreshDepth(ctx)
	if summary.Processed > 0 {
		r.log.Info().
			Int("processed", summary.Processed).
			Int("synced", summary.Synced).
			Int("failed", summary.Failed).
			Int("retrying", summary.Retrying).
			Int("skipped", summary.Skipped).
			Msg("reconciliation pass finished")
	}
	return summary, nil
}

// Run reconciles on every tick and whenever reconnected fires, until ctx is
// cancelled. Ticks are skipped while the terminal is offline.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, reconnected <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.deps.Connectivity.Online() {
				continue
			}
		case <-reconnected:
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error().Err(err).Msg("reconciliation pass failed")
		}
	}
}

// RecoverStale resets items left in syncing by a crash back to pending. It
// runs once at startup, before the loop.
func (r *Reconciler) RecoverStale(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.deps.Queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queue: %w", err)
	}
	recovered := 0
	for _, item := range queue.Filter(items, domain.SyncSyncing) {
		if _, err := r.deps.Queue.UpdateStatus(ctx, item.ID, queue.StatusUpdate{Status: domain.SyncPending}); err != nil {
			return recovered, fmt.Errorf("recover item %s: %w", item.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		r.log.Warn().Int("items", recovered).Msg("recovered items interrupted mid-sync")
	}
	r.refreshDepth(ctx)
	return recovered, nil
}

// Pending returns every queued item, failures included, oldest first.
func (r *Reconciler) Pending(ctx context.Context) ([]domain.SyncQueueItem, error) {
	return r.deps.Queue.List(ctx)
}

// Discard removes an item the operator gave up on. Items being synced cannot
// be removed; removal is best effort once a pass has started.
func (r *Reconciler) Discard(ctx context.Context, id string) error {
	item, err := r.deps.Queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == domain.SyncSyncing {
		return queue.ErrItemSyncing
	}
	if err := r.deps.Queue.Delete(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("queue_item", id).Str("order", item.EntityID).Str("status", string(item.Status)).Msg("queue item discarded")
	r.refreshDepth(ctx)
	return nil
}

// Retry puts a failed item back to pending. With force the item is applied
// even if the server changed the order after it was queued.
func (r *Reconciler) Retry(ctx context.Context, id string, force bool) (*domain.SyncQueueItem, error) {
	item, err := r.deps.Queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.SyncSyncing {
		return nil, queue.ErrItemSyncing
	}

	update := queue.StatusUpdate{Status: domain.SyncPending, LastError: queue.ErrorText("")}
	if force {
		var p domain.OperationPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		p.ForceApply = true
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		update.Payload = raw
	}

	updated, err := r.deps.Queue.UpdateStatus(ctx, id, update)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("queue_item", id).Bool("force", force).Msg("queue item scheduled for retry")
	r.refreshDepth(ctx)
	return updated, nil
}

// processItem reports claimed=false when the item was taken, retried or
// discarded by someone else since the queue was listed.
func (r *Reconciler) processItem(ctx context.Context, item domain.SyncQueueItem) (itemOutcome, bool) {
	claimed, err := r.deps.Queue.Claim(ctx, item.ID)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return outcomeSynced, false
	case err != nil:
		r.log.Error().Err(err).Str("queue_item", item.ID).Msg("failed to claim queue item")
		return outcomeRetry, true
	case !claimed:
		return outcomeSynced, false
	}

	op, err := operationFromItem(item)
	if err != nil {
		return r.settle(ctx, item, outcomeFailed,
			domain.NewOperationError(domain.CodeValidation, "malformed queue item", err.Error())), true
	}

	itemCtx, cancel := context.WithTimeout(ctx, r.deps.RequestTimeout)
	defer cancel()

	outcome, opErr := r.attempt(itemCtx, op)
	if outcome == outcomeRetry && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		opErr = domain.WrapTransient(fmt.Errorf("request timed out: %w", opErr))
	}
	return r.settle(ctx, item, outcome, opErr), true
}

// attempt runs the remote steps for one item. The returned error is nil only
// for synced and duplicate outcomes.
func (r *Reconciler) attempt(ctx context.Context, op operation) (itemOutcome, *domain.OperationError) {
	// An operation already recorded under this key was applied by an earlier
	// attempt whose result never reached the queue.
	existing, err := r.deps.Datastore.FindOperationByKey(ctx, op.key)
	switch {
	case err == nil:
		return r.completeExisting(ctx, op, *existing)
	case !errors.Is(err, store.ErrNotFound):
		return outcomeRetry, domain.WrapTransient(err)
	}

	order, opErr := r.fetchOrder(ctx, op)
	if opErr != nil {
		return outcomeFor(opErr), opErr
	}

	rule := r.rule
	if op.force {
		rule = domain.RuleForceApply
	}
	localAt := op.at
	// Replaying an earlier queued operation for the same order is not a
	// change made by someone else.
	if own, ok := r.ownWrites[order.ID]; ok && own.Equal(order.UpdatedAt) && own.After(localAt) {
		localAt = own
	}
	resolution := domain.ConflictResolution{
		ServerUpdatedAt:  order.UpdatedAt,
		LocalOperationAt: localAt,
		Rule:             rule,
	}
	if conflict.ShouldReject(resolution) {
		return outcomeFailed, conflictError(resolution)
	}

	if opErr := r.checkPermission(ctx, op); opErr != nil {
		return outcomeFor(opErr), opErr
	}
	if opErr := CheckEligibility(op.kind, *order, op.amountCents()); opErr != nil {
		return outcomeFailed, opErr
	}

	applied, opErr := r.mutate(ctx, op)
	if opErr != nil {
		return outcomeFor(opErr), opErr
	}
	r.ownWrites[applied.OrderID] = applied.AppliedAt
	r.deps.Metrics.ObserveOperation(op.kind, telemetry.OutcomeApplied)

	if _, err := r.recordAudit(ctx, op, *applied); err != nil {
		// Applied but unaudited: the next pass finds the operation by key and
		// writes the audit entry then.
		return outcomeRetry, domain.WrapTransient(fmt.Errorf("applied on server, audit pending: %w", err))
	}
	r.publish(ctx, op, *applied)
	return outcomeSynced, nil
}

func (r *Reconciler) completeExisting(ctx context.Context, op operation, existing domain.AppliedOperation) (itemOutcome, *domain.OperationError) {
	if existing.AuditLogID == "" {
		if _, err := r.recordAudit(ctx, op, existing); err != nil {
			return outcomeRetry, domain.WrapTransient(fmt.Errorf("applied on server, audit pending: %w", err))
		}
		r.publish(ctx, op, existing)
	}
	return outcomeDuplicate, nil
}

// settle writes the final state of an attempt. A failure to write leaves the
// item in syncing until RecoverStale runs at the next start.
func (r *Reconciler) settle(ctx context.Context, item domain.SyncQueueItem, outcome itemOutcome, opErr *domain.OperationError) itemOutcome {
	log := r.log.With().Str("queue_item", item.ID).Str("order", item.EntityID).Logger()

	var err error
	switch outcome {
	case outcomeSynced, outcomeDuplicate:
		err = r.deps.Queue.Delete(ctx, item.ID)
		if errors.Is(err, queue.ErrNotFound) {
			err = nil
		}
		if outcome == outcomeDuplicate {
			r.deps.Metrics.ObserveReconcileItem(telemetry.ReconcileDuplicate)
			log.Info().Msg("queued operation was already applied")
		} else {
			r.deps.Metrics.ObserveReconcileItem(telemetry.ReconcileSynced)
			log.Info().Msg("queued operation synced")
		}
	case outcomeRetry:
		_, err = r.deps.Queue.UpdateStatus(ctx, item.ID, queue.StatusUpdate{
			Status:           domain.SyncPending,
			IncrementRetries: true,
			LastError:        queue.ErrorText(opErr.Error()),
		})
		r.deps.Metrics.ObserveReconcileItem(telemetry.ReconcileRetry)
		log.Warn().Err(opErr).Int("retries", item.Retries+1).Msg("queued operation will be retried")
	case outcomeFailed:
		// A conflict counts as an attempt; other permanent failures keep the count.
		_, err = r.deps.Queue.UpdateStatus(ctx, item.ID, queue.StatusUpdate{
			Status:           domain.SyncFailed,
			IncrementRetries: opErr.Code == domain.CodeConflict,
			LastError:        queue.ErrorText(opErr.Error()),
		})
		r.deps.Metrics.ObserveReconcileItem(telemetry.ReconcileFailed)
		log.Warn().Err(opErr).Str("code", string(opErr.Code)).Msg("queued operation failed")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record queue item outcome")
	}
	return outcome
}

func outcomeFor(opErr *domain.OperationError) itemOutcome {
	if opErr.Retryable() {
		return outcomeRetry
	}
	return outcomeFailed
}

func (r *Reconciler) refreshDepth(ctx context.Context) {
	if r.deps.Metrics == nil {
		return
	}
	items, err := r.deps.Queue.List(ctx)
	if err != nil {
		return
	}
	r.deps.Metrics.SetQueueDepth(queue.Depth(items))
}

func conflictError(res domain.ConflictResolution) *domain.OperationError {
	return domain.NewOperationError(domain.CodeConflict, fmt.Sprintf(
		"order was modified on the server at %s, after this operation was queued at %s",
		res.ServerUpdatedAt.UTC().Format(time.RFC3339), res.LocalOperationAt.UTC().Format(time.RFC3339)))
}
