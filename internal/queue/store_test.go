package queue_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/queue/memory"
	"kasirinaja/terminal/internal/queue/sqlite"
)

func stores(t *testing.T) map[string]queue.Store {
	t.Helper()

	sq, err := sqlite.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]queue.Store{
		"memory": memory.New(),
		"sqlite": sq,
	}
}

func newItem(orderID string, at time.Time) domain.SyncQueueItem {
	payload, _ := json.Marshal(domain.OperationPayload{
		Kind:         domain.OperationVoid,
		OperationKey: "LOCAL-VOID-" + orderID,
		Void:         &domain.VoidInput{OrderID: orderID, Reason: "test", ReasonCode: domain.ReasonOther, ActorID: "a"},
	})
	return domain.SyncQueueItem{
		Entity:    "orders",
		Action:    domain.SyncActionUpdate,
		EntityID:  orderID,
		Payload:   payload,
		CreatedAt: at,
	}
}

func TestStoreContract(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			second, err := st.Append(ctx, newItem("order-2", base.Add(time.Minute)))
			require.NoError(t, err)
			first, err := st.Append(ctx, newItem("order-1", base))
			require.NoError(t, err)

			assert.NotEmpty(t, first.ID)
			assert.Equal(t, domain.SyncPending, first.Status)
			assert.Equal(t, 0, first.Retries)

			items, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, "order-1", items[0].EntityID, "oldest first")
			assert.Equal(t, "order-2", items[1].EntityID)

			var payload domain.OperationPayload
			require.NoError(t, json.Unmarshal(items[0].Payload, &payload))
			assert.Equal(t, "order-1", payload.OrderID())

			updated, err := st.UpdateStatus(ctx, second.ID, queue.StatusUpdate{
				Status:           domain.SyncFailed,
				IncrementRetries: true,
				LastError:        queue.ErrorText("conflict"),
			})
			require.NoError(t, err)
			assert.Equal(t, domain.SyncFailed, updated.Status)
			assert.Equal(t, 1, updated.Retries)
			assert.Equal(t, "conflict", updated.LastError)

			kept, err := st.UpdateStatus(ctx, second.ID, queue.StatusUpdate{Status: domain.SyncPending})
			require.NoError(t, err)
			assert.Equal(t, "conflict", kept.LastError, "nil LastError keeps the previous message")
			assert.Equal(t, 1, kept.Retries)

			got, err := st.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.True(t, base.Equal(got.CreatedAt))

			rewritten, err := st.UpdateStatus(ctx, second.ID, queue.StatusUpdate{
				Status:    domain.SyncPending,
				LastError: queue.ErrorText(""),
				Payload:   json.RawMessage(`{"kind":"void","force_apply":true}`),
			})
			require.NoError(t, err)
			assert.Empty(t, rewritten.LastError, "empty LastError clears the message")
			assert.JSONEq(t, `{"kind":"void","force_apply":true}`, string(rewritten.Payload))

			require.NoError(t, st.Delete(ctx, first.ID))
			_, err = st.Get(ctx, first.ID)
			assert.ErrorIs(t, err, queue.ErrNotFound)
			assert.ErrorIs(t, st.Delete(ctx, first.ID), queue.ErrNotFound)

			_, err = st.UpdateStatus(ctx, "missing", queue.StatusUpdate{Status: domain.SyncPending})
			assert.ErrorIs(t, err, queue.ErrNotFound)
		})
	}
}

func TestClaimIsExclusive(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item, err := st.Append(ctx, newItem("order-1", time.Now().UTC()))
			require.NoError(t, err)

			won, err := st.Claim(ctx, item.ID)
			require.NoError(t, err)
			assert.True(t, won)

			again, err := st.Claim(ctx, item.ID)
			require.NoError(t, err)
			assert.False(t, again, "a syncing item cannot be claimed twice")

			_, err = st.UpdateStatus(ctx, item.ID, queue.StatusUpdate{Status: domain.SyncFailed})
			require.NoError(t, err)
			failed, err := st.Claim(ctx, item.ID)
			require.NoError(t, err)
			assert.False(t, failed, "failed items wait for an explicit retry")

			_, err = st.Claim(ctx, "missing")
			assert.ErrorIs(t, err, queue.ErrNotFound)
		})
	}
}

func TestSQLiteClaimAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	serve, err := sqlite.Open(path)
	require.NoError(t, err)
	defer serve.Close()
	cli, err := sqlite.Open(path)
	require.NoError(t, err)
	defer cli.Close()

	item, err := serve.Append(ctx, newItem("order-1", time.Now().UTC()))
	require.NoError(t, err)

	won, err := serve.Claim(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, won)

	lost, err := cli.Claim(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, lost)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	st, err := sqlite.Open(path)
	require.NoError(t, err)
	created, err := st.Append(ctx, newItem("order-9", time.Now().UTC()))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-9", got.EntityID)
	assert.Equal(t, domain.SyncPending, got.Status)
}

func TestFilterAndDepth(t *testing.T) {
	items := []domain.SyncQueueItem{
		{ID: "a", Status: domain.SyncPending},
		{ID: "b", Status: domain.SyncFailed},
		{ID: "c", Status: domain.SyncPending},
	}
	pending := queue.Filter(items, domain.SyncPending)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)

	depth := queue.Depth(items)
	assert.Equal(t, 2, depth[domain.SyncPending])
	assert.Equal(t, 1, depth[domain.SyncFailed])
	assert.Equal(t, 0, depth[domain.SyncSyncing])
}
