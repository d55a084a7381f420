// Package queue defines the local durable store of operations waiting to be
// replayed against the remote datastore.
package queue

import (
	"context"
	"encoding/json"
	"errors"

	"kasirinaja/terminal/internal/domain"
)

var (
	ErrNotFound    = errors.New("queue item not found")
	ErrItemSyncing = errors.New("queue item is being synced")
)

// StatusUpdate changes the lifecycle fields of an item. A nil LastError keeps
// the current value; an empty string clears it. A nil Payload keeps the
// stored payload.
type StatusUpdate struct {
	Status           domain.SyncStatus
	IncrementRetries bool
	LastError        *string
	Payload          json.RawMessage
}

// Store keeps items in insertion order. List returns oldest first.
//
// Claim moves a pending item to syncing and reports whether this caller won
// it. It is atomic across every process sharing the store, so two
// reconcilers never attempt the same item.
type Store interface {
	Append(ctx context.Context, item domain.SyncQueueItem) (*domain.SyncQueueItem, error)
	List(ctx context.Context) ([]domain.SyncQueueItem, error)
	Get(ctx context.Context, id string) (*domain.SyncQueueItem, error)
	Claim(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*domain.SyncQueueItem, error)
	Delete(ctx context.Context, id string) error
}

func ErrorText(msg string) *string {
	return &msg
}

// Filter returns the items with the given status, preserving order.
func Filter(items []domain.SyncQueueItem, status domain.SyncStatus) []domain.SyncQueueItem {
	out := make([]domain.SyncQueueItem, 0, len(items))
	for _, item := range items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	return out
}

// Depth counts items per status.
func Depth(items []domain.SyncQueueItem) map[domain.SyncStatus]int {
	depth := map[domain.SyncStatus]int{
		domain.SyncPending: 0,
		domain.SyncSyncing: 0,
		domain.SyncFailed:  0,
	}
	for _, item := range items {
		depth[item.Status]++
	}
	return depth
}
