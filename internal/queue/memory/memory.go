package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/xid"
)

// Store is a process-local queue used by tests and by terminals started
// without QUEUE_PATH. It does not survive a restart.
type Store struct {
	mu    sync.RWMutex
	items []domain.SyncQueueItem
}

func New() *Store {
	return &Store{items: make([]domain.SyncQueueItem, 0, 16)}
}

func (s *Store) Append(_ context.Context, item domain.SyncQueueItem) (*domain.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.QueueItemID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = domain.SyncPending
	}
	item = cloneItem(item)
	s.items = append(s.items, item)
	created := cloneItem(item)
	return &created, nil
}

func (s *Store) List(_ context.Context) ([]domain.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SyncQueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneItem(item))
	}
	slices.SortStableFunc(out, func(a, b domain.SyncQueueItem) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.SyncQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, queue.ErrNotFound
	}
	item := cloneItem(s.items[idx])
	return &item, nil
}

func (s *Store) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false, queue.ErrNotFound
	}
	if s.items[idx].Status != domain.SyncPending {
		return false, nil
	}
	s.items[idx].Status = domain.SyncSyncing
	return true, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, update queue.StatusUpdate) (*domain.SyncQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, queue.ErrNotFound
	}
	item := &s.items[idx]
	item.Status = update.Status
	if update.IncrementRetries {
		item.Retries++
	}
	if update.LastError != nil {
		item.LastError = *update.LastError
	}
	if update.Payload != nil {
		item.Payload = append([]byte(nil), update.Payload...)
	}
	updated := cloneItem(*item)
	return &updated, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return queue.ErrNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneItem(src domain.SyncQueueItem) domain.SyncQueueItem {
	dup := src
	if src.Payload != nil {
		dup.Payload = append([]byte(nil), src.Payload...)
	}
	return dup
}

var _ queue.Store = (*Store)(nil)
