// Package sqlite persists the sync queue in a local SQLite file so queued
// operations survive a terminal restart.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// Open creates or opens the queue database at path. It is safe to call on an
// existing file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect queue database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, item domain.SyncQueueItem) (*domain.SyncQueueItem, error) {
	if item.ID == "" {
		item.ID = xid.QueueItemID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = domain.SyncPending
	}
	if item.Payload == nil {
		item.Payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity, action, entity_id, payload, created_at, status, retries, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Entity, item.Action, item.EntityID, []byte(item.Payload),
		item.CreatedAt.UTC().UnixNano(), string(item.Status), item.Retries, nullIfEmpty(item.LastError))
	if err != nil {
		return nil, fmt.Errorf("append queue item: %w", err)
	}
	item.CreatedAt = time.Unix(0, item.CreatedAt.UTC().UnixNano()).UTC()
	return &item, nil
}

func (s *Store) List(ctx context.Context) ([]domain.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, action, entity_id, payload, created_at, status, retries, last_error
		FROM sync_queue
		ORDER BY created_at ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SyncQueueItem, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.SyncQueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity, action, entity_id, payload, created_at, status, retries, last_error
		FROM sync_queue
		WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?
	`, string(domain.SyncSyncing), id, string(domain.SyncPending))
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, update queue.StatusUpdate) (*domain.SyncQueueItem, error) {
	increment := 0
	if update.IncrementRetries {
		increment = 1
	}
	keepError := update.LastError == nil
	lastError := ""
	if update.LastError != nil {
		lastError = *update.LastError
	}

	var payload any
	if update.Payload != nil {
		payload = []byte(update.Payload)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?,
			retries = retries + ?,
			last_error = CASE WHEN ? THEN last_error ELSE NULLIF(?, '') END,
			payload = COALESCE(?, payload)
		WHERE id = ?
	`, string(update.Status), increment, keepError, lastError, payload, id)
	if err != nil {
		return nil, fmt.Errorf("update queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, queue.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return queue.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.SyncQueueItem, error) {
	var (
		item      domain.SyncQueueItem
		payload   []byte
		createdAt int64
		status    string
		lastError sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Entity, &item.Action, &item.EntityID, &payload, &createdAt, &status, &item.Retries, &lastError); err != nil {
		return nil, err
	}
	item.Payload = payload
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.Status = domain.SyncStatus(status)
	if lastError.Valid {
		item.LastError = lastError.String
	}
	return &item, nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

var _ queue.Store = (*Store)(nil)
