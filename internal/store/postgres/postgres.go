package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// Open prepares a connection pool without contacting the server, so a
// terminal can start while the datastore is unreachable.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// New opens the pool and checks the server answers.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	s, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables this terminal reads and writes when they do
// not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, store_id, status, total_cents, refunded_cents, COALESCE(void_operation_key, ''), updated_at
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return order, nil
}

func (s *Store) HasPermission(ctx context.Context, actorID string, permission string) (bool, error) {
	var granted bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM actor_permissions WHERE actor_id = $1 AND permission = $2
		)
	`, actorID, permission).Scan(&granted)
	if err != nil {
		return false, classify(err)
	}
	return granted, nil
}

func (s *Store) VoidOrder(ctx context.Context, m domain.VoidMutation) (*domain.AppliedOperation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if op, err := findOperation(ctx, pgTx, m.OperationKey); err == nil {
		return op, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	order, err := scanOrder(pgTx.QueryRowContext(ctx, `
		SELECT id, store_id, status, total_cents, refunded_cents, COALESCE(void_operation_key, ''), updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, m.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	if order.Status != domain.OrderStatusOpen {
		return nil, store.ErrInvalidTransaction
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, void_reason = $3, void_reason_code = $4, void_operation_key = $5, voided_at = $6, updated_at = $6
		WHERE id = $1 AND status = $7
	`, m.OrderID, domain.OrderStatusVoided, m.Reason, string(m.ReasonCode), m.OperationKey, at, domain.OrderStatusOpen)
	if err != nil {
		return nil, classify(err)
	}

	op := domain.AppliedOperation{
		ID:        xid.New("void"),
		Key:       m.OperationKey,
		Kind:      domain.OperationVoid,
		OrderID:   m.OrderID,
		AppliedAt: at,
	}
	if err := insertOperation(ctx, pgTx, op, "", m.Reason, m.ReasonCode, m.ActorID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &op, nil
}

func (s *Store) RefundOrder(ctx context.Context, m domain.RefundMutation) (*domain.AppliedOperation, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if op, err := findOperation(ctx, pgTx, m.OperationKey); err == nil {
		return op, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	order, err := scanOrder(pgTx.QueryRowContext(ctx, `
		SELECT id, store_id, status, total_cents, refunded_cents, COALESCE(void_operation_key, ''), updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, m.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, store.ErrInvalidTransaction
	}
	if m.AmountCents < 1 || m.AmountCents > order.RefundableCents() {
		return nil, store.ErrInvalidTransaction
	}

	nextStatus := domain.OrderStatusCompleted
	if order.RefundedCents+m.AmountCents >= order.TotalCents {
		nextStatus = domain.OrderStatusRefunded
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET refunded_cents = refunded_cents + $2, status = $3, updated_at = $4
		WHERE id = $1
	`, m.OrderID, m.AmountCents, nextStatus, at)
	if err != nil {
		return nil, classify(err)
	}

	op := domain.AppliedOperation{
		ID:          xid.New("refund"),
		Key:         m.OperationKey,
		Kind:        domain.OperationRefund,
		OrderID:     m.OrderID,
		AmountCents: m.AmountCents,
		AppliedAt:   at,
	}
	if err := insertOperation(ctx, pgTx, op, m.Method, m.Reason, m.ReasonCode, m.ActorID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, classify(err)
	}
	return &op, nil
}

func (s *Store) FindOperationByKey(ctx context.Context, key string) (*domain.AppliedOperation, error) {
	return findOperation(ctx, s.db, key)
}

func (s *Store) AttachAuditLog(ctx context.Context, operationID string, auditLogID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_operations SET audit_log_id = $2 WHERE id = $1
	`, operationID, auditLogID)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.StoreID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return classify(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, classify(err)
		}
		users = append(users, user)
	}
	return users, classify(rows.Err())
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findOperation(ctx context.Context, q queryer, key string) (*domain.AppliedOperation, error) {
	if strings.TrimSpace(key) == "" {
		return nil, store.ErrNotFound
	}

	var (
		op         domain.AppliedOperation
		kind       string
		auditLogID sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, operation_key, kind, order_id, amount_cents, audit_log_id, applied_at
		FROM order_operations
		WHERE operation_key = $1
	`, key).Scan(&op.ID, &op.Key, &kind, &op.OrderID, &op.AmountCents, &auditLogID, &op.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	op.Kind = domain.OperationKind(kind)
	op.AuditLogID = auditLogID.String
	op.AppliedAt = op.AppliedAt.UTC()
	return &op, nil
}

func insertOperation(ctx context.Context, tx *sql.Tx, op domain.AppliedOperation, method string, reason string, code domain.ReasonCode, actorID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_operations (
			id, operation_key, kind, order_id, amount_cents, method, reason, reason_code, actor_id, applied_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, op.ID, op.Key, string(op.Kind), op.OrderID, op.AmountCents, nullIfEmpty(method), reason, string(code), actorID, op.AppliedAt)
	if err != nil {
		// A concurrent submission with the same key won the race; the caller
		// retries and finds it through FindOperationByKey.
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: operation key %s already recorded", store.ErrUnavailable, op.Key)
		}
		return classify(err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	if err := row.Scan(&order.ID, &order.StoreID, &order.Status, &order.TotalCents, &order.RefundedCents, &order.VoidOperationKey, &order.UpdatedAt); err != nil {
		return nil, err
	}
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

// classify marks errors the caller may retry with store.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		default:
			return err
		}
	}
	// Anything that never produced a server error (dial, reset, TLS) is a
	// connectivity problem.
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

var _ store.Datastore = (*Store)(nil)
