package store

import (
	"context"
	"errors"

	"kasirinaja/terminal/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrUnavailable marks failures where the datastore could not be reached
	// or asked the caller to retry (serialization failure, deadlock).
	ErrUnavailable = errors.New("datastore unavailable")
)

// Datastore is the remote transactional store the terminal talks to.
// VoidOrder and RefundOrder re-check the order status inside their own
// transaction and return ErrInvalidTransaction when it no longer allows the
// mutation.
type Datastore interface {
	Ping(ctx context.Context) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	HasPermission(ctx context.Context, actorID string, permission string) (bool, error)
	VoidOrder(ctx context.Context, m domain.VoidMutation) (*domain.AppliedOperation, error)
	RefundOrder(ctx context.Context, m domain.RefundMutation) (*domain.AppliedOperation, error)
	FindOperationByKey(ctx context.Context, key string) (*domain.AppliedOperation, error)
	AttachAuditLog(ctx context.Context, operationID string, auditLogID string) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
