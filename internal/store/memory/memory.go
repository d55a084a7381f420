package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

// Store is an in-process stand-in for the remote datastore. Demo mode and
// tests use it; it also lets tests simulate an unreachable server.
type Store struct {
	mu             sync.RWMutex
	ordersByID     map[string]*domain.Order
	permissions    map[string]map[string]bool
	operationsByID map[string]*domain.AppliedOperation
	operationByKey map[string]string
	auditLogs      []domain.AuditLog
	users          map[string]domain.UserAccount
	unavailable    bool
	mutations      int
	now            func() time.Time
}

func New() *Store {
	return &Store{
		ordersByID:     make(map[string]*domain.Order),
		permissions:    make(map[string]map[string]bool),
		operationsByID: make(map[string]*domain.AppliedOperation),
		operationByKey: make(map[string]string),
		auditLogs:      make([]domain.AuditLog, 0, 32),
		users:          make(map[string]domain.UserAccount),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with demo orders, the two standard roles and a
// login for each. Seed passwords are plain text until the first login hashes
// them.
func NewSeeded() *Store {
	s := New()
	now := s.now()
	for _, o := range []domain.Order{
		{ID: "order-1001", StoreID: "main-store", Status: domain.OrderStatusOpen, TotalCents: 45500, UpdatedAt: now},
		{ID: "order-1002", StoreID: "main-store", Status: domain.OrderStatusCompleted, TotalCents: 150000, UpdatedAt: now},
		{ID: "order-1003", StoreID: "main-store", Status: domain.OrderStatusCompleted, TotalCents: 87900, UpdatedAt: now},
		{ID: "order-1004", StoreID: "main-store", Status: domain.OrderStatusVoided, TotalCents: 26500, UpdatedAt: now},
	} {
		s.PutOrder(o)
	}
	s.Grant("admin", domain.PermissionSalesVoid, domain.PermissionSalesRefund)
	s.Grant("cashier", domain.PermissionSalesVoid)
	s.PutUser(domain.UserAccount{Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true, CreatedAt: now})
	s.PutUser(domain.UserAccount{Username: "cashier", Password: "cashier123", Role: domain.RoleCashier, Active: true, CreatedAt: now})
	return s
}

// SetClock overrides the time source used for server-side timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := order
	if dup.UpdatedAt.IsZero() {
		dup.UpdatedAt = s.now()
	}
	s.ordersByID[order.ID] = &dup
}

func (s *Store) DeleteOrder(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ordersByID, id)
}

func (s *Store) Grant(actorID string, permissions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permissions[actorID] == nil {
		s.permissions[actorID] = make(map[string]bool)
	}
	for _, p := range permissions {
		s.permissions[actorID][p] = true
	}
}

// SetUnavailable makes every call fail with store.ErrUnavailable.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// Mutations counts applied void and refund mutations.
func (s *Store) Mutations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutations
}

func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLogs)
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := *order
	return &dup, nil
}

func (s *Store) HasPermission(_ context.Context, actorID string, permission string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return false, store.ErrUnavailable
	}
	return s.permissions[actorID][permission], nil
}

func (s *Store) VoidOrder(_ context.Context, m domain.VoidMutation) (*domain.AppliedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	if op, ok := s.existingOperation(m.OperationKey); ok {
		return op, nil
	}

	order, ok := s.ordersByID[m.OrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusOpen {
		return nil, store.ErrInvalidTransaction
	}

	at := s.now()
	order.Status = domain.OrderStatusVoided
	order.VoidOperationKey = m.OperationKey
	order.UpdatedAt = at

	return s.recordOperation(domain.AppliedOperation{
		Key:       m.OperationKey,
		Kind:      domain.OperationVoid,
		OrderID:   m.OrderID,
		AppliedAt: at,
	}), nil
}

func (s *Store) RefundOrder(_ context.Context, m domain.RefundMutation) (*domain.AppliedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	if op, ok := s.existingOperation(m.OperationKey); ok {
		return op, nil
	}

	order, ok := s.ordersByID[m.OrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusCompleted {
		return nil, store.ErrInvalidTransaction
	}
	if m.AmountCents < 1 || m.AmountCents > order.RefundableCents() {
		return nil, store.ErrInvalidTransaction
	}

	at := s.now()
	order.RefundedCents += m.AmountCents
	if order.RefundedCents >= order.TotalCents {
		order.Status = domain.OrderStatusRefunded
	}
	order.UpdatedAt = at

	return s.recordOperation(domain.AppliedOperation{
		Key:         m.OperationKey,
		Kind:        domain.OperationRefund,
		OrderID:     m.OrderID,
		AmountCents: m.AmountCents,
		AppliedAt:   at,
	}), nil
}

func (s *Store) FindOperationByKey(_ context.Context, key string) (*domain.AppliedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}
	op, ok := s.existingOperation(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return op, nil
}

func (s *Store) AttachAuditLog(_ context.Context, operationID string, auditLogID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	op, ok := s.operationsByID[operationID]
	if !ok {
		return store.ErrNotFound
	}
	op.AuditLogID = auditLogID
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// existingOperation must be called with mu held.
func (s *Store) existingOperation(key string) (*domain.AppliedOperation, bool) {
	if key == "" {
		return nil, false
	}
	id, ok := s.operationByKey[key]
	if !ok {
		return nil, false
	}
	dup := *s.operationsByID[id]
	return &dup, true
}

// recordOperation must be called with mu held.
func (s *Store) recordOperation(op domain.AppliedOperation) *domain.AppliedOperation {
	op.ID = xid.New(string(op.Kind))
	s.operationsByID[op.ID] = &op
	if op.Key != "" {
		s.operationByKey[op.Key] = op.ID
	}
	s.mutations++
	dup := op
	return &dup
}

var _ store.Datastore = (*Store)(nil)
