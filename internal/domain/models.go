package domain

import (
	"encoding/json"
	"time"
)

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// UserAccount is a terminal login. Password holds a bcrypt hash once the
// account has logged in at least once.
type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type OperationKind string

const (
	OperationVoid   OperationKind = "void"
	OperationRefund OperationKind = "refund"
)

// Permission codes checked against the remote datastore before an online mutation.
const (
	PermissionSalesVoid   = "sales.void"
	PermissionSalesRefund = "sales.refund"
)

func (k OperationKind) Permission() string {
	if k == OperationRefund {
		return PermissionSalesRefund
	}
	return PermissionSalesVoid
}

type ReasonCode string

const (
	ReasonCustomerRequest ReasonCode = "customer_request"
	ReasonWrongItem       ReasonCode = "wrong_item"
	ReasonDuplicateCharge ReasonCode = "duplicate_charge"
	ReasonPricingError    ReasonCode = "pricing_error"
	ReasonDamagedGoods    ReasonCode = "damaged_goods"
	ReasonCashierError    ReasonCode = "cashier_error"
	ReasonOther           ReasonCode = "other"
)

func (c ReasonCode) Valid() bool {
	switch c {
	case ReasonCustomerRequest, ReasonWrongItem, ReasonDuplicateCharge, ReasonPricingError,
		ReasonDamagedGoods, ReasonCashierError, ReasonOther:
		return true
	default:
		return false
	}
}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentQRIS     = "qris"
	PaymentEwallet  = "ewallet"
	PaymentTransfer = "transfer"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentEwallet, PaymentTransfer:
		return true
	default:
		return false
	}
}

type VoidInput struct {
	OrderID    string     `json:"order_id"`
	Reason     string     `json:"reason"`
	ReasonCode ReasonCode `json:"reason_code"`
	ActorID    string     `json:"actor_id"`
}

type RefundInput struct {
	OrderID         string     `json:"order_id"`
	Reason          string     `json:"reason"`
	ReasonCode      ReasonCode `json:"reason_code"`
	ActorID         string     `json:"actor_id"`
	AmountCents     int64      `json:"amount_cents"`
	Method          string     `json:"method"`
	OrderTotalCents int64      `json:"order_total_cents"`
}

// Origin tells whether an operation id was assigned by the server or generated
// on the terminal while offline.
type Origin string

const (
	OriginServer Origin = "server"
	OriginLocal  Origin = "local"
)

type OperationResult struct {
	Success     bool            `json:"success"`
	OperationID string          `json:"operation_id,omitempty"`
	Origin      Origin          `json:"origin,omitempty"`
	AuditLogID  string          `json:"audit_log_id,omitempty"`
	Queued      bool            `json:"queued"`
	QueueItemID string          `json:"queue_item_id,omitempty"`
	Error       *OperationError `json:"error,omitempty"`
}

const (
	OrderStatusOpen      = "open"
	OrderStatusCompleted = "completed"
	OrderStatusVoided    = "voided"
	OrderStatusRefunded  = "refunded"
)

type Order struct {
	ID               string
	StoreID          string
	Status           string
	TotalCents       int64
	RefundedCents    int64
	VoidOperationKey string
	UpdatedAt        time.Time
}

func (o Order) RefundableCents() int64 {
	remaining := o.TotalCents - o.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

type VoidMutation struct {
	OperationKey string
	OrderID      string
	Reason       string
	ReasonCode   ReasonCode
	ActorID      string
	At           time.Time
}

type RefundMutation struct {
	OperationKey string
	OrderID      string
	Reason       string
	ReasonCode   ReasonCode
	ActorID      string
	AmountCents  int64
	Method       string
	At           time.Time
}

// AppliedOperation is the server-side record of a mutation, keyed by the
// operation key the terminal generated. It makes re-submission detectable.
type AppliedOperation struct {
	ID          string
	Key         string
	Kind        OperationKind
	OrderID     string
	AmountCents int64
	AuditLogID  string
	AppliedAt   time.Time
}

type AuditLog struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncFailed  SyncStatus = "failed"
)

const (
	SyncActionCreate = "create"
	SyncActionUpdate = "update"
	SyncActionDelete = "delete"
)

// SyncQueueItem is the persisted record of an operation waiting for
// connectivity. The JSON field names are a storage contract.
type SyncQueueItem struct {
	ID        string          `json:"id"`
	Entity    string          `json:"entity"`
	Action    string          `json:"action"`
	EntityID  string          `json:"entityId"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Status    SyncStatus      `json:"status"`
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`
}

// OperationPayload is the body stored in SyncQueueItem.Payload.
type OperationPayload struct {
	Kind         OperationKind `json:"kind"`
	OperationKey string        `json:"operation_key"`
	StoreID      string        `json:"store_id"`
	TerminalID   string        `json:"terminal_id"`
	Void         *VoidInput    `json:"void,omitempty"`
	Refund       *RefundInput  `json:"refund,omitempty"`
	ForceApply   bool          `json:"force_apply,omitempty"`
}

func (p OperationPayload) OrderID() string {
	switch {
	case p.Void != nil:
		return p.Void.OrderID
	case p.Refund != nil:
		return p.Refund.OrderID
	default:
		return ""
	}
}

type ConflictRule string

const (
	RuleRejectIfServerNewer ConflictRule = "reject_if_server_newer"
	RuleForceApply          ConflictRule = "force_apply"
)

type ConflictResolution struct {
	ServerUpdatedAt  time.Time
	LocalOperationAt time.Time
	Rule             ConflictRule
}

type Payment struct {
	Method            string `json:"method"`
	AmountCents       int64  `json:"amount_cents"`
	CashReceivedCents int64  `json:"cash_received_cents,omitempty"`
	Reference         string `json:"reference,omitempty"`
}

type SplitStatus string

const (
	SplitIdle     SplitStatus = "idle"
	SplitAdding   SplitStatus = "adding"
	SplitComplete SplitStatus = "complete"
)

type SplitState struct {
	Payments       []Payment   `json:"payments"`
	TotalPaidCents int64       `json:"total_paid_cents"`
	RemainingCents int64       `json:"remaining_cents"`
	Status         SplitStatus `json:"status"`
}

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// OperationEvent is broadcast to other terminals after a void or refund is applied.
type OperationEvent struct {
	Kind        OperationKind `json:"kind"`
	OperationID string        `json:"operation_id"`
	OrderID     string        `json:"order_id"`
	StoreID     string        `json:"store_id"`
	TerminalID  string        `json:"terminal_id"`
	AmountCents int64         `json:"amount_cents,omitempty"`
	AppliedAt   time.Time     `json:"applied_at"`
}
