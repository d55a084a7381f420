package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("KASIRINAJA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRINAJA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func seedOrder(t *testing.T, s *Store, status string, totalCents int64) string {
	t.Helper()

	ctx := context.Background()
	orderID := fmt.Sprintf("order-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_operations WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, status, total_cents, refunded_cents, updated_at)
		VALUES ($1, 'main-store', $2, $3, 0, now())
	`, orderID, status, totalCents); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return orderID
}

func TestVoidOrderIsIdempotentByOperationKey(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	orderID := seedOrder(t, s, domain.OrderStatusOpen, 12000)

	mutation := domain.VoidMutation{
		OperationKey: "LOCAL-VOID-it-" + orderID,
		OrderID:      orderID,
		Reason:       "integration test void",
		ReasonCode:   domain.ReasonCashierError,
		ActorID:      "admin",
		At:           time.Now().UTC(),
	}
	first, err := s.VoidOrder(ctx, mutation)
	if err != nil {
		t.Fatalf("void order: %v", err)
	}

	second, err := s.VoidOrder(ctx, mutation)
	if err != nil {
		t.Fatalf("void order again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same operation %s, got %s", first.ID, second.ID)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusVoided {
		t.Fatalf("expected order status voided, got %s", order.Status)
	}

	mutation.OperationKey = "LOCAL-VOID-other-" + orderID
	if _, err := s.VoidOrder(ctx, mutation); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction for second void, got %v", err)
	}
}

func TestRefundOrderTracksRefundableBalance(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	orderID := seedOrder(t, s, domain.OrderStatusCompleted, 10000)

	refund := func(key string, amount int64) error {
		_, err := s.RefundOrder(ctx, domain.RefundMutation{
			OperationKey: key,
			OrderID:      orderID,
			Reason:       "integration test refund",
			ReasonCode:   domain.ReasonDamagedGoods,
			ActorID:      "admin",
			AmountCents:  amount,
			Method:       domain.PaymentCash,
			At:           time.Now().UTC(),
		})
		return err
	}

	if err := refund("refund-a-"+orderID, 4000); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if err := refund("refund-b-"+orderID, 7000); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected over-refund to be rejected, got %v", err)
	}
	if err := refund("refund-c-"+orderID, 6000); err != nil {
		t.Fatalf("remaining refund: %v", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded || order.RefundedCents != 10000 {
		t.Fatalf("expected fully refunded order, got status=%s refunded=%d", order.Status, order.RefundedCents)
	}

	op, err := s.FindOperationByKey(ctx, "refund-a-"+orderID)
	if err != nil {
		t.Fatalf("find operation: %v", err)
	}
	if err := s.AttachAuditLog(ctx, op.ID, "audit-it"); err != nil {
		t.Fatalf("attach audit log: %v", err)
	}
	op, err = s.FindOperationByKey(ctx, "refund-a-"+orderID)
	if err != nil {
		t.Fatalf("find operation: %v", err)
	}
	if op.AuditLogID != "audit-it" {
		t.Fatalf("expected audit id to be attached, got %q", op.AuditLogID)
	}
}
