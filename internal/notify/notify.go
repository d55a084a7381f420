// Package notify broadcasts applied voids and refunds to the other terminals
// of a store. Delivery is best effort; the datastore stays the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"kasirinaja/terminal/internal/domain"
)

// Notifier publishes operation events. Publish must not block on a slow
// broker for longer than ctx allows.
type Notifier interface {
	Publish(ctx context.Context, event domain.OperationEvent) error
	Close() error
}

// Subscriber delivers events published by other terminals.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, event domain.OperationEvent)) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ domain.OperationEvent) error { return nil }

func (Noop) Close() error { return nil }

func (Noop) Subscribe(_ context.Context, _ func(context.Context, domain.OperationEvent)) error {
	return nil
}

// Subject is the channel (redis) or subject (stan) events for a store go to.
func Subject(storeID string) string {
	return "kasirinaja.operations." + storeID
}

func encode(event domain.OperationEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode operation event: %w", err)
	}
	return payload, nil
}

func decode(raw []byte) (domain.OperationEvent, error) {
	var event domain.OperationEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.OperationEvent{}, fmt.Errorf("decode operation event: %w", err)
	}
	return event, nil
}

var (
	_ Notifier   = Noop{}
	_ Subscriber = Noop{}
)
