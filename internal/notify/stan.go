package notify

import (
	"context"
	"fmt"
	"time"

	stan "github.com/nats-io/stan.go"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/logging"
)

type StanNotifier struct {
	conn    stan.Conn
	storeID string
	durable string
}

// NewStanNotifier connects to a NATS Streaming cluster. clientID must be
// unique per terminal; an empty one is derived from the clock.
func NewStanNotifier(clusterID string, clientID string, url string, storeID string) (*StanNotifier, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("kasirinaja-%d", time.Now().UnixNano())
	}
	sc, err := stan.Connect(clusterID, clientID, stan.NatsURL(url))
	if err != nil {
		return nil, fmt.Errorf("stan connect: %w", err)
	}
	return &StanNotifier{conn: sc, storeID: storeID, durable: clientID}, nil
}

func (n *StanNotifier) Close() error {
	return n.conn.Close()
}

func (n *StanNotifier) Publish(_ context.Context, event domain.OperationEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return n.conn.Publish(Subject(n.storeID), payload)
}

// Subscribe uses a durable subscription so a terminal that was offline
// catches up on events it missed.
func (n *StanNotifier) Subscribe(ctx context.Context, handler func(context.Context, domain.OperationEvent)) error {
	log := logging.With("notify")

	sub, err := n.conn.Subscribe(Subject(n.storeID), func(m *stan.Msg) {
		event, err := decode(m.Data)
		if err != nil {
			log.Warn().Err(err).Uint64("sequence", m.Sequence).Msg("dropping malformed event")
			_ = m.Ack()
			return
		}
		hCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		handler(hCtx, event)
		if err := m.Ack(); err != nil {
			log.Warn().Err(err).Uint64("sequence", m.Sequence).Msg("ack failed")
		}
	}, stan.DurableName(n.durable), stan.SetManualAckMode(), stan.AckWait(10*time.Second), stan.DeliverAllAvailable())
	if err != nil {
		return err
	}

	<-ctx.Done()
	return sub.Close()
}

var (
	_ Notifier   = (*StanNotifier)(nil)
	_ Subscriber = (*StanNotifier)(nil)
)
