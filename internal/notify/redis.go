package notify

import (
	"context"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/logging"
)

type RedisNotifier struct {
	client  *redis.Client
	storeID string
}

func NewRedisNotifier(addr string, password string, db int, storeID string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisNotifier{client: client, storeID: storeID}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) Publish(ctx context.Context, event domain.OperationEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, Subject(n.storeID), payload).Err()
}

// Subscribe blocks until ctx is cancelled. Events this terminal published are
// delivered too; handlers filter on TerminalID when they care.
func (n *RedisNotifier) Subscribe(ctx context.Context, handler func(context.Context, domain.OperationEvent)) error {
	sub := n.client.Subscribe(ctx, Subject(n.storeID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	log := logging.With("notify")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}
			handler(ctx, event)
		}
	}
}

var (
	_ Notifier   = (*RedisNotifier)(nil)
	_ Subscriber = (*RedisNotifier)(nil)
)
