package admins

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InvalidationChannel carries "admin lists changed" between processes.
const InvalidationChannel = "storefront:admins:invalidate"

// Notifier tells other processes sharing the admin lists that they changed.
type Notifier interface {
	Publish(ctx context.Context) error
}

// RedisNotifier broadcasts invalidations over Redis pub/sub. Each instance
// tags its messages so it does not react to its own.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: InvalidationChannel, origin: uuid.NewString()}
}

func (n *RedisNotifier) Publish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return n.client.Publish(ctx, n.channel, n.origin).Err()
}

// Listen subscribes and drops a's cached state whenever another process
// publishes. It returns once the subscription is confirmed; the returned stop
// func ends it.
func (n *RedisNotifier) Listen(ctx context.Context, a *Authority) (stop func(), err error) {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == n.origin {
					continue
				}
				a.invalidateLocal()
			}
		}
	}()

	return func() {
		cancel()
		if err := sub.Close(); err != nil {
			log.Printf("admin invalidation unsubscribe failed err=%v", err)
		}
		<-done
	}, nil
}
