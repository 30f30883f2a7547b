package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/epitome-sim/reverie-core/internal/experiment"
)

// redisPattern matches the pub/sub channel of every run. Channels are named
// after the broadcast group.
const redisPattern = "experiment_*"

// Redis relays output over Redis pub/sub, one channel per group.
type Redis struct {
	in     inbound
	client *redis.Client

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedis creates a Redis relay delivering other instances' output to local.
func NewRedis(client *redis.Client, local experiment.Relay, opts ...Option) *Redis {
	return &Redis{
		in:     inbound{options: buildOptions(opts), local: local},
		client: client,
	}
}

// Publish implements experiment.Relay.
func (r *Redis) Publish(ctx context.Context, group, message string) error {
	payload, err := encode(group, message, r.in.origin)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, group, payload).Err(); err != nil {
		return fmt.Errorf("redis relay publish %s: %w", group, err)
	}
	return nil
}

// Start subscribes to every run's channel and delivers messages until ctx
// ends or Close is called. It returns once the subscription is confirmed.
func (r *Redis) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.PSubscribe(ctx, redisPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close() //nolint:errcheck // already failing
		return fmt.Errorf("redis relay subscribe: %w", err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})

	go r.loop(ctx, pubsub.Channel(), r.done)

	r.in.logger.Debug("relay subscribed", "backend", "redis", "pattern", redisPattern)
	return nil
}

func (r *Redis) loop(ctx context.Context, msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.in.deliver(ctx, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// Close ends the subscription and waits for the delivery loop to exit.
// The client itself is owned by the caller.
func (r *Redis) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
