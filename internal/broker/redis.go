package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	redisRoomPrefix     = "coord:room:"
	redisInstancePrefix = "coord:instance:"
)

// Redis is a Bus over Redis pub/sub: rooms publish to coord:room:<id> and
// every instance listens on coord:room:* plus its own coord:instance:<id>.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewRedis(client redis.UniversalClient, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) publish(ctx context.Context, channel string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) PublishRoom(ctx context.Context, env Envelope) error {
	env.Kind = KindRoom
	return r.publish(ctx, redisRoomPrefix+env.RoomID, env)
}

func (r *Redis) PublishInstance(ctx context.Context, instanceID string, env Envelope) error {
	return r.publish(ctx, redisInstancePrefix+instanceID, env)
}

// Subscribe returns once both subscriptions are confirmed by the server.
func (r *Redis) Subscribe(ctx context.Context, instanceID string, handler Handler) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.client.PSubscribe(ctx, redisRoomPrefix+"*")
	if err := pubsub.Subscribe(ctx, redisInstancePrefix+instanceID); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	for confirmed := 0; confirmed < 2; {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %s: %w", instanceID, err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}

	r.mu.Lock()
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("drop malformed envelope", slog.String("channel", msg.Channel), slog.String("err", err.Error()))
				continue
			}
			if env.Kind == KindRoom && env.Origin == instanceID {
				continue
			}
			handler(env)
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { _ = pubsub.Close() }) }, nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, pubsub := range r.subs {
		_ = pubsub.Close()
	}
	r.subs = nil
	return nil
}

var _ Bus = (*Redis)(nil)
