package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

const (
	natsRoomPrefix     = "coord.room."
	natsInstancePrefix = "coord.instance."
)

// NATS is a Bus over core NATS subjects coord.room.<id> and
// coord.instance.<id>.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATS(conn *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{conn: conn, logger: logger}
}

// Dots and wildcards would split or widen a subject.
var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func (n *NATS) publish(subject string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) PublishRoom(_ context.Context, env Envelope) error {
	env.Kind = KindRoom
	return n.publish(natsRoomPrefix+subjectToken.Replace(env.RoomID), env)
}

func (n *NATS) PublishInstance(_ context.Context, instanceID string, env Envelope) error {
	return n.publish(natsInstancePrefix+subjectToken.Replace(instanceID), env)
}

func (n *NATS) Subscribe(_ context.Context, instanceID string, handler Handler) (func(), error) {
	deliver := func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			n.logger.Warn("drop malformed envelope", slog.String("subject", msg.Subject), slog.String("err", err.Error()))
			return
		}
		if env.Kind == KindRoom && env.Origin == instanceID {
			return
		}
		handler(env)
	}

	rooms, err := n.conn.Subscribe(natsRoomPrefix+"*", deliver)
	if err != nil {
		return nil, err
	}
	direct, err := n.conn.Subscribe(natsInstancePrefix+subjectToken.Replace(instanceID), deliver)
	if err != nil {
		_ = rooms.Unsubscribe()
		return nil, err
	}
	if err := n.conn.Flush(); err != nil {
		_ = rooms.Unsubscribe()
		_ = direct.Unsubscribe()
		return nil, err
	}

	n.mu.Lock()
	n.subs = append(n.subs, rooms, direct)
	n.mu.Unlock()

	return func() {
		_ = rooms.Unsubscribe()
		_ = direct.Unsubscribe()
	}, nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.subs = nil
	return n.conn.Drain()
}

var _ Bus = (*NATS)(nil)
