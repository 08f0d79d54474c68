package broker

import (
	"context"
	"sync"
)

// Local is an in-process Bus. Several gateways sharing one Local behave like
// instances sharing a real broker. Handlers run synchronously on the
// publisher's goroutine.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
}

func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

func (l *Local) snapshot() (map[string]Handler, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	handlers := make(map[string]Handler, len(l.handlers))
	for id, h := range l.handlers {
		handlers[id] = h
	}
	return handlers, nil
}

func (l *Local) PublishRoom(_ context.Context, env Envelope) error {
	handlers, err := l.snapshot()
	if err != nil {
		return err
	}
	env.Kind = KindRoom
	for instanceID, handler := range handlers {
		if instanceID == env.Origin {
			continue
		}
		handler(env)
	}
	return nil
}

func (l *Local) PublishInstance(_ context.Context, instanceID string, env Envelope) error {
	handlers, err := l.snapshot()
	if err != nil {
		return err
	}
	if handler, exist := handlers[instanceID]; exist {
		handler(env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, instanceID string, handler Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	l.handlers[instanceID] = handler
	return func() {
		l.mu.Lock()
		delete(l.handlers, instanceID)
		l.mu.Unlock()
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = make(map[string]Handler)
	return nil
}

var _ Bus = (*Local)(nil)
