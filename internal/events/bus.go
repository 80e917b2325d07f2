// Package events fans pipeline events out to subscribers.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantforge/alphagate/internal/domain"
)

// Handler processes one event.
type Handler func(e domain.RunEvent)

// Sink receives events from a run.
type Sink interface {
	Emit(e domain.RunEvent)
}

type subscription struct {
	id      string
	handler Handler
	types   map[domain.EventType]bool
}

// Bus broadcasts events to subscribers in subscription order.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *zap.Logger
}

// NewBus creates an empty bus. A nil logger is replaced by a no-op logger.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for the given event types, or for all types
// when none are given. It returns the subscription ID.
func (b *Bus) Subscribe(handler Handler, types ...domain.EventType) string {
	sub := &subscription{id: uuid.NewString(), handler: handler}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit delivers e to every matching subscriber. A panicking handler is
// logged and skipped.
func (b *Bus) Emit(e domain.RunEvent) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscription, e domain.RunEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription", s.id),
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	s.handler(e)
}
