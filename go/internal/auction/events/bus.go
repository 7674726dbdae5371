package events

import (
	"context"
	"sync"
)

// Handler receives events published on a LocalBus.
type Handler func(ctx context.Context, event Event)

// LocalBus delivers events to in-process handlers and then forwards them to
// an optional downstream publisher.
type LocalBus struct {
	next Publisher

	mu       sync.RWMutex
	handlers []Handler
}

// NewLocalBus creates a bus forwarding to next, which may be nil.
func NewLocalBus(next Publisher) *LocalBus {
	return &LocalBus{next: next}
}

// Subscribe registers h for every subsequent event.
func (b *LocalBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *LocalBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	if b.next == nil {
		return nil
	}
	return b.next.Publish(ctx, event)
}
