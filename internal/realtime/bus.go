package realtime

import (
	"context"
	"errors"
	"sync"

	"aepblueprint/internal/outline"
)

// Bus carries invalidations between instances. Publish satisfies
// outline.Publisher; StartForwarder delivers every message, including this
// instance's own, until ctx is done.
type Bus interface {
	Publish(ctx context.Context, inv outline.Invalidation) error
	StartForwarder(ctx context.Context, onMsg func(outline.Invalidation)) error
	Close() error
}

var ErrBusClosed = errors.New("bus closed")

// MemoryBus is the in-process bus used when no Redis is configured and by
// tests that run several façades in one process.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(outline.Invalidation)
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[int]func(outline.Invalidation))}
}

func (b *MemoryBus) Publish(ctx context.Context, inv outline.Invalidation) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]func(outline.Invalidation), 0, len(b.handlers))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(inv)
	}
	return nil
}

func (b *MemoryBus) StartForwarder(ctx context.Context, onMsg func(outline.Invalidation)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(outline.Invalidation))
	return nil
}
