package relay

import (
	"context"
	"sync"
)

// MemoryBus is a single-process Bus for tests and local development.
// It mirrors the semantics of the redis-backed bus: messages published on a
// channel with no subscribers are dropped, delivery is asynchronous.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler

	// wg tracks in-flight deliveries so tests can drain the bus.
	wg sync.WaitGroup
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Copy so a handler cannot mutate the payload seen by another subscriber.
	for _, h := range handlers {
		h := h
		data := append([]byte(nil), payload...)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			h(data)
		}()
	}
	return nil
}

func (b *MemoryBus) Subscribe(channel string, h Handler) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]Handler)
	}
	b.subs[channel][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
		})
	}, nil
}

// Drain blocks until all in-flight deliveries have completed.
// Test helper; production code should not depend on it.
func (b *MemoryBus) Drain() {
	b.wg.Wait()
}
