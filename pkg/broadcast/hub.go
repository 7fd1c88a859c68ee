// Package broadcast provides a fan-out hub where every subscriber receives
// every published value in publish order. A subscriber whose buffer is full
// misses the value; other subscribers are never held up by it.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-subscriber channel capacity used when New is given
// a non-positive buffer size.
const DefaultBuffer = 64

// Hub fans values of type T out to any number of subscribers.
type Hub[T any] struct {
	name   string
	buffer int

	mu     sync.RWMutex
	subs   map[<-chan T]chan T
	closed bool
}

// New creates a hub. The name only appears in log output.
func New[T any](name string, buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		name:   name,
		buffer: buffer,
		subs:   make(map[<-chan T]chan T),
	}
}

// Subscribe registers a new subscriber. The returned channel is closed by
// Unsubscribe or Close.
func (h *Hub[T]) Subscribe() <-chan T {
	ch := make(chan T, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown channels
// are ignored, so calling it twice is safe.
func (h *Hub[T]) Unsubscribe(ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(c)
	}
}

// Publish delivers v to every subscriber without blocking. It returns the
// number of subscribers that received the value.
func (h *Hub[T]) Publish(v T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered := 0
	for _, c := range h.subs {
		select {
		case c <- v:
			delivered++
		default:
			log.Warn().Str("hub", h.name).Msg("subscriber buffer full, dropping value")
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later Publish calls are no-ops and
// later Subscribe calls return an already closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for k, c := range h.subs {
		delete(h.subs, k)
		close(c)
	}
}
