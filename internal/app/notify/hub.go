// Package notify fans ordered state updates out to observers.
package notify

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultBuffer = 64

// Hub delivers every published value to each subscriber in publish order.
// A subscriber that stops draining loses values instead of blocking publishers.
type Hub[T any] struct {
	module string

	mu        sync.RWMutex
	listeners map[chan T]struct{}
	closed    bool
}

func NewHub[T any](module string) *Hub[T] {
	return &Hub[T]{
		module:    module,
		listeners: make(map[chan T]struct{}),
	}
}

// Subscribe returns a channel that receives published values and a cancel func.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, defaultBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.listeners[ch]; ok {
			delete(h.listeners, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners {
		select {
		case ch <- v:
		default:
			log.Warn().Str("module", h.module).Msg("observer not draining, dropping update")
		}
	}
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.listeners {
		close(ch)
		delete(h.listeners, ch)
	}
}
