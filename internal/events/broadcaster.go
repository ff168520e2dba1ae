// Package events fans out in-process events to subscribers.
package events

import (
	"sync"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// Broadcaster fans out values to all subscribers via buffered channels and
// remembers the latest one. New subscribers get the latest value right away.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[chan T]struct{}
	buffer  int
	latest  T
	hasLast bool
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// QuoteBroadcaster distributes rate quotes to account actors and web streams.
type QuoteBroadcaster = Broadcaster[domain.RateQuote]

// NewQuoteBroadcaster creates a quote broadcaster.
func NewQuoteBroadcaster(buffer int) *QuoteBroadcaster {
	return NewBroadcaster[domain.RateQuote](buffer)
}

// Publish stores v as the latest value and sends it to all subscribers.
// A subscriber with a full buffer loses its oldest value, never v.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = v
	b.hasLast = true
	for ch := range b.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe returns a channel that receives values until Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	if b.hasLast {
		ch <- b.latest
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
