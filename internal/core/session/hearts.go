package session

import (
	"math/rand"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/pkg/utils"
)

// HeartBuffer is the time-boxed display queue for floating hearts. Every
// received heart event produces exactly one entry; entries self-remove
// after the display duration, so the buffer is bounded by the active window
// even under sustained load. Nothing here is persisted.
type HeartBuffer struct {
	mu       sync.Mutex
	display  time.Duration
	hearts   map[string]domain.Heart
	timers   map[string]*time.Timer
	onExpire func(domain.Heart)
	closed   bool
}

// NewHeartBuffer creates a buffer whose entries live for display. onExpire
// may be nil.
func NewHeartBuffer(display time.Duration, onExpire func(domain.Heart)) *HeartBuffer {
	return &HeartBuffer{
		display:  display,
		hearts:   make(map[string]domain.Heart),
		timers:   make(map[string]*time.Timer),
		onExpire: onExpire,
	}
}

// Add inserts one heart visual with a random horizontal offset and arms its
// removal timer.
func (b *HeartBuffer) Add() domain.Heart {
	h := domain.Heart{
		ID:      utils.NewHeartID(),
		Offset:  rand.Intn(101),
		ShownAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return h
	}
	b.hearts[h.ID] = h
	b.timers[h.ID] = time.AfterFunc(b.display, func() { b.expire(h.ID) })
	return h
}

func (b *HeartBuffer) expire(id string) {
	b.mu.Lock()
	h, ok := b.hearts[id]
	if ok {
		delete(b.hearts, id)
		delete(b.timers, id)
	}
	cb := b.onExpire
	b.mu.Unlock()

	if ok && cb != nil {
		cb(h)
	}
}

// Active returns the hearts currently within their display window.
func (b *HeartBuffer) Active() []domain.Heart {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Heart, 0, len(b.hearts))
	for _, h := range b.hearts {
		out = append(out, h)
	}
	return out
}

// Len reports the number of hearts currently displayed.
func (b *HeartBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hearts)
}

// Close stops all pending timers and empties the buffer.
func (b *HeartBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.hearts = make(map[string]domain.Heart)
}
