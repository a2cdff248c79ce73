package core

import "sync"

// Event is a named payload emitted by a component.
type Event interface {
	EventName() string
}

// Bus is a synchronous fan-out of typed events to subscribers.
// Emit runs subscribers in subscription order on the caller's goroutine.
type Bus[E any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber[E]
}

type subscriber[E any] struct {
	id int
	fn func(E)
}

func NewBus[E any]() *Bus[E] {
	return &Bus[E]{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[E]{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus[E]) Emit(e E) {
	b.mu.RLock()
	subs := make([]subscriber[E], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(e)
	}
}

func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
