// Package eventbus carries task lifecycle events from the engine to
// in-process observers. Publishing never blocks: a subscriber that
// falls behind loses events rather than stalling a worker.
package eventbus

import (
	"sync"
	"time"
)

// Event is one bus message. Data holds a payload specific to Type.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[int]chan Event{}}
}

type memBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Publish delivers e to every live subscriber with room in its buffer.
// The send happens under the bus lock, which keeps closed channels out
// of reach: unsubscribe closes under the same lock.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered listener. The returned channel closes
// when unsubscribe is called; calling it more than once is fine.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
