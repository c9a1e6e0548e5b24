package scheduler

import (
	"sync"

	"github.com/star/orbitlab/internal/metrics"
)

// Broadcaster fans frames out to subscribers. A subscriber that falls behind
// loses frames instead of stalling the tick.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Frame
	nextID int
	latest *Frame
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer
// frames.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan Frame), buffer: buffer}
}

// Publish implements Publisher.
func (b *Broadcaster) Publish(f Frame) {
	b.mu.Lock()
	b.latest = &f
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- f:
		default:
			metrics.IncFramesDropped()
		}
	}
}

// Subscribe returns a frame channel and a function that unsubscribes and
// closes it.
func (b *Broadcaster) Subscribe() (<-chan Frame, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Frame, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Latest returns the most recent frame, if any.
func (b *Broadcaster) Latest() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return Frame{}, false
	}
	return *b.latest, true
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
