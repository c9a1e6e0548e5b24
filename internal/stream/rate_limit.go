package stream

import (
	"sync"
	"time"
)

// streamLimiter tracks concurrent SSE connections per IP and globally.
type streamLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	total       int
	maxPerIP    int
	maxTotal    int
}

func newStreamLimiter(maxPerIP int) *streamLimiter {
	return &streamLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
		maxTotal:    1000,
	}
}

// acquire registers a connection for ip, or returns false when the IP or
// global cap is reached.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	l.total++
	return true
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections[ip]--
	l.total--
	if l.connections[ip] <= 0 {
		delete(l.connections, ip)
	}
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// byteBudget is a token bucket refilled at rate bytes per second with a
// one-second burst. A zero rate allows everything. Used by a single
// goroutine.
type byteBudget struct {
	rate   float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

func newByteBudget(bytesPerSec int, now func() time.Time) *byteBudget {
	b := &byteBudget{rate: float64(bytesPerSec), now: now}
	b.tokens = b.rate
	b.last = now()
	return b
}

// take spends n bytes if available.
func (b *byteBudget) take(n int) bool {
	if b.rate <= 0 {
		return true
	}
	t := b.now()
	b.tokens += t.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.last = t
	if float64(n) > b.tokens {
		return false
	}
	b.tokens -= float64(n)
	return true
}
