// Package trail keeps a bounded history of recent positions per body so
// collaborators can draw orbital trails behind each body.
package trail

import (
	"sync"

	"github.com/star/orbitlab/internal/orbit"
)

// MaxLength caps the configurable trail length.
const MaxLength = 1000

// Point is one past position.
type Point struct {
	T        float64    `json:"t" yaml:"t"`
	Position orbit.Vec3 `json:"p" yaml:"p"`
}

// ring is a fixed-capacity circular buffer, oldest entry at start.
type ring struct {
	points []Point
	start  int
	n      int
}

func (r *ring) push(p Point) {
	if len(r.points) == 0 {
		return
	}
	idx := (r.start + r.n) % len(r.points)
	r.points[idx] = p
	if r.n < len(r.points) {
		r.n++
	} else {
		r.start = (r.start + 1) % len(r.points)
	}
}

func (r *ring) recent(count int) []Point {
	if count > r.n {
		count = r.n
	}
	out := make([]Point, 0, count)
	for i := r.n - count; i < r.n; i++ {
		out = append(out, r.points[(r.start+i)%len(r.points)])
	}
	return out
}

// Buffer holds one ring per body. Safe for concurrent use.
type Buffer struct {
	mu     sync.RWMutex
	length int
	rings  map[string]*ring
}

// NewBuffer creates a buffer keeping length points per body, clamped to
// [0, MaxLength].
func NewBuffer(length int) *Buffer {
	return &Buffer{length: Clamp(length), rings: make(map[string]*ring)}
}

// Clamp bounds a requested trail length.
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxLength {
		return MaxLength
	}
	return n
}

// Length returns the configured length.
func (b *Buffer) Length() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.length
}

// SetLength changes the length, keeping the newest points of every body.
// Returns the applied length.
func (b *Buffer) SetLength(n int) int {
	n = Clamp(n)
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == b.length {
		return n
	}
	for id, r := range b.rings {
		kept := r.recent(n)
		nr := &ring{points: make([]Point, n)}
		for _, p := range kept {
			nr.push(p)
		}
		b.rings[id] = nr
	}
	b.length = n
	return n
}

// Push appends the position of body id.
func (b *Buffer) Push(id string, p Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.length == 0 {
		return
	}
	r, ok := b.rings[id]
	if !ok {
		r = &ring{points: make([]Point, b.length)}
		b.rings[id] = r
	}
	r.push(p)
}

// Recent returns up to count points for id, oldest first. count <= 0 means
// the whole trail.
func (b *Buffer) Recent(id string, count int) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rings[id]
	if !ok {
		return nil
	}
	if count <= 0 {
		count = r.n
	}
	return r.recent(count)
}

// Forget drops the trail of one body.
func (b *Buffer) Forget(id string) {
	b.mu.Lock()
	delete(b.rings, id)
	b.mu.Unlock()
}

// Reset drops every trail.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.rings = make(map[string]*ring)
	b.mu.Unlock()
}
