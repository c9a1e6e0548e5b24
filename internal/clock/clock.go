// Package clock owns simulated time for one session.
package clock

import (
	"math"
	"sync"

	"github.com/star/orbitlab/internal/simerr"
)

// State is a consistent view of the clock.
type State struct {
	SimulatedTime float64 `json:"simulated_time" yaml:"simulated_time"`
	Speed         float64 `json:"speed" yaml:"speed"`
	Running       bool    `json:"running" yaml:"running"`
}

// Clock advances simulated seconds by wall-clock dt scaled by the speed
// multiplier. Simulated time never moves backward. Safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	t       float64
	speed   float64
	running bool
}

// New returns a paused clock at t=0. A speed that is not positive and finite
// falls back to 1.
func New(speed float64) *Clock {
	if !validSpeed(speed) {
		speed = 1
	}
	return &Clock{speed: speed}
}

// Tick advances the clock by dt wall-clock seconds and returns the new
// simulated time. Paused clocks and zero dt leave time unchanged. A negative
// or non-finite dt is rejected.
func (c *Clock) Tick(dt float64) (float64, error) {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt < 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.t, simerr.InvalidParameter("tick", "dt %v must be a finite non-negative number", dt)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.t += dt * c.speed
	}
	return c.t, nil
}

// Play starts the clock.
func (c *Clock) Play() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
}

// Pause freezes the clock.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// SetSpeed changes the multiplier. On error the previous speed is kept.
func (c *Clock) SetSpeed(x float64) error {
	if !validSpeed(x) {
		return simerr.InvalidParameter("set_speed", "speed multiplier %v must be positive and finite", x)
	}
	c.mu.Lock()
	c.speed = x
	c.mu.Unlock()
	return nil
}

// Reset zeroes simulated time and pauses. The speed is unchanged.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.t = 0
	c.running = false
	c.mu.Unlock()
}

// Now returns the current simulated time.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// State returns time, speed and running flag read together.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{SimulatedTime: c.t, Speed: c.speed, Running: c.running}
}

func validSpeed(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}
