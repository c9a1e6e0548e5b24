package clock

import (
	"errors"
	"math"
	"testing"

	"github.com/star/orbitlab/internal/simerr"
)

func TestTickPausedIsNoop(t *testing.T) {
	c := New(1)
	got, err := c.Tick(5)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got != 0 {
		t.Errorf("paused tick advanced time to %v", got)
	}
}

// TestMonotonic verifies simulated time never decreases across a mixed
// sequence of ticks, pauses and speed changes.
func TestMonotonic(t *testing.T) {
	c := New(1)
	c.Play()

	steps := []struct {
		dt    float64
		speed float64
		pause bool
	}{
		{0.016, 1, false},
		{0, 1, false},
		{0.033, 5, false},
		{1, 0.5, true},
		{0.5, 2, false},
		{-1, 2, false},
		{math.NaN(), 2, false},
	}

	prev := c.Now()
	for i, s := range steps {
		if err := c.SetSpeed(s.speed); err != nil {
			t.Fatalf("step %d: SetSpeed failed: %v", i, err)
		}
		if s.pause {
			c.Pause()
		} else {
			c.Play()
		}
		now, _ := c.Tick(s.dt)
		if now < prev {
			t.Fatalf("step %d: time moved backward %v -> %v", i, prev, now)
		}
		if s.pause && now != prev {
			t.Fatalf("step %d: paused tick changed time %v -> %v", i, prev, now)
		}
		prev = now
	}
}

func TestTickRejectsNegativeDt(t *testing.T) {
	c := New(1)
	c.Play()
	c.Tick(2)
	now, err := c.Tick(-1)
	if !errors.Is(err, simerr.ErrInvalidParameter) {
		t.Errorf("expected invalid parameter, got %v", err)
	}
	if now != 2 {
		t.Errorf("time = %v after rejected tick, want 2", now)
	}
}

func TestZeroDtIdempotent(t *testing.T) {
	c := New(3)
	c.Play()
	c.Tick(1)
	for i := 0; i < 10; i++ {
		if now, _ := c.Tick(0); now != 3 {
			t.Fatalf("zero tick changed time to %v", now)
		}
	}
}

// TestSpeedLinearity verifies that doubling speed and halving dt gives the
// same simulated delta.
func TestSpeedLinearity(t *testing.T) {
	a := New(1)
	a.Play()
	b := New(2)
	b.Play()

	for i := 0; i < 100; i++ {
		a.Tick(0.02)
		b.Tick(0.01)
	}
	if math.Abs(a.Now()-b.Now()) > 1e-12 {
		t.Errorf("speed scaling not linear: %v vs %v", a.Now(), b.Now())
	}
}

func TestSetSpeedRejectsNonPositive(t *testing.T) {
	c := New(2)
	for _, x := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := c.SetSpeed(x); !errors.Is(err, simerr.ErrInvalidParameter) {
			t.Errorf("SetSpeed(%v) err = %v, want invalid parameter", x, err)
		}
		if got := c.State().Speed; got != 2 {
			t.Errorf("speed = %v after SetSpeed(%v), want 2", got, x)
		}
	}
}

func TestReset(t *testing.T) {
	c := New(5)
	c.Play()
	c.Tick(10)
	c.Reset()

	s := c.State()
	if s.SimulatedTime != 0 || s.Running {
		t.Errorf("after reset: %+v", s)
	}
	if s.Speed != 5 {
		t.Errorf("reset changed speed to %v", s.Speed)
	}
}

func TestNewDefaultsInvalidSpeed(t *testing.T) {
	if got := New(0).State().Speed; got != 1 {
		t.Errorf("New(0) speed = %v, want 1", got)
	}
}
