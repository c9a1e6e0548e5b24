// Package scheduler advances the simulation clock on host ticks and turns
// the selected bodies into published frames.
//
// The scheduler never starts goroutines. The host calls Tick at its refresh
// cadence, and each Tick is the only point where simulated time moves.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orbitlab/internal/clock"
	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/registry"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/trail"
)

// State is the scheduler state. The zero value is Paused.
type State int

const (
	Paused State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "RUNNING"
	}
	return "PAUSED"
}

// MarshalText renders the state as RUNNING or PAUSED.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BodyFrame is the per-tick output for one body. Error is set when the body
// could not be propagated; Position then holds its last good value.
type BodyFrame struct {
	ID       string     `json:"id" yaml:"id"`
	Color    string     `json:"color,omitempty" yaml:"color,omitempty"`
	Position orbit.Vec3 `json:"position" yaml:"position"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Frame is one published tick.
type Frame struct {
	Seq           uint64      `json:"seq" yaml:"seq"`
	SimulatedTime float64     `json:"simulated_time" yaml:"simulated_time"`
	Time          time.Time   `json:"time" yaml:"time"`
	Bodies        []BodyFrame `json:"bodies" yaml:"bodies"`
}

// Publisher receives every frame. Publish must not block.
type Publisher interface {
	Publish(Frame)
}

// Scheduler is the PAUSED/RUNNING state machine of one session.
type Scheduler struct {
	mu    sync.Mutex // serializes ticks and transitions
	state State
	seq   uint64

	clock  *clock.Clock
	reg    *registry.Registry
	model  orbit.Propagator
	trails *trail.Buffer
	pub    Publisher
	epoch  time.Time
	logger *slog.Logger
}

// New creates a paused scheduler. pub may be nil.
func New(clk *clock.Clock, reg *registry.Registry, model orbit.Propagator, trails *trail.Buffer, pub Publisher, epoch time.Time, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clk,
		reg:    reg,
		model:  model,
		trails: trails,
		pub:    pub,
		epoch:  epoch,
		logger: logger,
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves PAUSED to RUNNING. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return
	}
	s.state = Running
	s.clock.Play()
	s.logger.Debug("scheduler started", "simulated_time", s.clock.Now())
}

// Pause moves RUNNING to PAUSED.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Paused {
		return
	}
	s.state = Paused
	s.clock.Pause()
	s.logger.Debug("scheduler paused", "simulated_time", s.clock.Now())
}

// Reset forces PAUSED, zeroes the clock, clears trails and publishes the
// bodies at t=0. Registered bodies are kept.
func (s *Scheduler) Reset() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Paused
	s.clock.Reset()
	s.trails.Reset()
	s.reg.Recompute(0)

	snap := s.reg.Snapshot()
	frame := s.newFrame(0)
	for _, b := range snap.Selected() {
		frame.Bodies = append(frame.Bodies, BodyFrame{
			ID:       b.Config.ID,
			Color:    b.Config.ColorTag,
			Position: b.Position,
			Error:    b.LastError,
		})
	}
	s.publish(frame)
	s.logger.Info("scheduler reset", "bodies", snap.Len())
	return frame
}

// Tick advances the clock by dt wall-clock seconds and propagates every
// selected body. It returns ok=false without touching the clock while
// paused. A failing body is reported in its BodyFrame and does not affect
// the others.
func (s *Scheduler) Tick(dt float64) (Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return Frame{}, false, nil
	}

	start := time.Now()
	t, err := s.clock.Tick(dt)
	if err != nil {
		return Frame{}, false, err
	}

	snap := s.reg.Snapshot()
	selected := snap.Selected()
	frame := s.newFrame(t)
	frame.Bodies = make([]BodyFrame, 0, len(selected))
	updates := make([]registry.PositionUpdate, 0, len(selected))

	for _, b := range selected {
		bf := BodyFrame{ID: b.Config.ID, Color: b.Config.ColorTag}
		pos, err := s.positionAt(b, t)
		if err != nil {
			metrics.IncBodyErrors(simerr.KindName(err))
			s.logger.Warn("body propagation failed",
				"body_id", b.Config.ID,
				"simulated_time", t,
				"error", err,
			)
			bf.Position = b.Position
			bf.Error = err.Error()
		} else {
			bf.Position = pos
		}
		frame.Bodies = append(frame.Bodies, bf)
		updates = append(updates, registry.PositionUpdate{
			ID:       b.Config.ID,
			Version:  b.Version,
			Position: pos,
			Time:     t,
			Err:      err,
		})
	}

	// Trails only take positions the registry accepted: a body reconfigured
	// or removed mid-tick must not get a point from its old orbit.
	s.reg.CommitPositions(updates, func(u registry.PositionUpdate) {
		if u.Err == nil {
			s.trails.Push(u.ID, trail.Point{T: u.Time, Position: u.Position})
		}
	})
	s.publish(frame)
	metrics.ObserveTick(time.Since(start))
	return frame, true, nil
}

// positionAt isolates one body's propagation, turning a panic into an error.
func (s *Scheduler) positionAt(b registry.Body, t float64) (pos orbit.Vec3, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("propagator panic for %s: %v", b.Config.ID, r)
		}
	}()
	pos, err = s.model.PositionAt(b.Config, b.Derived, t)
	if err == nil && !pos.IsFinite() {
		err = fmt.Errorf("non-finite position for %s", b.Config.ID)
	}
	return pos, err
}

func (s *Scheduler) newFrame(t float64) Frame {
	s.seq++
	return Frame{
		Seq:           s.seq,
		SimulatedTime: t,
		Time:          s.epoch.Add(time.Duration(t * float64(time.Second))),
	}
}

func (s *Scheduler) publish(f Frame) {
	if s.pub != nil {
		s.pub.Publish(f)
	}
}
