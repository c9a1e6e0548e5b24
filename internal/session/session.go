// Package session wires one simulation together: a clock, a body registry,
// trails, the tick scheduler and the conjunction runner. A Session is the
// single object hosts (HTTP API, terminal UI, CLI) talk to.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitlab/internal/clock"
	"github.com/star/orbitlab/internal/config"
	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/registry"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/trail"
)

// Options configure a Session. Zero fields take the package defaults,
// except TrailLength where zero disables trails.
type Options struct {
	ID          string
	Epoch       time.Time
	Params      orbit.Params
	Speed       float64
	TrailLength int
	FrameBuffer int

	DurationHours   float64
	SampleCount     int
	ThresholdKm     float64
	AnalysisTimeout time.Duration
	Workers         int
	MaxSamples      int
}

// OptionsFromConfig maps the process configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Epoch:           cfg.Simulation.Epoch,
		Params:          cfg.Model,
		Speed:           cfg.Simulation.Speed,
		TrailLength:     cfg.TrailLength(),
		DurationHours:   cfg.Analysis.DurationHours,
		SampleCount:     cfg.Analysis.SampleCount,
		ThresholdKm:     cfg.Analysis.ThresholdKm,
		AnalysisTimeout: cfg.Analysis.Timeout,
		Workers:         cfg.Analysis.Workers,
		MaxSamples:      cfg.Analysis.MaxSamples,
	}
}

func (o Options) withDefaults() Options {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.Epoch.IsZero() {
		o.Epoch = time.Now().UTC().Truncate(time.Second)
	}
	if o.Params.EarthRadiusKm == 0 {
		o.Params = orbit.DefaultParams()
	}
	if !(o.Speed > 0) || math.IsInf(o.Speed, 0) {
		o.Speed = config.DefaultSpeed
	}
	o.TrailLength = trail.Clamp(o.TrailLength)
	if o.FrameBuffer < 1 {
		o.FrameBuffer = 4
	}
	if !(o.DurationHours > 0) {
		o.DurationHours = config.DefaultDurationHours
	}
	if o.SampleCount < 2 {
		o.SampleCount = config.DefaultSampleCount
	}
	if !(o.ThresholdKm > 0) {
		o.ThresholdKm = config.DefaultThresholdKm
	}
	if o.AnalysisTimeout <= 0 {
		o.AnalysisTimeout = 30 * time.Second
	}
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
	if o.MaxSamples < 2 {
		o.MaxSamples = config.DefaultMaxSamples
	}
	return o
}

func newID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "session"
	}
	return hex.EncodeToString(b[:])
}

// Session is one independent simulation. All methods are safe for
// concurrent use.
type Session struct {
	opts   Options
	logger *slog.Logger

	model    *orbit.Model
	clock    *clock.Clock
	registry *registry.Registry
	trails   *trail.Buffer
	frames   *scheduler.Broadcaster
	sched    *scheduler.Scheduler
	analyzer *conjunction.Analyzer
	runner   *conjunction.Runner
	outcomes *hub[conjunction.Outcome]

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a paused session with no bodies.
func New(opts Options, logger *slog.Logger) *Session {
	opts = opts.withDefaults()
	logger = logger.With("session_id", opts.ID)

	params := opts.Params
	params.Epoch = opts.Epoch
	model := orbit.NewModel(params)

	s := &Session{
		opts:     opts,
		logger:   logger,
		model:    model,
		clock:    clock.New(opts.Speed),
		trails:   trail.NewBuffer(opts.TrailLength),
		frames:   scheduler.NewBroadcaster(opts.FrameBuffer),
		outcomes: newHub[conjunction.Outcome](),
	}
	s.registry = registry.New(model, s.clock, logger)
	s.sched = scheduler.New(s.clock, s.registry, model, s.trails, s.frames, opts.Epoch, logger)
	s.analyzer = conjunction.NewAnalyzer(model, conjunction.Options{
		Epoch:      opts.Epoch,
		Workers:    opts.Workers,
		MaxSamples: opts.MaxSamples,
	}, logger)
	s.runner = conjunction.NewRunner(s.analyzer, opts.AnalysisTimeout, s.deliver, logger)

	logger.Info("session created", "epoch", opts.Epoch, "speed", opts.Speed, "trail_length", opts.TrailLength)
	return s
}

func (s *Session) ID() string             { return s.opts.ID }
func (s *Session) Epoch() time.Time       { return s.opts.Epoch }
func (s *Session) Model() *orbit.Model    { return s.model }
func (s *Session) Options() Options       { return s.opts }
func (s *Session) Clock() clock.State     { return s.clock.State() }
func (s *Session) State() scheduler.State { return s.sched.State() }

// Frames exposes the published tick frames.
func (s *Session) Frames() *scheduler.Broadcaster { return s.frames }

// WallTime maps a simulated time to wall time.
func (s *Session) WallTime(t float64) time.Time {
	return s.opts.Epoch.Add(time.Duration(t * float64(time.Second)))
}

// SimulatedTime maps a wall time to simulated seconds.
func (s *Session) SimulatedTime(at time.Time) float64 {
	return at.Sub(s.opts.Epoch).Seconds()
}

// Register adds a body; it is selected for rendering immediately.
func (s *Session) Register(cfg orbit.Config) (string, error) {
	return s.registry.Register(cfg)
}

// RegisterPreset registers a built-in catalog body.
func (s *Session) RegisterPreset(name, id string) (string, error) {
	cfg, err := config.BodyFromPreset(name, id)
	if err != nil {
		return "", err
	}
	return s.Register(cfg)
}

// Unregister removes a body and its trail.
func (s *Session) Unregister(id string) error {
	if err := s.registry.Unregister(id); err != nil {
		return err
	}
	s.trails.Forget(id)
	return nil
}

// UpdateConfig replaces a body's configuration. The old trail no longer
// describes the new orbit and is dropped.
func (s *Session) UpdateConfig(id string, cfg orbit.Config) error {
	if err := s.registry.UpdateConfig(id, cfg); err != nil {
		return err
	}
	s.trails.Forget(id)
	return nil
}

// Select replaces the set of rendered bodies.
func (s *Session) Select(ids []string) error {
	return s.registry.Select(ids)
}

func (s *Session) Get(id string) (registry.Body, error) {
	return s.registry.Get(id)
}

// Bodies returns every body in registration order.
func (s *Session) Bodies() []registry.Body {
	return s.registry.Snapshot().All()
}

func (s *Session) Play()  { s.sched.Start() }
func (s *Session) Pause() { s.sched.Pause() }

// Reset pauses, zeroes the clock, restores the configured speed and clears
// trails. Bodies stay registered.
func (s *Session) Reset() scheduler.Frame {
	frame := s.sched.Reset()
	// Validated in withDefaults.
	_ = s.clock.SetSpeed(s.opts.Speed)
	return frame
}

func (s *Session) SetSpeed(x float64) error {
	if err := s.clock.SetSpeed(x); err != nil {
		return err
	}
	s.logger.Debug("speed changed", "speed", x)
	return nil
}

// SetTrailLength sets the number of trail points kept per body, clamped to
// [0, trail.MaxLength], and returns the applied value.
func (s *Session) SetTrailLength(n int) int {
	return s.trails.SetLength(n)
}

func (s *Session) TrailLength() int { return s.trails.Length() }

// Trail returns up to count recent points of a body, oldest first.
func (s *Session) Trail(id string, count int) ([]trail.Point, error) {
	if _, err := s.registry.Get(id); err != nil {
		return nil, err
	}
	return s.trails.Recent(id, count), nil
}

// Tick advances the simulation by dt wall-clock seconds.
func (s *Session) Tick(dt float64) (scheduler.Frame, bool, error) {
	return s.sched.Tick(dt)
}

// Drive ticks the session at interval until ctx is done, passing the
// measured wall-clock delta to each tick.
func (s *Session) Drive(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return simerr.InvalidParameter("session.Drive", "interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if _, _, err := s.sched.Tick(dt); err != nil {
				s.logger.Warn("tick failed", "dt", dt, "error", err)
			}
		}
	}
}

// Close cancels any analysis and waits for its goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.runner.Close()
		s.outcomes.close()
		s.logger.Info("session closed")
	})
}

// Ready reports an error once the session is closed.
func (s *Session) Ready() error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	return nil
}
