package scheduler

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/star/orbitlab/internal/clock"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/registry"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/trail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// flakyModel fails for one body id and panics for another.
type flakyModel struct {
	*orbit.Model
	failID  string
	panicID string
}

func (f flakyModel) PositionAt(cfg orbit.Config, d orbit.Derived, t float64) (orbit.Vec3, error) {
	switch cfg.ID {
	case f.failID:
		return orbit.Vec3{}, errors.New("decayed")
	case f.panicID:
		panic("bad record")
	}
	return f.Model.PositionAt(cfg, d, t)
}

type recorder struct {
	frames []Frame
}

func (r *recorder) Publish(f Frame) { r.frames = append(r.frames, f) }

type fixture struct {
	clk    *clock.Clock
	reg    *registry.Registry
	trails *trail.Buffer
	rec    *recorder
	sched  *Scheduler
}

func newFixture(t *testing.T, model orbit.Propagator, ids ...string) *fixture {
	t.Helper()
	m := orbit.NewModel(orbit.DefaultParams())
	if model == nil {
		model = m
	}
	clk := clock.New(1)
	reg := registry.New(m, clk, testLogger())
	for _, id := range ids {
		if _, err := reg.Register(orbit.NewCircular(id, 500, "")); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	trails := trail.NewBuffer(10)
	rec := &recorder{}
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fixture{
		clk:    clk,
		reg:    reg,
		trails: trails,
		rec:    rec,
		sched:  New(clk, reg, model, trails, rec, epoch, testLogger()),
	}
}

func TestInitialStatePaused(t *testing.T) {
	f := newFixture(t, nil, "a")
	if f.sched.State() != Paused {
		t.Fatalf("initial state = %v, want PAUSED", f.sched.State())
	}

	_, ok, err := f.sched.Tick(1)
	if err != nil || ok {
		t.Fatalf("paused tick: ok=%v err=%v", ok, err)
	}
	if f.clk.Now() != 0 || len(f.rec.frames) != 0 {
		t.Errorf("paused tick had side effects: t=%v frames=%d", f.clk.Now(), len(f.rec.frames))
	}
}

func TestStartPauseTransitions(t *testing.T) {
	f := newFixture(t, nil, "a")
	f.sched.Start()
	f.sched.Start()
	if f.sched.State() != Running || !f.clk.State().Running {
		t.Fatal("expected RUNNING with running clock")
	}
	f.sched.Pause()
	if f.sched.State() != Paused || f.clk.State().Running {
		t.Fatal("expected PAUSED with frozen clock")
	}
}

// TestTickPublishesSelectedBodies verifies one frame per tick holding only
// the selected bodies at the advanced simulated time.
func TestTickPublishesSelectedBodies(t *testing.T) {
	f := newFixture(t, nil, "a", "b", "c")
	if err := f.reg.Select([]string{"a", "c"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	f.sched.Start()

	frame, ok, err := f.sched.Tick(2)
	if err != nil || !ok {
		t.Fatalf("Tick: ok=%v err=%v", ok, err)
	}
	if frame.SimulatedTime != 2 {
		t.Errorf("simulated time = %v, want 2", frame.SimulatedTime)
	}
	if !frame.Time.Equal(time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)) {
		t.Errorf("frame time = %v", frame.Time)
	}
	if len(frame.Bodies) != 2 || frame.Bodies[0].ID != "a" || frame.Bodies[1].ID != "c" {
		t.Fatalf("bodies = %+v", frame.Bodies)
	}
	if len(f.rec.frames) != 1 || f.rec.frames[0].Seq != frame.Seq {
		t.Errorf("published %d frames", len(f.rec.frames))
	}

	b, _ := f.reg.Get("a")
	if b.PositionTime != 2 || b.Position != frame.Bodies[0].Position {
		t.Errorf("registry not updated: %+v", b)
	}
	if len(f.trails.Recent("a", 0)) != 1 || len(f.trails.Recent("b", 0)) != 0 {
		t.Error("trails should only grow for selected bodies")
	}
}

// TestPerBodyIsolation verifies a failing and a panicking body do not stop
// the healthy one.
func TestPerBodyIsolation(t *testing.T) {
	m := orbit.NewModel(orbit.DefaultParams())
	f := newFixture(t, flakyModel{Model: m, failID: "bad", panicID: "worse"}, "good", "bad", "worse")
	before, _ := f.reg.Get("bad")
	f.sched.Start()

	frame, ok, err := f.sched.Tick(10)
	if err != nil || !ok {
		t.Fatalf("Tick: ok=%v err=%v", ok, err)
	}
	if len(frame.Bodies) != 3 {
		t.Fatalf("expected 3 bodies, got %d", len(frame.Bodies))
	}

	byID := map[string]BodyFrame{}
	for _, b := range frame.Bodies {
		byID[b.ID] = b
	}
	if byID["good"].Error != "" {
		t.Errorf("healthy body errored: %s", byID["good"].Error)
	}
	if byID["bad"].Error == "" || byID["worse"].Error == "" {
		t.Errorf("failures not reported: %+v", byID)
	}
	if byID["bad"].Position != before.Position {
		t.Error("failed body should keep its last good position")
	}

	after, _ := f.reg.Get("bad")
	if after.LastError == "" {
		t.Error("registry should record the failure")
	}
}

func TestTickRejectsInvalidDt(t *testing.T) {
	f := newFixture(t, nil, "a")
	f.sched.Start()
	_, ok, err := f.sched.Tick(math.NaN())
	if ok || !errors.Is(err, simerr.ErrInvalidParameter) {
		t.Errorf("Tick(NaN): ok=%v err=%v", ok, err)
	}
}

// TestResetKeepsBodies verifies reset pauses, zeroes time and keeps the
// registry intact.
func TestResetKeepsBodies(t *testing.T) {
	f := newFixture(t, nil, "a", "b")
	f.sched.Start()
	for i := 0; i < 5; i++ {
		f.sched.Tick(60)
	}

	frame := f.sched.Reset()
	if f.sched.State() != Paused || f.clk.Now() != 0 {
		t.Fatalf("after reset: state=%v t=%v", f.sched.State(), f.clk.Now())
	}
	if f.reg.Snapshot().Len() != 2 {
		t.Errorf("reset removed bodies")
	}
	if frame.SimulatedTime != 0 || len(frame.Bodies) != 2 {
		t.Errorf("reset frame = %+v", frame)
	}
	if len(f.trails.Recent("a", 0)) != 0 {
		t.Error("reset should clear trails")
	}

	b, _ := f.reg.Get("a")
	want, _ := orbit.NewModel(orbit.DefaultParams()).PositionAt(b.Config, b.Derived, 0)
	if b.Position != want {
		t.Errorf("position not recomputed at t=0: %+v want %+v", b.Position, want)
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	bc := NewBroadcaster(2)
	ch, cancel := bc.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		bc.Publish(Frame{Seq: uint64(i)})
	}
	if got := len(ch); got != 2 {
		t.Fatalf("buffered = %d, want 2", got)
	}
	if f := <-ch; f.Seq != 1 {
		t.Errorf("first frame seq = %d", f.Seq)
	}
	latest, ok := bc.Latest()
	if !ok || latest.Seq != 5 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	bc := NewBroadcaster(1)
	ch, cancel := bc.Subscribe()
	if bc.Subscribers() != 1 {
		t.Fatal("expected one subscriber")
	}
	cancel()
	cancel()
	if _, open := <-ch; open {
		t.Error("channel should be closed")
	}
	bc.Publish(Frame{Seq: 1})
	if bc.Subscribers() != 0 {
		t.Error("expected no subscribers")
	}
}

// gatedModel blocks its first PositionAt call until released, holding a tick
// between its snapshot read and its commit.
type gatedModel struct {
	*orbit.Model
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedModel() *gatedModel {
	return &gatedModel{
		Model:   orbit.NewModel(orbit.DefaultParams()),
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedModel) PositionAt(cfg orbit.Config, d orbit.Derived, t float64) (orbit.Vec3, error) {
	g.once.Do(func() {
		close(g.reached)
		<-g.release
	})
	return g.Model.PositionAt(cfg, d, t)
}

func tickAsync(s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, _, err := s.Tick(1)
		done <- err
	}()
	return done
}

func TestTickDuringUpdateKeepsOldOrbitOutOfTrail(t *testing.T) {
	g := newGatedModel()
	f := newFixture(t, g, "a")
	f.sched.Start()

	done := tickAsync(f.sched)
	<-g.reached
	if err := f.reg.UpdateConfig("a", orbit.NewCircular("a", 1800, "")); err != nil {
		t.Fatalf("update: %v", err)
	}
	f.trails.Forget("a")
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("tick: %v", err)
	}

	if pts := f.trails.Recent("a", 0); len(pts) != 0 {
		t.Fatalf("stale tick pushed %d points, first at radius %.1f", len(pts), pts[0].Position.Norm())
	}
	b, _ := f.reg.Get("a")
	if math.Abs(b.Position.Norm()-8178) > 1e-6 {
		t.Errorf("registry position radius = %v, want 8178", b.Position.Norm())
	}

	if _, _, err := f.sched.Tick(1); err != nil {
		t.Fatalf("tick: %v", err)
	}
	pts := f.trails.Recent("a", 0)
	if len(pts) != 1 {
		t.Fatalf("trail length = %d, want 1", len(pts))
	}
	for _, p := range pts {
		if math.Abs(p.Position.Norm()-8178) > 1e-6 {
			t.Errorf("trail point radius = %v, want 8178", p.Position.Norm())
		}
	}
}

func TestTickDuringUnregisterDoesNotResurrectTrail(t *testing.T) {
	g := newGatedModel()
	f := newFixture(t, g, "a", "b")
	f.sched.Start()

	done := tickAsync(f.sched)
	<-g.reached
	if err := f.reg.Unregister("a"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	f.trails.Forget("a")
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("tick: %v", err)
	}

	if pts := f.trails.Recent("a", 0); pts != nil {
		t.Errorf("trail of removed body came back with %d points", len(pts))
	}
	if pts := f.trails.Recent("b", 0); len(pts) != 1 {
		t.Errorf("untouched body has %d trail points, want 1", len(pts))
	}
}
