// Package registry owns every tracked body of a session.
//
// Writers are serialized by a mutex and publish a fresh immutable Snapshot
// through an atomic pointer. Readers such as a scheduler tick or an analysis
// run load one snapshot and see a consistent set of configurations for the
// whole operation, never a half-applied update.
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

// Model is the part of the orbital model the registry needs.
type Model interface {
	orbit.Propagator
	Normalize(cfg orbit.Config) (orbit.Config, bool, error)
}

// TimeSource reports the current simulated time.
type TimeSource interface {
	Now() float64
}

// Body is one tracked body. Values handed out by the registry are copies.
type Body struct {
	Config       orbit.Config  `json:"config" yaml:"config"`
	Derived      orbit.Derived `json:"derived" yaml:"derived"`
	Position     orbit.Vec3    `json:"position" yaml:"position"`
	PositionTime float64       `json:"position_time" yaml:"position_time"`
	Selected     bool          `json:"selected" yaml:"selected"`
	Version      uint64        `json:"version" yaml:"version"`
	LastError    string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// PositionUpdate is one result of a scheduler tick.
type PositionUpdate struct {
	ID       string
	Version  uint64
	Position orbit.Vec3
	Time     float64
	Err      error
}

// Registry maps body ids to bodies.
type Registry struct {
	model  Model
	clock  TimeSource
	logger *slog.Logger

	snap    atomic.Pointer[Snapshot]
	mu      sync.Mutex // single writer
	version uint64
	bodySeq uint64 // last Body.Version handed out
}

// New creates an empty registry.
func New(model Model, clock TimeSource, logger *slog.Logger) *Registry {
	r := &Registry{model: model, clock: clock, logger: logger}
	r.snap.Store(&Snapshot{bodies: map[string]Body{}})
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Get returns a copy of one body.
func (r *Registry) Get(id string) (Body, error) {
	b, ok := r.snap.Load().Get(id)
	if !ok {
		return Body{}, simerr.NotFound("get", id)
	}
	return b, nil
}

// Register adds a body, derives its parameters and evaluates its position at
// the current simulated time. New bodies start selected.
func (r *Registry) Register(cfg orbit.Config) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, exists := cur.bodies[cfg.ID]; exists {
		return "", simerr.DuplicateID("register", cfg.ID)
	}

	body, err := r.build(cfg, "register")
	if err != nil {
		return "", err
	}
	body.Selected = true
	body.Version = r.nextBodyVersion()

	next := cur.clone()
	next.bodies[body.Config.ID] = body
	next.order = append(next.order, body.Config.ID)
	r.publish(next)

	r.logger.Info("body registered",
		"body_id", body.Config.ID,
		"kind", string(body.Config.Kind),
		"period_min", body.Derived.PeriodMin,
	)
	return body.Config.ID, nil
}

// Unregister removes a body.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, ok := cur.bodies[id]; !ok {
		return simerr.NotFound("unregister", id)
	}
	next := cur.clone()
	delete(next.bodies, id)
	order := next.order[:0:0]
	for _, o := range next.order {
		if o != id {
			order = append(order, o)
		}
	}
	next.order = order
	r.publish(next)

	r.logger.Info("body unregistered", "body_id", id)
	return nil
}

// UpdateConfig replaces a body's configuration. Parameters are re-derived
// and the position recomputed at the current simulated time. On error the
// previous configuration is kept. An empty cfg.ID means id.
func (r *Registry) UpdateConfig(id string, cfg orbit.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	old, ok := cur.bodies[id]
	if !ok {
		return simerr.NotFound("update", id)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.ID != id {
		return simerr.Configuration("update", id, "config id %q does not match body id", cfg.ID)
	}

	body, err := r.build(cfg, "update")
	if err != nil {
		return err
	}
	body.Selected = old.Selected
	body.Version = r.nextBodyVersion()

	next := cur.clone()
	next.bodies[id] = body
	r.publish(next)

	r.logger.Info("body updated", "body_id", id, "version", body.Version)
	return nil
}

// Select marks exactly ids as the visualized subset. Unknown ids fail the
// whole call without changing anything.
func (r *Registry) Select(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := cur.bodies[id]; !ok {
			return simerr.NotFound("select", id)
		}
		want[id] = true
	}

	next := cur.clone()
	for id, b := range next.bodies {
		b.Selected = want[id]
		next.bodies[id] = b
	}
	r.publish(next)
	return nil
}

// CommitPositions stores tick results. Updates for bodies that were removed
// or reconfigured since the tick read its snapshot are dropped. applied, if
// not nil, is called for each stored update while the registry lock is
// held, so it is ordered against Unregister and UpdateConfig. Returns the
// number of bodies updated.
func (r *Registry) CommitPositions(updates []PositionUpdate, applied func(PositionUpdate)) int {
	if len(updates) == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := cur.clone()
	n := 0
	for _, u := range updates {
		b, ok := next.bodies[u.ID]
		if !ok || b.Version != u.Version {
			continue
		}
		if u.Err != nil {
			b.LastError = u.Err.Error()
		} else {
			b.Position = u.Position
			b.PositionTime = u.Time
			b.LastError = ""
		}
		next.bodies[u.ID] = b
		n++
		if applied != nil {
			applied(u)
		}
	}
	if n > 0 {
		r.publish(next)
	}
	return n
}

// Recompute evaluates every body at simulated time t, used after a reset.
func (r *Registry) Recompute(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Load().clone()
	for id, b := range next.bodies {
		pos, err := r.model.PositionAt(b.Config, b.Derived, t)
		if err != nil {
			b.LastError = err.Error()
		} else {
			b.Position, b.PositionTime, b.LastError = pos, t, ""
		}
		next.bodies[id] = b
	}
	r.publish(next)
}

// build normalizes, derives and positions cfg. Called with mu held.
func (r *Registry) build(cfg orbit.Config, op string) (Body, error) {
	norm, clamped, err := r.model.Normalize(cfg)
	if err != nil {
		return Body{}, err
	}
	if clamped {
		r.logger.Warn("altitude clamped to model range",
			"op", op,
			"body_id", cfg.ID,
			"requested_km", cfg.Circular.AltitudeKm,
			"applied_km", norm.Circular.AltitudeKm,
		)
	}
	d, err := r.model.Derive(norm)
	if err != nil {
		return Body{}, err
	}
	t := r.clock.Now()
	pos, err := r.model.PositionAt(norm, d, t)
	if err != nil {
		return Body{}, err
	}
	return Body{Config: norm, Derived: d, Position: pos, PositionTime: t}, nil
}

// nextBodyVersion is unique across the registry lifetime, so a body that is
// removed and registered again never matches a stale update. Called with mu
// held.
func (r *Registry) nextBodyVersion() uint64 {
	r.bodySeq++
	return r.bodySeq
}

func (r *Registry) publish(next *Snapshot) {
	r.version++
	next.version = r.version
	r.snap.Store(next)
	metrics.SetBodiesRegistered(len(next.bodies))
}
