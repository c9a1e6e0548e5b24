package session

import (
	"time"

	"github.com/star/orbitlab/internal/clock"
	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/trail"
	"github.com/star/orbitlab/internal/transform"
)

// Snapshot is a serializable view of the whole session.
type Snapshot struct {
	SessionID   string               `json:"session_id" yaml:"session_id"`
	Epoch       time.Time            `json:"epoch" yaml:"epoch"`
	TakenAt     time.Time            `json:"taken_at" yaml:"taken_at"`
	Clock       clock.State          `json:"clock" yaml:"clock"`
	State       scheduler.State      `json:"state" yaml:"state"`
	TrailLength int                  `json:"trail_length" yaml:"trail_length"`
	Bodies      []BodySnapshot       `json:"bodies" yaml:"bodies"`
	Analysis    *conjunction.Outcome `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// BodySnapshot is one body with its sub-point and trail.
type BodySnapshot struct {
	Config       orbit.Config       `json:"config" yaml:"config"`
	Derived      orbit.Derived      `json:"derived" yaml:"derived"`
	Position     orbit.Vec3         `json:"position" yaml:"position"`
	PositionTime float64            `json:"position_time" yaml:"position_time"`
	SubPoint     transform.Geodetic `json:"sub_point" yaml:"sub_point"`
	Selected     bool               `json:"selected" yaml:"selected"`
	LastError    string             `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Trail        []trail.Point      `json:"trail" yaml:"trail"`
}

// Snapshot captures the session. Bodies come from a single registry
// snapshot, so they are mutually consistent.
func (s *Session) Snapshot() Snapshot {
	reg := s.registry.Snapshot()
	bodies := reg.All()

	out := Snapshot{
		SessionID:   s.opts.ID,
		Epoch:       s.opts.Epoch,
		TakenAt:     time.Now().UTC(),
		Clock:       s.clock.State(),
		State:       s.sched.State(),
		TrailLength: s.trails.Length(),
		Bodies:      make([]BodySnapshot, 0, len(bodies)),
	}
	for _, b := range bodies {
		fixed := transform.ToFixed(b.Position, s.WallTime(b.PositionTime))
		out.Bodies = append(out.Bodies, BodySnapshot{
			Config:       b.Config,
			Derived:      b.Derived,
			Position:     b.Position,
			PositionTime: b.PositionTime,
			SubPoint:     transform.FixedToGeodetic(fixed),
			Selected:     b.Selected,
			LastError:    b.LastError,
			Trail:        s.trails.Recent(b.Config.ID, 0),
		})
	}
	if o, ok := s.runner.Latest(); ok {
		out.Analysis = &o
	}
	return out
}
