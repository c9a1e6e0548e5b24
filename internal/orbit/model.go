// Package orbit converts a body's orbital configuration into derived scalar
// parameters and a position as a function of simulated time.
//
// Three variants sit behind the Propagator capability: the simplified
// circular approximation, Keplerian two-body motion, and SGP4 for bodies
// described by a TLE. Positions are kilometres in a z-up inertial frame
// centred on the Earth. Simulated time is seconds since the session epoch and
// already includes the clock's speed multiplier.
package orbit

import (
	"math"
	"time"

	"github.com/star/orbitlab/internal/simerr"
)

// Derived holds the scalar parameters shown next to a body.
type Derived struct {
	VelocityKmS        float64 `json:"velocity_km_s" yaml:"velocity_km_s"`
	PeriodMin          float64 `json:"period_min" yaml:"period_min"`
	RadiusFromCenterKm float64 `json:"radius_from_center_km" yaml:"radius_from_center_km"`
}

// Propagator is the capability every variant implements. Implementations are
// pure: identical inputs give bit-identical outputs.
type Propagator interface {
	Derive(cfg Config) (Derived, error)
	PositionAt(cfg Config, d Derived, t float64) (Vec3, error)
}

// VelocityProvider is implemented by variants with an analytic velocity.
type VelocityProvider interface {
	VelocityAt(cfg Config, d Derived, t float64) (Vec3, error)
}

// Params are the physical constants and limits of the model.
type Params struct {
	EarthRadiusKm  float64   `json:"earth_radius_km" yaml:"earth_radius_km"`
	MinAltitudeKm  float64   `json:"min_altitude_km" yaml:"min_altitude_km"`
	MaxAltitudeKm  float64   `json:"max_altitude_km" yaml:"max_altitude_km"`
	RefAltitudeKm  float64   `json:"ref_altitude_km" yaml:"ref_altitude_km"`
	RefVelocityKmS float64   `json:"ref_velocity_km_s" yaml:"ref_velocity_km_s"`
	RefPeriodMin   float64   `json:"ref_period_min" yaml:"ref_period_min"`
	Epoch          time.Time `json:"-" yaml:"-"`
}

// DefaultParams returns the reference values: a 500 km orbit moves at
// 7.6 km/s with a 94.6 minute period over a 6378 km Earth.
func DefaultParams() Params {
	return Params{
		EarthRadiusKm:  6378,
		MinAltitudeKm:  200,
		MaxAltitudeKm:  2000,
		RefAltitudeKm:  500,
		RefVelocityKmS: 7.6,
		RefPeriodMin:   94.6,
	}
}

// Model dispatches to the variant selected by Config.Kind. Callers only see
// the Propagator interface.
type Model struct {
	params   Params
	circular Circular
	twoBody  TwoBody
	sgp4     *SGP4
}

// NewModel creates a model. A zero Epoch defaults to the Unix epoch so that
// results stay reproducible.
func NewModel(p Params) *Model {
	if p.Epoch.IsZero() {
		p.Epoch = time.Unix(0, 0).UTC()
	}
	return &Model{
		params:   p,
		circular: Circular{params: p},
		twoBody:  TwoBody{params: p},
		sgp4:     NewSGP4(p.Epoch),
	}
}

// Params returns the model constants.
func (m *Model) Params() Params {
	return m.params
}

func (m *Model) variant(kind Kind) (Propagator, bool) {
	switch kind {
	case KindCircular:
		return m.circular, true
	case KindTwoBody:
		return m.twoBody, true
	case KindTLE:
		return m.sgp4, true
	}
	return nil, false
}

// Normalize validates cfg and clamps values that have a sane range. The
// returned flag reports whether anything was clamped. A config that cannot
// be repaired returns a configuration error.
func (m *Model) Normalize(cfg Config) (Config, bool, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	out := cfg.Clone()
	clamped := false
	if out.Kind == KindCircular {
		alt := out.Circular.AltitudeKm
		if alt <= 0 {
			return Config{}, false, simerr.Configuration("normalize", cfg.ID, "altitude %.3f km must be positive", alt)
		}
		c := math.Min(math.Max(alt, m.params.MinAltitudeKm), m.params.MaxAltitudeKm)
		if c != alt {
			out.Circular.AltitudeKm = c
			clamped = true
		}
	}
	if _, err := m.Derive(out); err != nil {
		return Config{}, false, err
	}
	return out, clamped, nil
}

// Derive returns the derived parameters for cfg.
func (m *Model) Derive(cfg Config) (Derived, error) {
	p, ok := m.variant(cfg.Kind)
	if !ok {
		return Derived{}, simerr.Configuration("derive", cfg.ID, "unknown propagator kind %q", cfg.Kind)
	}
	return p.Derive(cfg)
}

// PositionAt returns the position of cfg at simulated time t.
func (m *Model) PositionAt(cfg Config, d Derived, t float64) (Vec3, error) {
	p, ok := m.variant(cfg.Kind)
	if !ok {
		return Vec3{}, simerr.Configuration("position", cfg.ID, "unknown propagator kind %q", cfg.Kind)
	}
	return p.PositionAt(cfg, d, t)
}

// VelocityAt returns the analytic velocity when the variant has one. ok is
// false for variants that only expose positions.
func (m *Model) VelocityAt(cfg Config, d Derived, t float64) (v Vec3, ok bool, err error) {
	p, known := m.variant(cfg.Kind)
	if !known {
		return Vec3{}, false, simerr.Configuration("velocity", cfg.ID, "unknown propagator kind %q", cfg.Kind)
	}
	vp, ok := p.(VelocityProvider)
	if !ok {
		return Vec3{}, false, nil
	}
	v, err = vp.VelocityAt(cfg, d, t)
	return v, err == nil, err
}
