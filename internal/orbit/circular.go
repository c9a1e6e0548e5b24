package orbit

import (
	"math"

	"github.com/star/orbitlab/internal/simerr"
)

// Circular is the simplified model: velocity and period scale from a
// reference orbit and the body moves at constant angular rate.
type Circular struct {
	params Params
}

// NewCircularModel returns the circular variant on its own.
func NewCircularModel(p Params) Circular {
	return Circular{params: p}
}

// Derive rejects altitudes outside the model range. Model.Normalize clamps
// them first for callers that accept a repaired configuration.
func (c Circular) Derive(cfg Config) (Derived, error) {
	if cfg.Circular == nil {
		return Derived{}, simerr.Configuration("derive", cfg.ID, "missing circular elements")
	}
	alt := cfg.Circular.AltitudeKm
	if !(alt > 0) || math.IsInf(alt, 0) {
		return Derived{}, simerr.Configuration("derive", cfg.ID, "altitude %v km must be positive", alt)
	}
	p := c.params
	if alt < p.MinAltitudeKm || alt > p.MaxAltitudeKm {
		return Derived{}, simerr.Configuration("derive", cfg.ID,
			"altitude %v km outside model range [%v, %v]", alt, p.MinAltitudeKm, p.MaxAltitudeKm)
	}

	return Derived{
		VelocityKmS:        p.RefVelocityKmS * (p.RefAltitudeKm / alt),
		PeriodMin:          p.RefPeriodMin * math.Pow(alt/p.RefAltitudeKm, 1.5),
		RadiusFromCenterKm: p.EarthRadiusKm + alt,
	}, nil
}

func (c Circular) PositionAt(cfg Config, d Derived, t float64) (Vec3, error) {
	if cfg.Circular == nil {
		return Vec3{}, simerr.Configuration("position", cfg.ID, "missing circular elements")
	}
	if !(d.PeriodMin > 0) {
		return Vec3{}, simerr.Configuration("position", cfg.ID, "period %v min must be positive", d.PeriodMin)
	}
	rate := 2 * math.Pi / (d.PeriodMin * 60)
	theta := rate*t + deg2rad(cfg.Circular.PhaseDeg)
	inc := deg2rad(cfg.Circular.InclinationDeg)

	r := d.RadiusFromCenterKm
	sinT, cosT := math.Sincos(theta)
	return Vec3{
		X: r * cosT,
		Y: r * sinT * math.Cos(inc),
		Z: r * sinT * math.Sin(inc),
	}, nil
}
