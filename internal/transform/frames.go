package transform

import (
	"math"
	"time"

	"github.com/star/orbitlab/internal/orbit"
)

// ToFixed rotates an inertial position into the Earth-fixed frame at t.
func ToFixed(p orbit.Vec3, t time.Time) orbit.Vec3 {
	return ToFixedWithGMST(p, GMST(t))
}

// ToFixedWithGMST rotates by a precomputed GMST angle, useful when many
// bodies share one instant.
func ToFixedWithGMST(p orbit.Vec3, gmst float64) orbit.Vec3 {
	s, c := math.Sincos(gmst)
	return orbit.Vec3{
		X: p.X*c + p.Y*s,
		Y: -p.X*s + p.Y*c,
		Z: p.Z,
	}
}

// VelocityToFixed rotates an inertial velocity into the Earth-fixed frame
// and removes the frame rotation: v_fixed = R3(gmst) v - omega x r_fixed.
func VelocityToFixed(p, v orbit.Vec3, gmst float64) orbit.Vec3 {
	rf := ToFixedWithGMST(p, gmst)
	vr := ToFixedWithGMST(v, gmst)
	return orbit.Vec3{
		X: vr.X + OmegaEarth*rf.Y,
		Y: vr.Y - OmegaEarth*rf.X,
		Z: vr.Z,
	}
}

// Plausible reports whether an Earth-fixed position is finite and between
// 6200 km and 50000 km from the centre.
func Plausible(p orbit.Vec3) bool {
	if !p.IsFinite() {
		return false
	}
	r := p.Norm()
	return r >= 6200.0 && r <= 50000.0
}
