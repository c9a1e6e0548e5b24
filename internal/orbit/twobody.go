package orbit

import (
	"math"

	"github.com/star/orbitlab/internal/simerr"
)

// EarthMu is the standard gravitational parameter of the Earth in km^3/s^2.
const EarthMu = 398600.4418

const twoPi = 2 * math.Pi

// TwoBody propagates Keplerian elements analytically. The mean anomaly in the
// config is the value at simulated time zero.
type TwoBody struct {
	params Params
}

func (k TwoBody) check(cfg Config, op string) (*KeplerianElements, error) {
	el := cfg.TwoBody
	if el == nil {
		return nil, simerr.Configuration(op, cfg.ID, "missing two_body elements")
	}
	for _, v := range []float64{el.SemiMajorAxisKm, el.Eccentricity, el.InclinationDeg, el.RAANDeg, el.ArgPerigeeDeg, el.MeanAnomalyDeg} {
		if !finite(v) {
			return nil, simerr.Configuration(op, cfg.ID, "two_body elements must be finite")
		}
	}
	if el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return nil, simerr.Configuration(op, cfg.ID, "eccentricity %v outside [0, 1)", el.Eccentricity)
	}
	if perigee := el.SemiMajorAxisKm * (1 - el.Eccentricity); perigee <= k.params.EarthRadiusKm {
		return nil, simerr.Configuration(op, cfg.ID, "perigee radius %.1f km is inside the Earth", perigee)
	}
	return el, nil
}

func (k TwoBody) Derive(cfg Config) (Derived, error) {
	el, err := k.check(cfg, "derive")
	if err != nil {
		return Derived{}, err
	}
	a := el.SemiMajorAxisKm
	return Derived{
		VelocityKmS:        math.Sqrt(EarthMu / a),
		PeriodMin:          twoPi * math.Sqrt(a*a*a/EarthMu) / 60,
		RadiusFromCenterKm: a,
	}, nil
}

func (k TwoBody) PositionAt(cfg Config, _ Derived, t float64) (Vec3, error) {
	el, err := k.check(cfg, "position")
	if err != nil {
		return Vec3{}, err
	}
	pos, _ := keplerState(el, t)
	return pos, nil
}

func (k TwoBody) VelocityAt(cfg Config, _ Derived, t float64) (Vec3, error) {
	el, err := k.check(cfg, "velocity")
	if err != nil {
		return Vec3{}, err
	}
	_, vel := keplerState(el, t)
	return vel, nil
}

// keplerState returns inertial position and velocity t seconds after the
// element epoch.
func keplerState(el *KeplerianElements, t float64) (Vec3, Vec3) {
	a, e := el.SemiMajorAxisKm, el.Eccentricity
	n := math.Sqrt(EarthMu / (a * a * a))
	M := deg2rad(el.MeanAnomalyDeg) + n*t

	E := eccentricAnomaly(M, e)
	sinE, cosE := math.Sincos(E)
	nu := math.Atan2(math.Sqrt(1-e*e)*sinE, cosE-e)
	r := a * (1 - e*cosE)

	sinNu, cosNu := math.Sincos(nu)
	p := a * (1 - e*e)
	h := math.Sqrt(EarthMu * p)

	// Perifocal frame.
	px, py := r*cosNu, r*sinNu
	vx, vy := -EarthMu/h*sinNu, EarthMu/h*(e+cosNu)

	sinO, cosO := math.Sincos(deg2rad(el.RAANDeg))
	sinI, cosI := math.Sincos(deg2rad(el.InclinationDeg))
	sinW, cosW := math.Sincos(deg2rad(el.ArgPerigeeDeg))

	r11 := cosO*cosW - sinO*sinW*cosI
	r12 := -cosO*sinW - sinO*cosW*cosI
	r21 := sinO*cosW + cosO*sinW*cosI
	r22 := -sinO*sinW + cosO*cosW*cosI
	r31 := sinW * sinI
	r32 := cosW * sinI

	pos := Vec3{X: r11*px + r12*py, Y: r21*px + r22*py, Z: r31*px + r32*py}
	vel := Vec3{X: r11*vx + r12*vy, Y: r21*vx + r22*vy, Z: r31*vx + r32*vy}
	return pos, vel
}

// eccentricAnomaly solves Kepler's equation by Newton-Raphson.
func eccentricAnomaly(meanAnomaly, e float64) float64 {
	M := normalizeAngle(meanAnomaly)
	if e == 0 {
		return M
	}
	E := M
	if e >= 0.8 {
		if M < math.Pi {
			E = M + e/2
		} else {
			E = M - e/2
		}
	}
	for i := 0; i < 50; i++ {
		delta := (E - e*math.Sin(E) - M) / (1 - e*math.Cos(E))
		E -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return E
}

func normalizeAngle(angle float64) float64 {
	w := math.Mod(angle, twoPi)
	if w < 0 {
		w += twoPi
	}
	return w
}
