package orbit

import (
	"math"

	"github.com/star/orbitlab/internal/simerr"
)

// Kind selects the propagator variant for a body.
type Kind string

const (
	KindCircular Kind = "circular"
	KindTwoBody  Kind = "two_body"
	KindTLE      Kind = "tle"
)

// CircularElements describes the simplified circular orbit. Inclination and
// phase are optional and default to an equatorial orbit starting on +X.
type CircularElements struct {
	AltitudeKm     float64 `json:"altitude_km" yaml:"altitude_km"`
	InclinationDeg float64 `json:"inclination_deg,omitempty" yaml:"inclination_deg,omitempty"`
	PhaseDeg       float64 `json:"phase_deg,omitempty" yaml:"phase_deg,omitempty"`
}

// KeplerianElements are classical elements referenced to simulated time zero.
type KeplerianElements struct {
	SemiMajorAxisKm float64 `json:"semi_major_axis_km" yaml:"semi_major_axis_km"`
	Eccentricity    float64 `json:"eccentricity" yaml:"eccentricity"`
	InclinationDeg  float64 `json:"inclination_deg" yaml:"inclination_deg"`
	RAANDeg         float64 `json:"raan_deg" yaml:"raan_deg"`
	ArgPerigeeDeg   float64 `json:"arg_perigee_deg" yaml:"arg_perigee_deg"`
	MeanAnomalyDeg  float64 `json:"mean_anomaly_deg" yaml:"mean_anomaly_deg"`
}

// TLEElements holds a NORAD two-line element set.
type TLEElements struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Line1 string `json:"line1" yaml:"line1"`
	Line2 string `json:"line2" yaml:"line2"`
}

// Config is the orbital configuration of one tracked body. Exactly one of the
// element blocks is set, matching Kind.
type Config struct {
	ID       string             `json:"id" yaml:"id"`
	ColorTag string             `json:"color,omitempty" yaml:"color,omitempty"`
	Kind     Kind               `json:"kind" yaml:"kind"`
	Circular *CircularElements  `json:"circular,omitempty" yaml:"circular,omitempty"`
	TwoBody  *KeplerianElements `json:"two_body,omitempty" yaml:"two_body,omitempty"`
	TLE      *TLEElements       `json:"tle,omitempty" yaml:"tle,omitempty"`
}

// NewCircular returns a circular-orbit config.
func NewCircular(id string, altitudeKm float64, color string) Config {
	return Config{
		ID:       id,
		ColorTag: color,
		Kind:     KindCircular,
		Circular: &CircularElements{AltitudeKm: altitudeKm},
	}
}

// NewTwoBody returns a Keplerian config.
func NewTwoBody(id string, el KeplerianElements, color string) Config {
	return Config{ID: id, ColorTag: color, Kind: KindTwoBody, TwoBody: &el}
}

// NewTLE returns a TLE-based config.
func NewTLE(id, name, line1, line2, color string) Config {
	return Config{
		ID:       id,
		ColorTag: color,
		Kind:     KindTLE,
		TLE:      &TLEElements{Name: name, Line1: line1, Line2: line2},
	}
}

// Clone returns a deep copy so stored configs never share element blocks
// with the caller.
func (c Config) Clone() Config {
	out := c
	if c.Circular != nil {
		el := *c.Circular
		out.Circular = &el
	}
	if c.TwoBody != nil {
		el := *c.TwoBody
		out.TwoBody = &el
	}
	if c.TLE != nil {
		el := *c.TLE
		out.TLE = &el
	}
	return out
}

// Validate checks the structural shape of the config: a non-empty id, a
// known kind and exactly the matching element block.
func (c Config) Validate() error {
	const op = "validate"
	if c.ID == "" {
		return simerr.Configuration(op, "", "body id must not be empty")
	}
	blocks := 0
	for _, set := range []bool{c.Circular != nil, c.TwoBody != nil, c.TLE != nil} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return simerr.Configuration(op, c.ID, "exactly one element block must be set, got %d", blocks)
	}
	switch c.Kind {
	case KindCircular:
		if c.Circular == nil {
			return simerr.Configuration(op, c.ID, "kind %q requires circular elements", c.Kind)
		}
		if !finite(c.Circular.AltitudeKm) || !finite(c.Circular.InclinationDeg) || !finite(c.Circular.PhaseDeg) {
			return simerr.Configuration(op, c.ID, "circular elements must be finite")
		}
	case KindTwoBody:
		if c.TwoBody == nil {
			return simerr.Configuration(op, c.ID, "kind %q requires two_body elements", c.Kind)
		}
	case KindTLE:
		if c.TLE == nil {
			return simerr.Configuration(op, c.ID, "kind %q requires tle elements", c.Kind)
		}
	default:
		return simerr.Configuration(op, c.ID, "unknown propagator kind %q", c.Kind)
	}
	return nil
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180.0
}
