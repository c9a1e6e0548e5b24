package config

import (
	"sort"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

// Preset is a named body from the built-in catalog.
type Preset struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Config      orbit.Config `json:"config" yaml:"config"`
}

var presets = map[string]Preset{
	"iss": {
		Name:        "iss",
		Description: "International Space Station",
		Config: orbit.Config{
			ID: "iss", ColorTag: "cyan", Kind: orbit.KindCircular,
			Circular: &orbit.CircularElements{AltitudeKm: 420, InclinationDeg: 51.6},
		},
	},
	"hubble": {
		Name:        "hubble",
		Description: "Hubble Space Telescope",
		Config: orbit.Config{
			ID: "hubble", ColorTag: "magenta", Kind: orbit.KindCircular,
			Circular: &orbit.CircularElements{AltitudeKm: 540, InclinationDeg: 28.5, PhaseDeg: 120},
		},
	},
	"tiangong": {
		Name:        "tiangong",
		Description: "Tiangong Space Station",
		Config: orbit.Config{
			ID: "tiangong", ColorTag: "red", Kind: orbit.KindCircular,
			Circular: &orbit.CircularElements{AltitudeKm: 390, InclinationDeg: 41.5, PhaseDeg: 240},
		},
	},
	// Medium Earth orbit is above the circular clamp, so GPS uses Keplerian elements.
	"gps-iif": {
		Name:        "gps-iif",
		Description: "GPS IIF-12",
		Config: orbit.NewTwoBody("gps-iif", orbit.KeplerianElements{
			SemiMajorAxisKm: 26560,
			Eccentricity:    0.01,
			InclinationDeg:  55,
			RAANDeg:         60,
		}, "yellow"),
	},
}

// Presets lists the built-in bodies sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		p.Config = p.Config.Clone()
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BodyFromPreset returns a copy of a preset's config. A non-empty id
// replaces the preset's default id.
func BodyFromPreset(name, id string) (orbit.Config, error) {
	p, ok := presets[name]
	if !ok {
		return orbit.Config{}, simerr.NotFound("config.BodyFromPreset", name)
	}
	cfg := p.Config.Clone()
	if id != "" {
		cfg.ID = id
	}
	return cfg, nil
}

// Resolve turns a startup spec into a body config.
func (b BodySpec) Resolve() (orbit.Config, error) {
	if b.Preset == "" {
		return b.Config.Clone(), nil
	}
	cfg, err := BodyFromPreset(b.Preset, b.ID)
	if err != nil {
		return orbit.Config{}, err
	}
	if b.ColorTag != "" {
		cfg.ColorTag = b.ColorTag
	}
	return cfg, nil
}
