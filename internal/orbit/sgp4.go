package orbit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/orbitlab/internal/simerr"
)

// SGP4 propagates TLE-described bodies with github.com/joshuaferrara/go-satellite.
//
// Simulated time t maps to the wall instant epoch+t. The library takes whole
// seconds, so the fractional part is carried forward along the analytic
// velocity. go-satellite calls log.Fatal on malformed lines, so every TLE is
// checked before it reaches the library.
type SGP4 struct {
	epoch time.Time

	mu   sync.RWMutex
	sats map[string]*satellite.Satellite
}

// NewSGP4 creates the variant anchored at epoch, truncated to whole seconds.
func NewSGP4(epoch time.Time) *SGP4 {
	return &SGP4{
		epoch: epoch.UTC().Truncate(time.Second),
		sats:  make(map[string]*satellite.Satellite),
	}
}

// ValidateTLELines checks the layout and checksums of both lines and parses
// every field go-satellite reads, using the same slices and whitespace
// handling, so a line that passes here cannot make the library exit.
func ValidateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if !strings.HasPrefix(line1, "1 ") {
		return fmt.Errorf("line1 must start with '1 ', got %q", line1[:2])
	}
	if !strings.HasPrefix(line2, "2 ") {
		return fmt.Errorf("line2 must start with '2 ', got %q", line2[:2])
	}
	if line1[2:7] != line2[2:7] {
		return fmt.Errorf("catalog numbers differ: %q vs %q", line1[2:7], line2[2:7])
	}
	for i, line := range [2]string{line1, line2} {
		if err := verifyChecksum(line); err != nil {
			return fmt.Errorf("line%d: %w", i+1, err)
		}
	}

	squeeze := func(s string) string { return strings.Replace(s, " ", "", 2) }
	ints := []tleField{
		{"catalog number", strings.TrimSpace(line1[2:7])},
		{"epoch year", line1[18:20]},
	}
	floats := []tleField{
		{"epoch day", line1[20:32]},
		{"mean motion first derivative", squeeze(line1[33:43])},
		{"mean motion second derivative", squeeze(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52])},
		{"bstar", squeeze(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61])},
		{"inclination", squeeze(line2[8:16])},
		{"right ascension", squeeze(line2[17:25])},
		{"eccentricity", "." + line2[26:33]},
		{"argument of perigee", squeeze(line2[34:42])},
		{"mean anomaly", squeeze(line2[43:51])},
		{"mean motion", squeeze(line2[52:63])},
	}
	for _, f := range ints {
		if _, err := strconv.ParseInt(f.text, 10, 0); err != nil {
			return fmt.Errorf("invalid %s %q", f.name, f.text)
		}
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(f.text, 64)
		if err != nil || !finite(v) {
			return fmt.Errorf("invalid %s %q", f.name, f.text)
		}
	}
	for _, f := range []tleField{{"element set number", line1[64:68]}, {"revolution number", line2[63:68]}} {
		if n := strings.TrimSpace(f.text); n != "" {
			if _, err := strconv.Atoi(n); err != nil {
				return fmt.Errorf("invalid %s %q", f.name, f.text)
			}
		}
	}
	return nil
}

type tleField struct {
	name, text string
}

// verifyChecksum checks column 69: the sum of all digits in the first 68
// columns, with each '-' counting as one, modulo 10.
func verifyChecksum(line string) error {
	sum := 0
	for _, c := range line[:68] {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	want := byte('0' + sum%10)
	if line[68] != want {
		return fmt.Errorf("checksum %q, expected %q", line[68], want)
	}
	return nil
}

// MeanMotion returns revolutions per day and eccentricity from line 2.
func MeanMotion(line2 string) (revPerDay, ecc float64, err error) {
	line2 = strings.TrimSpace(line2)
	if len(line2) < 63 {
		return 0, 0, fmt.Errorf("line2 too short for mean motion")
	}
	revPerDay, err = strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid mean motion: %w", err)
	}
	ecc, err = strconv.ParseFloat("0."+strings.TrimSpace(line2[26:33]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid eccentricity: %w", err)
	}
	return revPerDay, ecc, nil
}

func (s *SGP4) elements(cfg Config, op string) (*TLEElements, error) {
	el := cfg.TLE
	if el == nil {
		return nil, simerr.Configuration(op, cfg.ID, "missing tle elements")
	}
	if err := ValidateTLELines(el.Line1, el.Line2); err != nil {
		return nil, simerr.Configuration(op, cfg.ID, "invalid TLE: %v", err)
	}
	return el, nil
}

// Derive uses the line 2 mean motion: a = (mu / n^2)^(1/3).
func (s *SGP4) Derive(cfg Config) (Derived, error) {
	el, err := s.elements(cfg, "derive")
	if err != nil {
		return Derived{}, err
	}
	revPerDay, _, err := MeanMotion(el.Line2)
	if err != nil {
		return Derived{}, simerr.Configuration("derive", cfg.ID, "%v", err)
	}
	if !(revPerDay > 0) {
		return Derived{}, simerr.Configuration("derive", cfg.ID, "mean motion %v must be positive", revPerDay)
	}
	n := revPerDay * twoPi / 86400.0
	a := math.Cbrt(EarthMu / (n * n))
	return Derived{
		VelocityKmS:        math.Sqrt(EarthMu / a),
		PeriodMin:          1440.0 / revPerDay,
		RadiusFromCenterKm: a,
	}, nil
}

func (s *SGP4) PositionAt(cfg Config, _ Derived, t float64) (Vec3, error) {
	pos, _, err := s.state(cfg, t, "position")
	return pos, err
}

func (s *SGP4) VelocityAt(cfg Config, _ Derived, t float64) (Vec3, error) {
	_, vel, err := s.state(cfg, t, "velocity")
	return vel, err
}

func (s *SGP4) state(cfg Config, t float64, op string) (Vec3, Vec3, error) {
	el, err := s.elements(cfg, op)
	if err != nil {
		return Vec3{}, Vec3{}, err
	}
	if !finite(t) {
		return Vec3{}, Vec3{}, simerr.InvalidParameter(op, "simulated time %v is not finite", t)
	}
	sat, err := s.satellite(cfg.ID, el)
	if err != nil {
		return Vec3{}, Vec3{}, err
	}

	whole := math.Floor(t)
	frac := t - whole
	at := s.epoch.Add(time.Duration(whole) * time.Second)

	p, v := satellite.Propagate(*sat, at.Year(), int(at.Month()), at.Day(), at.Hour(), at.Minute(), at.Second())
	pos := Vec3{X: p.X, Y: p.Y, Z: p.Z}
	vel := Vec3{X: v.X, Y: v.Y, Z: v.Z}

	// Propagate takes the satellite by value, so failures only show in the output.
	if !pos.IsFinite() || !vel.IsFinite() {
		return Vec3{}, Vec3{}, fmt.Errorf("sgp4 %s: output is NaN/Inf at %s", cfg.ID, at.Format(time.RFC3339))
	}
	if mag := pos.Norm(); mag < 6200.0 || mag > 50000.0 {
		return Vec3{}, Vec3{}, fmt.Errorf("sgp4 %s: unreasonable position magnitude %.1f km", cfg.ID, mag)
	}
	return pos.Add(vel.Scale(frac)), vel, nil
}

// satellite returns the initialised record for el, building it once.
func (s *SGP4) satellite(id string, el *TLEElements) (*satellite.Satellite, error) {
	key := strings.TrimSpace(el.Line1) + "\n" + strings.TrimSpace(el.Line2)

	s.mu.RLock()
	sat, ok := s.sats[key]
	s.mu.RUnlock()
	if ok {
		return sat, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sat, ok := s.sats[key]; ok {
		return sat, nil
	}
	rec := satellite.TLEToSat(strings.TrimSpace(el.Line1), strings.TrimSpace(el.Line2), satellite.GravityWGS84)
	if rec.Error != 0 {
		return nil, simerr.Configuration("sgp4", id, "init failed: code=%d %s", rec.Error, rec.ErrorStr)
	}
	s.sats[key] = &rec
	return &rec, nil
}
