package conjunction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

var testEpoch = time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestAnalyzer(workers int) *Analyzer {
	p := orbit.DefaultParams()
	p.Epoch = testEpoch
	return NewAnalyzer(orbit.NewModel(p), Options{Epoch: testEpoch, Workers: workers}, testLogger())
}

func circular(id string, alt, phase, inc float64) orbit.Config {
	cfg := orbit.NewCircular(id, alt, "")
	cfg.Circular.PhaseDeg = phase
	cfg.Circular.InclinationDeg = inc
	return cfg
}

// TestIdenticalBodiesHighRisk analyzes a body against itself.
func TestIdenticalBodiesHighRisk(t *testing.T) {
	a := newTestAnalyzer(4)
	cfg := circular("sat", 500, 0, 0)
	twin := cfg.Clone()
	twin.ID = "twin"

	res, err := a.Analyze(context.Background(), Request{
		A: cfg, B: twin, DurationHours: 12, SampleCount: 1200, ThresholdKm: 10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0, res.MinDistanceKm, 1e-9)
	assert.Equal(t, RiskHigh, res.RiskLevel)
	assert.Len(t, res.SampledAt, 1200)
	assert.Len(t, res.SeparationsKm, 1200)
}

// TestSymmetry verifies analyze(A, B) == analyze(B, A) for the minimum
// distance and time of closest approach.
func TestSymmetry(t *testing.T) {
	a := newTestAnalyzer(3)
	pairs := [][2]orbit.Config{
		{circular("a", 500, 0, 0), circular("b", 520, 90, 45)},
		{circular("low", 300, 10, 97), circular("high", 1800, 200, 51.6)},
		{
			orbit.NewTwoBody("k1", orbit.KeplerianElements{SemiMajorAxisKm: 7000, Eccentricity: 0.01, InclinationDeg: 53}, ""),
			orbit.NewTwoBody("k2", orbit.KeplerianElements{SemiMajorAxisKm: 7010, InclinationDeg: 97, RAANDeg: 30, MeanAnomalyDeg: 5}, ""),
		},
	}
	for _, p := range pairs {
		req := Request{A: p[0], B: p[1], Start: 120, DurationHours: 6, SampleCount: 2000, ThresholdKm: 25}
		ab, err := a.Analyze(context.Background(), req)
		require.NoError(t, err)
		req.A, req.B = req.B, req.A
		ba, err := a.Analyze(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, ab.MinDistanceKm, ba.MinDistanceKm, "%s/%s", p[0].ID, p[1].ID)
		assert.True(t, ab.TimeOfClosestApproach.Equal(ba.TimeOfClosestApproach))
		assert.Equal(t, ab.RelativeVelocityKmS, ba.RelativeVelocityKmS)
	}
}

// TestWorkerCountDoesNotChangeResult checks parallel evaluation is
// deterministic.
func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	req := Request{
		A: circular("a", 700, 0, 20), B: circular("b", 710, 3, 25),
		DurationHours: 3, SampleCount: 5000, ThresholdKm: 10,
	}
	one, err := newTestAnalyzer(1).Analyze(context.Background(), req)
	require.NoError(t, err)
	many, err := newTestAnalyzer(8).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, one.SeparationsKm, many.SeparationsKm)
	assert.Equal(t, one.MinDistanceKm, many.MinDistanceKm)
}

func TestSampleSpacing(t *testing.T) {
	a := newTestAnalyzer(2)
	res, err := a.Analyze(context.Background(), Request{
		A: circular("a", 500, 0, 0), B: circular("b", 600, 0, 0),
		Start: 0, DurationHours: 1, SampleCount: 4, ThresholdKm: 10,
	})
	require.NoError(t, err)

	want := []time.Duration{0, 900, 1800, 2700}
	for i, s := range want {
		assert.True(t, res.SampledAt[i].Equal(testEpoch.Add(s*time.Second)), "sample %d = %v", i, res.SampledAt[i])
	}
	// Coplanar circles in phase differ by exactly the altitude gap at t=0.
	assert.InDelta(t, 100, res.SeparationsKm[0], 1e-6)
}

func TestRelativeVelocitySources(t *testing.T) {
	a := newTestAnalyzer(2)

	circ, err := a.Analyze(context.Background(), Request{
		A: circular("a", 500, 0, 0), B: circular("b", 500, 0, 90),
		DurationHours: 2, SampleCount: 720, ThresholdKm: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, VelocityFiniteDifference, circ.VelocitySource)
	// Crossing at the node: both move at r*omega, 90 degrees apart.
	rw := 6878 * 2 * math.Pi / (94.6 * 60)
	assert.InDelta(t, rw*math.Sqrt2, circ.RelativeVelocityKmS, 0.05)

	kep, err := a.Analyze(context.Background(), Request{
		A: orbit.NewTwoBody("k1", orbit.KeplerianElements{SemiMajorAxisKm: 7000}, ""),
		B: orbit.NewTwoBody("k2", orbit.KeplerianElements{SemiMajorAxisKm: 7000, InclinationDeg: 90}, ""),
		DurationHours: 2, SampleCount: 720, ThresholdKm: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, VelocityAnalytic, kep.VelocitySource)
	assert.InDelta(t, math.Sqrt(orbit.EarthMu/7000)*math.Sqrt2, kep.RelativeVelocityKmS, 1e-6)
}

func TestInvalidParameters(t *testing.T) {
	a := newTestAnalyzer(1)
	base := Request{A: circular("a", 500, 0, 0), B: circular("b", 600, 0, 0), DurationHours: 1, SampleCount: 10, ThresholdKm: 10}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"one sample", func(r *Request) { r.SampleCount = 1 }},
		{"zero samples", func(r *Request) { r.SampleCount = 0 }},
		{"zero duration", func(r *Request) { r.DurationHours = 0 }},
		{"negative duration", func(r *Request) { r.DurationHours = -2 }},
		{"nan duration", func(r *Request) { r.DurationHours = math.NaN() }},
		{"zero threshold", func(r *Request) { r.ThresholdKm = 0 }},
		{"too many samples", func(r *Request) { r.SampleCount = 10_000_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := a.Analyze(context.Background(), req)
			assert.True(t, errors.Is(err, simerr.ErrInvalidParameter), "got %v", err)
		})
	}

	req := base
	req.A = circular("a", -1, 0, 0)
	_, err := a.Analyze(context.Background(), req)
	assert.True(t, errors.Is(err, simerr.ErrConfiguration), "got %v", err)

	// Raw configs are not clamped behind the caller's back.
	req.A = circular("a", 35786, 0, 0)
	_, err = a.Analyze(context.Background(), req)
	assert.True(t, errors.Is(err, simerr.ErrConfiguration), "got %v", err)
}

func TestContextErrors(t *testing.T) {
	a := newTestAnalyzer(2)
	req := Request{A: circular("a", 500, 0, 0), B: circular("b", 600, 0, 0), DurationHours: 1, SampleCount: 100, ThresholdKm: 10}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := a.Analyze(ctx, req)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, simerr.ErrCancelled), "got %v", err)

	dctx, dcancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer dcancel()
	res, err = a.Analyze(dctx, req)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, simerr.ErrTimeout), "got %v", err)
}

func TestClassifyLadder(t *testing.T) {
	tests := []struct {
		dist, thr float64
		want      Risk
	}{
		{0, 10, RiskHigh},
		{5, 10, RiskHigh},
		{5.0001, 10, RiskModerate},
		{10, 10, RiskModerate},
		{10.0001, 10, RiskLow},
		{1000, 10, RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.dist, tt.thr), "Classify(%v, %v)", tt.dist, tt.thr)
	}
}

// TestThresholdMonotone verifies raising the threshold never lowers risk.
func TestThresholdMonotone(t *testing.T) {
	for _, dist := range []float64{0, 0.3, 2.5, 7, 12, 40, 999} {
		prev := -1
		for thr := 0.5; thr <= 200; thr *= 1.37 {
			rank := Classify(dist, thr).Rank()
			if rank < prev {
				t.Fatalf("risk dropped for dist=%v at threshold %v", dist, thr)
			}
			prev = rank
		}
	}
}
