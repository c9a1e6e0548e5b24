// Package conjunction samples two trajectories over a time window and
// reports their closest approach and a risk classification.
package conjunction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

// Model is the orbital model used by the analyzer. VelocityAt reports ok=false
// for variants without an analytic velocity.
type Model interface {
	orbit.Propagator
	VelocityAt(cfg orbit.Config, d orbit.Derived, t float64) (orbit.Vec3, bool, error)
}

// Velocity sources.
const (
	VelocityAnalytic         = "analytic"
	VelocityFiniteDifference = "finite_difference"
)

// Request describes one analysis. Start is in simulated seconds.
type Request struct {
	A             orbit.Config `json:"a" yaml:"a"`
	B             orbit.Config `json:"b" yaml:"b"`
	Start         float64      `json:"start" yaml:"start"`
	DurationHours float64      `json:"duration_hours" yaml:"duration_hours"`
	SampleCount   int          `json:"sample_count" yaml:"sample_count"`
	ThresholdKm   float64      `json:"threshold_km" yaml:"threshold_km"`
}

// Result is an immutable analysis outcome.
type Result struct {
	BodyA                 string      `json:"body_a" yaml:"body_a"`
	BodyB                 string      `json:"body_b" yaml:"body_b"`
	MinDistanceKm         float64     `json:"min_distance_km" yaml:"min_distance_km"`
	TimeOfClosestApproach time.Time   `json:"time_of_closest_approach" yaml:"time_of_closest_approach"`
	TCASimulatedTime      float64     `json:"tca_simulated_time" yaml:"tca_simulated_time"`
	RelativeVelocityKmS   float64     `json:"relative_velocity_km_s" yaml:"relative_velocity_km_s"`
	VelocitySource        string      `json:"velocity_source" yaml:"velocity_source"`
	RiskLevel             Risk        `json:"risk_level" yaml:"risk_level"`
	ThresholdKm           float64     `json:"threshold_km" yaml:"threshold_km"`
	SampledAt             []time.Time `json:"sampled_at" yaml:"sampled_at"`
	SeparationsKm         []float64   `json:"separations_km" yaml:"separations_km"`
}

// Options configure an Analyzer.
type Options struct {
	Epoch      time.Time // wall time of simulated t=0
	Workers    int       // sample evaluation goroutines, default NumCPU
	MaxSamples int       // upper bound on SampleCount, default 500000
}

// Analyzer runs conjunction analyses. It holds no per-run state and is safe
// for concurrent use.
type Analyzer struct {
	model      Model
	epoch      time.Time
	pool       *samplePool
	maxSamples int
	logger     *slog.Logger
}

// NewAnalyzer creates an analyzer over model.
func NewAnalyzer(model Model, opts Options, logger *slog.Logger) *Analyzer {
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxSamples < 2 {
		opts.MaxSamples = 500000
	}
	return &Analyzer{
		model:      model,
		epoch:      opts.Epoch,
		pool:       newSamplePool(opts.Workers),
		maxSamples: opts.MaxSamples,
		logger:     logger,
	}
}

// Validate checks the numeric inputs of req.
func (a *Analyzer) Validate(req Request) error {
	const op = "analyze"
	switch {
	case req.SampleCount < 2:
		return simerr.InvalidParameter(op, "sample count %d must be at least 2", req.SampleCount)
	case req.SampleCount > a.maxSamples:
		return simerr.InvalidParameter(op, "sample count %d exceeds limit %d", req.SampleCount, a.maxSamples)
	case !(req.DurationHours > 0) || math.IsInf(req.DurationHours, 0):
		return simerr.InvalidParameter(op, "duration %v hours must be positive", req.DurationHours)
	case !(req.ThresholdKm > 0) || math.IsInf(req.ThresholdKm, 0):
		return simerr.InvalidParameter(op, "threshold %v km must be positive", req.ThresholdKm)
	case math.IsNaN(req.Start) || math.IsInf(req.Start, 0):
		return simerr.InvalidParameter(op, "start time %v is not finite", req.Start)
	}
	return nil
}

// Analyze samples SampleCount evenly spaced instants over
// [Start, Start+DurationHours) and returns the closest approach. It checks
// ctx between samples: a cancelled context yields ErrCancelled and an
// expired deadline yields ErrTimeout, never a partial result.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := a.Validate(req); err != nil {
		return nil, err
	}

	tracks := make([]*track, 2)
	for i, cfg := range []orbit.Config{req.A, req.B} {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		d, err := a.model.Derive(cfg)
		if err != nil {
			return nil, err
		}
		_, hasVel, err := a.model.VelocityAt(cfg, d, req.Start)
		if err != nil {
			return nil, err
		}
		tracks[i] = &track{
			cfg:     cfg,
			derived: d,
			pos:     make([]orbit.Vec3, req.SampleCount),
			hasVel:  hasVel,
		}
	}
	analytic := tracks[0].hasVel && tracks[1].hasVel
	for _, tr := range tracks {
		tr.hasVel = analytic
		if analytic {
			tr.vel = make([]orbit.Vec3, req.SampleCount)
		}
	}

	n := req.SampleCount
	step := req.DurationHours * 3600 / float64(n)
	times := make([]float64, n)
	for i := range times {
		times[i] = req.Start + float64(i)*step
	}

	if err := a.pool.evaluate(ctx, a.model, tracks, times); err != nil {
		return nil, mapContextError(err)
	}

	A, B := tracks[0], tracks[1]
	seps := make([]float64, n)
	minIdx := 0
	for i := 0; i < n; i++ {
		seps[i] = A.pos[i].DistanceTo(B.pos[i])
		if seps[i] < seps[minIdx] {
			minIdx = i
		}
	}

	var relVel float64
	source := VelocityFiniteDifference
	if analytic {
		relVel = A.vel[minIdx].Sub(B.vel[minIdx]).Norm()
		source = VelocityAnalytic
	} else {
		i, j := minIdx, minIdx+1
		if j == n {
			i, j = minIdx-1, minIdx
		}
		di := A.pos[i].Sub(B.pos[i])
		dj := A.pos[j].Sub(B.pos[j])
		relVel = dj.Sub(di).Norm() / step
	}

	sampled := make([]time.Time, n)
	for i, t := range times {
		sampled[i] = a.wallTime(t)
	}

	res := &Result{
		BodyA:                 req.A.ID,
		BodyB:                 req.B.ID,
		MinDistanceKm:         seps[minIdx],
		TimeOfClosestApproach: sampled[minIdx],
		TCASimulatedTime:      times[minIdx],
		RelativeVelocityKmS:   relVel,
		VelocitySource:        source,
		RiskLevel:             Classify(seps[minIdx], req.ThresholdKm),
		ThresholdKm:           req.ThresholdKm,
		SampledAt:             sampled,
		SeparationsKm:         seps,
	}
	a.logger.Debug("conjunction analyzed",
		"body_a", req.A.ID,
		"body_b", req.B.ID,
		"samples", n,
		"min_distance_km", res.MinDistanceKm,
		"risk", string(res.RiskLevel),
	)
	return res, nil
}

func (a *Analyzer) wallTime(t float64) time.Time {
	return a.epoch.Add(time.Duration(t * float64(time.Second)))
}

func mapContextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return simerr.Timeout("analyze", "analysis exceeded its time budget")
	case errors.Is(err, context.Canceled):
		return simerr.Cancelled("analyze", "analysis cancelled")
	}
	var se *simerr.Error
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("analyze: %w", err)
}
