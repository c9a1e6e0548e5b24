package session

import (
	"context"
	"time"

	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/simerr"
)

// AnalysisParams select two bodies and the sampling window. Zero numeric
// fields take the session defaults. A nil Start means the current simulated
// time.
type AnalysisParams struct {
	A             string     `json:"a"`
	B             string     `json:"b"`
	Start         *time.Time `json:"start,omitempty"`
	DurationHours float64    `json:"duration_hours,omitempty"`
	SampleCount   int        `json:"sample_count,omitempty"`
	ThresholdKm   float64    `json:"threshold_km,omitempty"`
}

// BuildRequest resolves params against the registry into an analyzer
// request. Both bodies are read from one registry snapshot.
func (s *Session) BuildRequest(p AnalysisParams) (conjunction.Request, error) {
	const op = "session.Analyze"
	if p.A == "" || p.B == "" {
		return conjunction.Request{}, simerr.InvalidParameter(op, "two body ids are required")
	}

	snap := s.registry.Snapshot()
	a, ok := snap.Get(p.A)
	if !ok {
		return conjunction.Request{}, simerr.NotFound(op, p.A)
	}
	b, ok := snap.Get(p.B)
	if !ok {
		return conjunction.Request{}, simerr.NotFound(op, p.B)
	}

	req := conjunction.Request{
		A:             a.Config,
		B:             b.Config,
		Start:         s.clock.Now(),
		DurationHours: p.DurationHours,
		SampleCount:   p.SampleCount,
		ThresholdKm:   p.ThresholdKm,
	}
	if p.Start != nil {
		req.Start = s.SimulatedTime(*p.Start)
	}
	if req.DurationHours == 0 {
		req.DurationHours = s.opts.DurationHours
	}
	if req.SampleCount == 0 {
		req.SampleCount = s.opts.SampleCount
	}
	if req.ThresholdKm == 0 {
		req.ThresholdKm = s.opts.ThresholdKm
	}
	return req, s.analyzer.Validate(req)
}

// Analyze starts a background conjunction analysis, superseding any run in
// flight. The outcome is available from LatestAnalysis and AnalysisEvents.
func (s *Session) Analyze(ctx context.Context, p AnalysisParams) (uint64, error) {
	req, err := s.BuildRequest(p)
	if err != nil {
		return 0, err
	}
	// The run outlives the caller's request; only values are inherited.
	return s.runner.Start(context.WithoutCancel(ctx), req)
}

// AnalyzeSync runs an analysis through the runner and waits for it. Like
// Analyze it supersedes the run in flight and becomes the latest outcome.
// Cancelling ctx cancels the run.
func (s *Session) AnalyzeSync(ctx context.Context, p AnalysisParams) (*conjunction.Result, error) {
	req, err := s.BuildRequest(p)
	if err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Result, nil
}

// CancelAnalysis cancels the run in flight. It reports whether one was
// running.
func (s *Session) CancelAnalysis() bool {
	return s.runner.Cancel()
}

// LatestAnalysis returns the outcome of the most recently started run.
func (s *Session) LatestAnalysis() (conjunction.Outcome, bool) {
	return s.runner.Latest()
}

// AnalysisEvents subscribes to finished outcomes.
func (s *Session) AnalysisEvents() (<-chan conjunction.Outcome, func()) {
	return s.outcomes.subscribe(4)
}

func (s *Session) deliver(out conjunction.Outcome) {
	if out.Status == conjunction.StatusCancelled {
		s.logger.Debug("analysis cancelled", "seq", out.Seq)
	}
	s.outcomes.publish(out)
}
