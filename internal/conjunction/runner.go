package conjunction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/simerr"
)

// Status of an analysis run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Outcome is the state of the most recently requested run.
type Outcome struct {
	Seq        uint64    `json:"seq" yaml:"seq"`
	Status     Status    `json:"status" yaml:"status"`
	Request    Request   `json:"request" yaml:"request"`
	Result     *Result   `json:"result,omitempty" yaml:"result,omitempty"`
	Err        error     `json:"-" yaml:"-"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Runner executes analyses on a background goroutine. Starting a run
// cancels the one in flight, and only the newest run's outcome is ever
// stored or delivered.
type Runner struct {
	analyzer *Analyzer
	timeout  time.Duration
	deliver  func(Outcome)
	logger   *slog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	latest *Outcome
	wg     sync.WaitGroup
}

// NewRunner creates a runner. A zero timeout disables the budget. deliver
// may be nil; it is called from the worker goroutine.
func NewRunner(analyzer *Analyzer, timeout time.Duration, deliver func(Outcome), logger *slog.Logger) *Runner {
	return &Runner{
		analyzer: analyzer,
		timeout:  timeout,
		deliver:  deliver,
		logger:   logger,
	}
}

// Start validates req and launches it, superseding any run in flight. It
// returns the sequence number of the new run.
func (r *Runner) Start(ctx context.Context, req Request) (uint64, error) {
	seq, _, err := r.launch(ctx, req)
	return seq, err
}

// Run launches req like Start and waits for its outcome. The run is
// recorded as latest and delivered like any other. Cancelling ctx cancels
// the run. A run superseded before it finishes ends Cancelled.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	_, done, err := r.launch(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return <-done, nil
}

func (r *Runner) launch(ctx context.Context, req Request) (uint64, <-chan Outcome, error) {
	if err := r.analyzer.Validate(req); err != nil {
		return 0, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.logger.Debug("analysis superseded", "seq", r.seq)
	}
	r.seq++
	seq := r.seq

	var runCtx context.Context
	var cancel context.CancelFunc
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	r.cancel = cancel
	r.latest = &Outcome{Seq: seq, Status: StatusRunning, Request: req, StartedAt: time.Now()}
	metrics.SetAnalysisInFlight(true)

	done := make(chan Outcome, 1)
	r.wg.Add(1)
	go r.run(runCtx, cancel, r.latest, done)
	return seq, done, nil
}

// run executes one analysis and reports to done exactly once. Only the
// newest run updates latest and reaches deliver.
func (r *Runner) run(ctx context.Context, cancel context.CancelFunc, started *Outcome, done chan<- Outcome) {
	defer r.wg.Done()
	defer cancel()
	seq, req := started.Seq, started.Request

	start := time.Now()
	res, err := r.analyzer.Analyze(ctx, req)
	elapsed := time.Since(start)

	r.mu.Lock()
	if seq != r.seq {
		r.mu.Unlock()
		metrics.ObserveAnalysis("superseded", elapsed)
		out := *started
		out.Err = simerr.Cancelled("analysis", "superseded by a newer run")
		out.Error = out.Err.Error()
		out.Status = StatusCancelled
		out.FinishedAt = time.Now()
		done <- out
		return
	}
	out := *r.latest
	out.Result = res
	out.Err = err
	out.FinishedAt = time.Now()
	out.Status = statusOf(err)
	if err != nil {
		out.Error = err.Error()
	}
	r.latest = &out
	r.cancel = nil
	r.mu.Unlock()

	metrics.SetAnalysisInFlight(false)
	metrics.ObserveAnalysis(string(out.Status), elapsed)

	if err != nil {
		r.logger.Info("analysis ended without result",
			"seq", seq,
			"status", string(out.Status),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	} else {
		r.logger.Info("analysis completed",
			"seq", seq,
			"body_a", res.BodyA,
			"body_b", res.BodyB,
			"min_distance_km", res.MinDistanceKm,
			"risk", string(res.RiskLevel),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	done <- out
	if r.deliver != nil {
		r.deliver(out)
	}
}

// Cancel stops the run in flight, if any. Its outcome becomes Cancelled.
// Returns false when nothing was running.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Latest returns the outcome of the most recently requested run.
func (r *Runner) Latest() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Outcome{}, false
	}
	return *r.latest, true
}

// Close cancels any run and waits for workers to exit.
func (r *Runner) Close() {
	r.Cancel()
	r.wg.Wait()
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, simerr.ErrCancelled):
		return StatusCancelled
	case errors.Is(err, simerr.ErrTimeout):
		return StatusTimeout
	default:
		return StatusFailed
	}
}
