package conjunction

import (
	"context"
	"sync"

	"github.com/star/orbitlab/internal/orbit"
)

// sampleJob is a contiguous range of sample indices.
type sampleJob struct {
	from, to int
}

// track holds one body's evaluated trajectory.
type track struct {
	cfg     orbit.Config
	derived orbit.Derived
	pos     []orbit.Vec3
	vel     []orbit.Vec3
	hasVel  bool
}

// samplePool evaluates trajectories with a fixed number of goroutines. Each
// worker writes only its own indices, so the output does not depend on
// scheduling.
type samplePool struct {
	workers int
	chunk   int
}

func newSamplePool(workers int) *samplePool {
	if workers < 1 {
		workers = 1
	}
	return &samplePool{workers: workers, chunk: 64}
}

// evaluate fills pos (and vel when the model has an analytic velocity) for
// every timestamp in times. It stops between samples once ctx is done and
// returns the first propagation error or ctx.Err().
func (p *samplePool) evaluate(ctx context.Context, m Model, tracks []*track, times []float64) error {
	jobs := make(chan sampleJob, p.workers*2)
	errs := make(chan error, p.workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := evaluateRange(ctx, m, tracks, times, job); err != nil {
					select {
					case errs <- err:
					default:
					}
					cancel()
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for from := 0; from < len(times); from += p.chunk {
			to := from + p.chunk
			if to > len(times) {
				to = len(times)
			}
			select {
			case jobs <- sampleJob{from: from, to: to}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
	}
	return ctx.Err()
}

func evaluateRange(ctx context.Context, m Model, tracks []*track, times []float64, job sampleJob) error {
	for i := job.from; i < job.to; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, tr := range tracks {
			pos, err := m.PositionAt(tr.cfg, tr.derived, times[i])
			if err != nil {
				return err
			}
			tr.pos[i] = pos
			if tr.hasVel {
				vel, _, err := m.VelocityAt(tr.cfg, tr.derived, times[i])
				if err != nil {
					return err
				}
				tr.vel[i] = vel
			}
		}
	}
	return nil
}
