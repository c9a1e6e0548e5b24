// Package passes predicts when bodies rise above a ground observer's horizon.
package passes

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/transform"
)

// GroundTrackPoint is a sub-body position sampled during a pass.
type GroundTrackPoint struct {
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AltitudeKm float64   `json:"altitude_km"`
	Elevation  float64   `json:"elevation"`
}

// PassEvent describes a single pass over the observer.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// BodyPasses holds the predicted passes for one body.
type BodyPasses struct {
	ID     string      `json:"id"`
	Passes []PassEvent `json:"passes"`
	Error  string      `json:"error,omitempty"`
}

// Target is a body to predict passes for.
type Target struct {
	Config  orbit.Config
	Derived orbit.Derived
}

// Request holds the parameters for a pass prediction.
// Epoch maps wall-clock instants to the propagator's simulated seconds.
type Request struct {
	Observer     transform.Observer
	Targets      []Target
	Epoch        time.Time
	Start        time.Time
	HorizonHours float64
	MinElevation float64
	MaxPasses    int
}

// Limits on a single request.
const (
	MaxHorizonHours = 168
	MaxTargets      = 256
)

const (
	coarseStep      = 30 * time.Second
	fineStep        = time.Second
	groundTrackStep = 10 * time.Second
	minPassDur      = 10 * time.Second
)

// Validate checks request bounds.
func (r Request) Validate() error {
	const op = "passes.Validate"
	switch {
	case len(r.Targets) == 0:
		return simerr.InvalidParameter(op, "at least one body is required")
	case len(r.Targets) > MaxTargets:
		return simerr.InvalidParameter(op, "at most %d bodies per request", MaxTargets)
	case !(r.HorizonHours > 0) || r.HorizonHours > MaxHorizonHours:
		return simerr.InvalidParameter(op, "horizon must be in (0, %d] hours, got %v", MaxHorizonHours, r.HorizonHours)
	case r.MinElevation < 0 || r.MinElevation >= 90:
		return simerr.InvalidParameter(op, "min elevation must be in [0, 90), got %v", r.MinElevation)
	case r.MaxPasses <= 0:
		return simerr.InvalidParameter(op, "max passes must be positive, got %d", r.MaxPasses)
	case r.Observer.LatDeg < -90 || r.Observer.LatDeg > 90:
		return simerr.InvalidParameter(op, "latitude must be in [-90, 90], got %v", r.Observer.LatDeg)
	case r.Observer.LonDeg < -180 || r.Observer.LonDeg > 180:
		return simerr.InvalidParameter(op, "longitude must be in [-180, 180], got %v", r.Observer.LonDeg)
	}
	return nil
}

// Predict computes passes for every target. Each target runs in its own
// goroutine bounded by a semaphore; failures are reported per body.
func Predict(ctx context.Context, m orbit.Propagator, req Request) []BodyPasses {
	results := make([]BodyPasses, len(req.Targets))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, tgt := range req.Targets {
		wg.Add(1)
		go func(idx int, tgt Target) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = BodyPasses{ID: tgt.Config.ID, Error: "cancelled"}
				return
			}

			passes, err := predictBody(ctx, m, req, tgt)
			if err != nil {
				results[idx] = BodyPasses{ID: tgt.Config.ID, Error: err.Error()}
				return
			}
			results[idx] = BodyPasses{ID: tgt.Config.ID, Passes: passes}
		}(i, tgt)
	}

	wg.Wait()
	return results
}

type scanner struct {
	m   orbit.Propagator
	req Request
	tgt Target
}

func predictBody(ctx context.Context, m orbit.Propagator, req Request, tgt Target) ([]PassEvent, error) {
	s := scanner{m: m, req: req, tgt: tgt}
	if _, _, err := s.lookAt(req.Start); err != nil {
		return nil, fmt.Errorf("propagate: %w", err)
	}

	end := req.Start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))
	var passes []PassEvent

	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if ctx.Err() != nil {
			return passes, nil
		}

		la, _, err := s.lookAt(t)
		if err != nil || la.ElevationDeg <= 0 {
			t = t.Add(coarseStep)
			continue
		}

		pass, windowEnd := s.refine(ctx, t, end)
		if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDur {
			passes = append(passes, *pass)
		}
		t = windowEnd.Add(coarseStep)
	}

	return passes, nil
}

// refine backs up one coarse step from a hit and scans forward at fine
// resolution to find rise, culmination and set.
func (s scanner) refine(ctx context.Context, hit, windowEnd time.Time) (*PassEvent, time.Time) {
	start := hit.Add(-coarseStep)
	if start.Before(s.req.Start) {
		start = s.req.Start
	}

	var (
		ev        PassEvent
		wasAbove  bool
		foundRise bool
	)

	t := start
	for t.Before(windowEnd) {
		if ctx.Err() != nil {
			break
		}

		la, fixed, err := s.lookAt(t)
		if err != nil {
			t = t.Add(fineStep)
			continue
		}
		el := la.ElevationDeg
		above := el >= s.req.MinElevation

		if above && !wasAbove {
			foundRise = true
			ev.StartTime, ev.StartAzimuth = t, la.AzimuthDeg
			ev.MaxElevation, ev.MaxElevationTime, ev.AzimuthAtMax = el, t, la.AzimuthDeg
		}

		if above && foundRise {
			if el > ev.MaxElevation {
				ev.MaxElevation, ev.MaxElevationTime, ev.AzimuthAtMax = el, t, la.AzimuthDeg
			}
			if t.Sub(ev.StartTime)%groundTrackStep == 0 {
				geo := transform.FixedToGeodetic(fixed)
				ev.GroundTrack = append(ev.GroundTrack, GroundTrackPoint{
					Time:       t,
					Latitude:   geo.LatDeg,
					Longitude:  geo.LonDeg,
					AltitudeKm: geo.AltKm,
					Elevation:  el,
				})
			}
		}

		if !above && wasAbove && foundRise {
			ev.EndTime, ev.EndAzimuth = t, la.AzimuthDeg
			break
		}

		wasAbove = above
		t = t.Add(fineStep)
	}

	// Still up at the end of the window: close the pass there.
	if foundRise && ev.EndTime.IsZero() && wasAbove {
		ev.EndTime = t
		if la, _, err := s.lookAt(t); err == nil {
			ev.EndAzimuth = la.AzimuthDeg
			if la.ElevationDeg > ev.MaxElevation {
				ev.MaxElevation, ev.MaxElevationTime, ev.AzimuthAtMax = la.ElevationDeg, t, la.AzimuthDeg
			}
		}
	}

	if !foundRise || ev.EndTime.IsZero() {
		return nil, t
	}
	ev.DurationSeconds = ev.EndTime.Sub(ev.StartTime).Seconds()
	return &ev, ev.EndTime
}

func (s scanner) lookAt(t time.Time) (transform.LookAngles, orbit.Vec3, error) {
	sim := t.Sub(s.req.Epoch).Seconds()
	p, err := s.m.PositionAt(s.tgt.Config, s.tgt.Derived, sim)
	if err != nil {
		return transform.LookAngles{}, orbit.Vec3{}, err
	}
	fixed := transform.ToFixed(p, t)
	return s.req.Observer.Look(fixed), fixed, nil
}
