package api

import (
	"net/http"
	"time"

	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/passes"
	"github.com/star/orbitlab/internal/transform"
)

type passesRequest struct {
	Observer     transform.Geodetic `json:"observer"`
	IDs          []string           `json:"ids,omitempty"`
	Start        *time.Time         `json:"start,omitempty"`
	HorizonHours float64            `json:"horizon_hours,omitempty"`
	MinElevation *float64           `json:"min_elevation,omitempty"`
	MaxPasses    int                `json:"max_passes,omitempty"`
}

// predictPasses predicts passes over a ground observer. Without ids every
// registered body is included; without start the window opens at the
// current simulated instant.
func (s *Server) predictPasses(w http.ResponseWriter, r *http.Request) {
	var req passesRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	preq := passes.Request{
		Observer:     transform.NewObserver(req.Observer.LatDeg, req.Observer.LonDeg, req.Observer.AltKm),
		Epoch:        s.sess.Epoch(),
		HorizonHours: req.HorizonHours,
		MinElevation: 10,
		MaxPasses:    req.MaxPasses,
	}
	if req.Start != nil {
		preq.Start = req.Start.UTC()
	} else {
		preq.Start = s.sess.WallTime(s.sess.Clock().SimulatedTime)
	}
	if preq.HorizonHours == 0 {
		preq.HorizonHours = 24
	}
	if req.MinElevation != nil {
		preq.MinElevation = *req.MinElevation
	}
	if preq.MaxPasses == 0 {
		preq.MaxPasses = 10
	}

	if len(req.IDs) == 0 {
		for _, b := range s.sess.Bodies() {
			preq.Targets = append(preq.Targets, passes.Target{Config: b.Config, Derived: b.Derived})
		}
	} else {
		for _, id := range req.IDs {
			b, err := s.sess.Get(id)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			preq.Targets = append(preq.Targets, passes.Target{Config: b.Config, Derived: b.Derived})
		}
	}

	if err := preq.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(time.Minute)); err != nil {
		s.logger.Debug("could not extend write deadline", "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, passes.Predict(r.Context(), s.sess.Model(), preq))
}
