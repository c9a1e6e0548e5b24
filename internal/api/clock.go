package api

import (
	"net/http"
	"time"

	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/simerr"
)

type clockResponse struct {
	State         scheduler.State `json:"state"`
	SimulatedTime float64         `json:"simulated_time"`
	Speed         float64         `json:"speed"`
	Running       bool            `json:"running"`
	Epoch         time.Time       `json:"epoch"`
	Time          time.Time       `json:"time"`
}

func (s *Server) clockView() clockResponse {
	st := s.sess.Clock()
	return clockResponse{
		State:         s.sess.State(),
		SimulatedTime: st.SimulatedTime,
		Speed:         st.Speed,
		Running:       st.Running,
		Epoch:         s.sess.Epoch(),
		Time:          s.sess.WallTime(st.SimulatedTime),
	}
}

func (s *Server) getClock(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.clockView())
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	s.sess.Play()
	httputil.WriteJSON(w, http.StatusOK, s.clockView())
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.sess.Pause()
	httputil.WriteJSON(w, http.StatusOK, s.clockView())
}

// reset answers with the frame computed at t = 0.
func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	frame := s.sess.Reset()
	httputil.WriteJSON(w, http.StatusOK, struct {
		Clock clockResponse   `json:"clock"`
		Frame scheduler.Frame `json:"frame"`
	}{s.clockView(), frame})
}

type speedRequest struct {
	Speed *float64 `json:"speed"`
}

func (s *Server) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Speed == nil {
		httputil.WriteError(w, simerr.InvalidParameter("api.setSpeed", "speed is required"))
		return
	}
	if err := s.sess.SetSpeed(*req.Speed); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.clockView())
}

type trailLengthBody struct {
	Length *int `json:"length"`
}

func (s *Server) getTrailLength(w http.ResponseWriter, r *http.Request) {
	n := s.sess.TrailLength()
	httputil.WriteJSON(w, http.StatusOK, trailLengthBody{Length: &n})
}

// setTrailLength clamps rather than rejects out-of-range lengths and
// reports the applied value.
func (s *Server) setTrailLength(w http.ResponseWriter, r *http.Request) {
	var req trailLengthBody
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Length == nil {
		httputil.WriteError(w, simerr.InvalidParameter("api.setTrailLength", "length is required"))
		return
	}
	n := s.sess.SetTrailLength(*req.Length)
	httputil.WriteJSON(w, http.StatusOK, trailLengthBody{Length: &n})
}
