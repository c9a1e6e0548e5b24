package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/star/orbitlab/internal/config"
	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/trail"
)

// createBodyRequest names exactly one source for the new body.
type createBodyRequest struct {
	Preset  string        `json:"preset,omitempty"`
	Catalog string        `json:"catalog,omitempty"`
	ID      string        `json:"id,omitempty"`
	Color   string        `json:"color,omitempty"`
	Config  *orbit.Config `json:"config,omitempty"`
}

func (s *Server) listBodies(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.sess.Bodies())
}

// createBody registers a body from a preset name, a catalog entry or an
// explicit config.
func (s *Server) createBody(w http.ResponseWriter, r *http.Request) {
	const op = "api.createBody"
	var req createBodyRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	sources := 0
	for _, set := range []bool{req.Preset != "", req.Catalog != "", req.Config != nil} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		httputil.WriteError(w, simerr.InvalidParameter(op, "exactly one of preset, catalog or config is required"))
		return
	}

	var cfg orbit.Config
	switch {
	case req.Preset != "":
		c, err := config.BodyFromPreset(req.Preset, req.ID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		cfg = c
	case req.Catalog != "":
		if s.catalog == nil {
			httputil.WriteError(w, simerr.NotFound(op, "catalog"))
			return
		}
		entry, err := s.catalog.Lookup(req.Catalog)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		cfg = entry.Config(req.ID, req.Color)
	default:
		cfg = *req.Config
	}
	if req.Color != "" {
		cfg.ColorTag = req.Color
	}

	id, err := s.sess.Register(cfg)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, err := s.sess.Get(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bodies/"+id)
	httputil.WriteJSON(w, http.StatusCreated, body)
}

func (s *Server) getBody(w http.ResponseWriter, r *http.Request) {
	body, err := s.sess.Get(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// updateBody replaces a body's configuration. The id in the path wins; a
// differing id in the body is rejected.
func (s *Server) updateBody(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var cfg orbit.Config
	if err := httputil.DecodeJSON(w, r, &cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if cfg.ID != "" && cfg.ID != id {
		httputil.WriteError(w, simerr.InvalidParameter("api.updateBody", "config id %q does not match path id %q", cfg.ID, id))
		return
	}
	cfg.ID = id

	if err := s.sess.UpdateConfig(id, cfg); err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, err := s.sess.Get(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (s *Server) deleteBody(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sess.Unregister(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bodyTrail returns up to ?count= recent points, defaulting to the whole
// configured trail.
func (s *Server) bodyTrail(w http.ResponseWriter, r *http.Request) {
	count := s.sess.TrailLength()
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > trail.MaxLength {
			httputil.WriteError(w, simerr.InvalidParameter("api.bodyTrail", "count must be 0-%d, got %q", trail.MaxLength, v))
			return
		}
		count = n
	}
	pts, err := s.sess.Trail(mux.Vars(r)["id"], count)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if pts == nil {
		pts = []trail.Point{}
	}
	httputil.WriteJSON(w, http.StatusOK, pts)
}

type selectionRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) setSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.sess.Select(req.IDs); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.sess.Bodies())
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, config.Presets())
}
