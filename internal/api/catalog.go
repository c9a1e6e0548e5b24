package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/simerr"
	"github.com/star/orbitlab/internal/tle"
)

const catalogFetchTimeout = 45 * time.Second

type catalogResponse struct {
	Group      string         `json:"group"`
	Source     string         `json:"source"`
	FetchedAt  time.Time      `json:"fetched_at"`
	AgeSeconds float64        `json:"age_seconds"`
	EpochRange tle.EpochRange `json:"epoch_range"`
	Count      int            `json:"count"`
	Entries    []tle.Entry    `json:"entries,omitempty"`
}

func (s *Server) catalogView(ds *tle.Dataset, withEntries bool) catalogResponse {
	resp := catalogResponse{
		Group:      ds.Group,
		Source:     ds.Source,
		FetchedAt:  ds.FetchedAt,
		AgeSeconds: s.catalog.AgeSeconds(),
		EpochRange: ds.EpochRange,
		Count:      len(ds.Entries),
	}
	if withEntries {
		resp.Entries = ds.Entries
	}
	return resp
}

// catalogInfo describes the loaded TLE catalog; ?entries=true includes
// every element set.
func (s *Server) catalogInfo(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil || s.catalog.Get() == nil {
		httputil.WriteError(w, simerr.NotFound("api.catalogInfo", "catalog"))
		return
	}
	withEntries := r.URL.Query().Get("entries") == "true"
	httputil.WriteJSON(w, http.StatusOK, s.catalogView(s.catalog.Get(), withEntries))
}

// catalogEntry looks up one entry by NORAD number or name.
func (s *Server) catalogEntry(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		httputil.WriteError(w, simerr.NotFound("api.catalogEntry", "catalog"))
		return
	}
	entry, err := s.catalog.Lookup(mux.Vars(r)["query"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type catalogFetchRequest struct {
	Group string `json:"group,omitempty"`
}

// catalogFetch downloads a group and replaces the catalog. Upstream
// failures answer 502.
func (s *Server) catalogFetch(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		httputil.WriteError(w, simerr.NotFound("api.catalogFetch", "catalog"))
		return
	}
	var req catalogFetchRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if req.Group == "" {
		req.Group = s.opts.CatalogGroup
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(catalogFetchTimeout + 5*time.Second)); err != nil {
		s.logger.Debug("could not extend write deadline", "error", err)
	}
	ctx, cancel := context.WithTimeout(r.Context(), catalogFetchTimeout)
	defer cancel()

	ds, err := s.catalog.Refresh(ctx, req.Group)
	if err != nil {
		if simerr.KindName(err) == "internal" {
			s.logger.Warn("catalog fetch failed", "group", req.Group, "error", err)
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			httputil.WriteJSON(w, status, httputil.ErrorBody{Error: "upstream fetch failed: " + err.Error(), Kind: "upstream"})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.catalogView(ds, false))
}
