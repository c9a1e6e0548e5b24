package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbitlab/internal/export"
	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/session"
	"github.com/star/orbitlab/internal/simerr"
)

// startAnalysis launches a background analysis and answers 202 with its
// sequence number. With ?sync=true it runs inline and answers the result.
func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var params session.AnalysisParams
	if err := httputil.DecodeJSON(w, r, &params); err != nil {
		httputil.WriteError(w, err)
		return
	}

	sync := false
	if v := r.URL.Query().Get("sync"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, simerr.InvalidParameter("api.startAnalysis", "sync must be a boolean, got %q", v))
			return
		}
		sync = b
	}

	if sync {
		// The analysis budget can exceed the server-wide write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(s.sess.Options().AnalysisTimeout + 5*time.Second)); err != nil {
			s.logger.Debug("could not extend write deadline", "error", err)
		}
		res, err := s.sess.AnalyzeSync(r.Context(), params)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
		return
	}

	seq, err := s.sess.Analyze(r.Context(), params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/analysis")
	httputil.WriteJSON(w, http.StatusAccepted, map[string]uint64{"seq": seq})
}

func (s *Server) latestAnalysis(w http.ResponseWriter, r *http.Request) {
	out, ok := s.sess.LatestAnalysis()
	if !ok {
		httputil.WriteError(w, simerr.NotFound("api.latestAnalysis", "analysis"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": s.sess.CancelAnalysis()})
}

// analysisResult exports the latest completed result as ?format=json|yaml|csv.
func (s *Server) analysisResult(w http.ResponseWriter, r *http.Request) {
	f, err := formatParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, ok := s.sess.LatestAnalysis()
	if !ok || out.Result == nil {
		httputil.WriteError(w, simerr.NotFound("api.analysisResult", "analysis result"))
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="conjunction-`+strconv.FormatUint(out.Seq, 10)+f.Extension()+`"`)
	if err := export.WriteResult(w, f, out.Result); err != nil {
		s.logger.Warn("result export failed", "seq", out.Seq, "format", string(f), "error", err)
	}
}

// snapshot exports the session. ?download=true adds a Content-Disposition
// header naming the file.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	f, err := formatParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snap := s.sess.Snapshot()
	w.Header().Set("Content-Type", f.ContentType())
	if dl, _ := strconv.ParseBool(r.URL.Query().Get("download")); dl {
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(snap, f)+`"`)
	}
	if err := export.WriteSnapshot(w, f, snap); err != nil {
		s.logger.Warn("snapshot export failed", "format", string(f), "error", err)
	}
}

func formatParam(r *http.Request) (export.Format, error) {
	return export.ParseFormat(r.URL.Query().Get("format"))
}
