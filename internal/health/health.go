// Package health serves liveness and readiness probes as small JSON
// documents.
package health

import (
	"net/http"

	"github.com/star/orbitlab/internal/httputil"
)

// Status is the probe response body.
type Status struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Healthz answers {"status":"ok"} while the process is serving.
func Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, Status{Status: "ok"})
}

// Check reports nil when a dependency is ready.
type Check func() error

// Readyz answers 200 once every check passes and 503 with the first
// failure otherwise.
func Readyz(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, Status{Status: "not ready", Error: err.Error()})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, Status{Status: "ready"})
	}
}
