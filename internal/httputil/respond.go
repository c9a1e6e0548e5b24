package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/star/orbitlab/internal/simerr"
)

// MaxBodyBytes bounds decoded request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, simerr.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, simerr.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, simerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, simerr.ErrDuplicateID), errors.Is(err, simerr.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, simerr.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorBody with the status for its kind.
// Internal errors do not leak their message.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorBody{Error: msg, Kind: simerr.KindName(err)})
}

// DecodeJSON decodes a size-limited request body into v, rejecting unknown
// fields and trailing data. Failures are InvalidParameter errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "httputil.DecodeJSON"
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return simerr.InvalidParameter(op, "request body is empty")
		}
		return simerr.InvalidParameter(op, "invalid JSON body: %v", err)
	}
	if dec.More() {
		return simerr.InvalidParameter(op, "unexpected data after JSON body")
	}
	return nil
}

