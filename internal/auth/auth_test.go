package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"probe", "GET", "/healthz", "", http.StatusNoContent},
		{"metrics", "GET", "/metrics", "", http.StatusNoContent},
		{"read is public", "GET", "/api/v1/bodies", "", http.StatusNoContent},
		{"mutation without token", "POST", "/api/v1/bodies", "", http.StatusUnauthorized},
		{"wrong token", "POST", "/api/v1/bodies", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "POST", "/api/v1/bodies", "Basic s3cret", http.StatusUnauthorized},
		{"bare token", "DELETE", "/api/v1/bodies/iss", "s3cret", http.StatusUnauthorized},
		{"valid token", "POST", "/api/v1/bodies", "Bearer s3cret", http.StatusNoContent},
		{"lowercase scheme", "PUT", "/api/v1/selection", "bearer s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/v1/bodies/iss", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
