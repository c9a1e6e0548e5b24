package tle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/star/orbitlab/internal/simerr"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	issTLE = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9009\n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    01\n"
	starlinkTLE = "STARLINK-1007\n" +
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9998\n" +
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    07\n"
)

// groupServer serves a fixed body per GROUP query value; unknown groups get 500.
func groupServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("FORMAT") != "TLE" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, ok := bodies[r.URL.Query().Get("GROUP")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Responses over the 50 MB cap must fail rather than buffer without bound.
func TestFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chunk := []byte(strings.Repeat("A", 1024*1024))
		for i := 0; i < 52; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, testLogger).FetchGroup(context.Background(), "stations")
	if err == nil {
		t.Fatal("expected error for oversized response, got nil")
	}
	if !errors.Is(err, ErrBodyTooLarge) || !strings.Contains(err.Error(), "byte limit") {
		t.Errorf("expected body limit error, got: %v", err)
	}
}

func TestFetchGroup(t *testing.T) {
	srv := groupServer(t, map[string]string{"stations": issTLE})

	data, err := NewFetcher(srv.URL, testLogger).FetchGroup(context.Background(), "stations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != issTLE {
		t.Errorf("body mismatch: got %d bytes, want %d", len(data), len(issTLE))
	}
}

func TestFetchGroupHTTPError(t *testing.T) {
	srv := groupServer(t, nil)

	if _, err := NewFetcher(srv.URL, testLogger).FetchGroup(context.Background(), "stations"); err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

func TestFetchGroupRejectsBadGroup(t *testing.T) {
	f := NewFetcher("http://127.0.0.1:1", testLogger)
	for _, g := range []string{"", "../etc", "Stations", "a b", strings.Repeat("x", 80)} {
		_, err := f.FetchGroup(context.Background(), g)
		if !errors.Is(err, simerr.ErrInvalidParameter) {
			t.Errorf("group %q: expected invalid parameter, got %v", g, err)
		}
	}
}

func TestGroupURL(t *testing.T) {
	u, err := NewFetcher("", testLogger).GroupURL("gps-ops")
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultBaseURL + "?FORMAT=TLE&GROUP=gps-ops"
	if u != want {
		t.Errorf("GroupURL = %q, want %q", u, want)
	}
}

func TestFetchGroupsConcatenates(t *testing.T) {
	srv := groupServer(t, map[string]string{"starlink": starlinkTLE, "stations": issTLE})

	data, err := NewFetcher(srv.URL, testLogger).FetchGroups(context.Background(), "starlink", "stations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := Parse(strings.NewReader(string(data)), testLogger)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].NORADID != 44713 || entries[1].NORADID != 25544 {
		t.Errorf("unexpected ids %d, %d", entries[0].NORADID, entries[1].NORADID)
	}
}

// One failing group must not sink the others.
func TestFetchGroupsPartialFailure(t *testing.T) {
	srv := groupServer(t, map[string]string{"starlink": starlinkTLE})

	data, err := NewFetcher(srv.URL, testLogger).FetchGroups(context.Background(), "starlink", "broken")
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}
	entries, _ := Parse(strings.NewReader(string(data)), testLogger)
	if len(entries) != 1 || entries[0].NORADID != 44713 {
		t.Fatalf("expected only STARLINK-1007, got %+v", entries)
	}

	if _, err := NewFetcher(srv.URL, testLogger).FetchGroups(context.Background(), "broken"); err == nil {
		t.Error("expected error when every group fails")
	}
}
