package tle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/star/orbitlab/internal/simerr"
)

func TestCacheWriteAndPrune(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 2)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 4; i++ {
		if err := c.Write("stations", []byte{byte('a' + i)}, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Write("starlink", []byte("s"), base); err != nil {
		t.Fatal(err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "stations_*.tle"))
	if len(files) != 2 {
		t.Errorf("expected 2 stations files after prune, got %d", len(files))
	}

	data, ts, err := c.LoadLatest("stations")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "d" || !ts.Equal(base.Add(3*time.Minute)) {
		t.Errorf("latest = %q at %v", data, ts)
	}

	if data, _, _ := c.LoadLatest("starlink"); string(data) != "s" {
		t.Errorf("groups must not prune each other, got %q", data)
	}
}

func TestCacheEmpty(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "missing"), 0)
	if _, _, err := c.LoadLatest("stations"); !errors.Is(err, ErrNoCache) {
		t.Errorf("expected ErrNoCache, got %v", err)
	}
}

func TestStoreRefreshAndLookup(t *testing.T) {
	srv := groupServer(t, map[string]string{"stations": issTLE + starlinkTLE})
	dir := t.TempDir()
	s := NewStore(NewFetcher(srv.URL, testLogger), NewCache(dir, 3), testLogger)

	if s.AgeSeconds() != -1 {
		t.Error("empty store should report age -1")
	}
	if _, err := s.Lookup("25544"); !errors.Is(err, simerr.ErrNotFound) {
		t.Errorf("lookup on empty store: %v", err)
	}

	ds, err := s.Refresh(context.Background(), "stations")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Entries) != 2 || s.Get() != ds {
		t.Fatalf("unexpected dataset %+v", ds)
	}
	if s.AgeSeconds() < 0 {
		t.Error("age should be non-negative after refresh")
	}

	e, err := s.Lookup("ISS (ZARYA)")
	if err != nil || e.NORADID != 25544 {
		t.Errorf("lookup: %+v %v", e, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected one cache file, got %d", len(entries))
	}

	warm := NewStore(nil, NewCache(dir, 3), testLogger)
	cached, err := warm.LoadCached("stations")
	if err != nil {
		t.Fatal(err)
	}
	if cached.Source != "cache" || len(cached.Entries) != 2 {
		t.Errorf("unexpected cached dataset %+v", cached)
	}
}

func TestStoreRefreshFailureKeepsCatalog(t *testing.T) {
	srv := groupServer(t, map[string]string{"stations": issTLE, "empty": "nothing here\n"})
	s := NewStore(NewFetcher(srv.URL, testLogger), nil, testLogger)

	if _, err := s.Refresh(context.Background(), "stations"); err != nil {
		t.Fatal(err)
	}
	before := s.Get()

	if _, err := s.Refresh(context.Background(), "broken"); err == nil {
		t.Error("expected fetch error")
	}
	if _, err := s.Refresh(context.Background(), "empty"); !errors.Is(err, simerr.ErrConfiguration) {
		t.Errorf("expected configuration error for empty group, got %v", err)
	}
	if s.Get() != before {
		t.Error("failed refresh must not replace the catalog")
	}
}

func TestStoreWithoutFetcher(t *testing.T) {
	s := NewStore(nil, nil, testLogger)
	if _, err := s.Refresh(context.Background(), "stations"); !errors.Is(err, simerr.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if _, err := s.LoadCached("stations"); !errors.Is(err, ErrNoCache) {
		t.Errorf("expected ErrNoCache, got %v", err)
	}
}
