package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/simerr"
)

// Store holds the current catalog. Reads are lock-free; refreshes are
// serialised so concurrent callers never download the same group twice.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex

	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates an empty store. cache may be nil.
func NewStore(fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Store {
	return &Store{fetcher: fetcher, cache: cache, logger: logger, now: time.Now}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
	metrics.SetCatalogSize(len(ds.Entries))
	metrics.SetCatalogAge(s.now().Sub(ds.FetchedAt).Seconds())
}

// AgeSeconds is the age of the current dataset, or -1 when empty.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	age := s.now().Sub(ds.FetchedAt).Seconds()
	metrics.SetCatalogAge(age)
	return age
}

// Refresh downloads a group, caches the raw bytes and swaps the catalog.
func (s *Store) Refresh(ctx context.Context, group string) (*Dataset, error) {
	if s.fetcher == nil {
		return nil, simerr.Configuration("tle.Refresh", group, "no fetcher configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.fetcher.FetchGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", group, err)
	}
	fetchedAt := s.now().UTC()

	ds, err := s.load(group, s.fetcher.baseURL, fetchedAt, data)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Write(group, data, fetchedAt); err != nil {
			s.logger.Warn("tle cache write failed", "group", group, "error", err)
		}
	}
	return ds, nil
}

// LoadCached warms the store from the newest cached download of group.
func (s *Store) LoadCached(group string) (*Dataset, error) {
	if s.cache == nil {
		return nil, ErrNoCache
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ts, err := s.cache.LoadLatest(group)
	if err != nil {
		return nil, err
	}
	return s.load(group, "cache", ts, data)
}

func (s *Store) load(group, source string, ts time.Time, data []byte) (*Dataset, error) {
	entries, err := Parse(bytes.NewReader(data), s.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, simerr.Configuration("tle.load", group, "no valid entries in %d bytes", len(data))
	}

	ds := NewDataset(group, source, ts, entries)
	s.Set(ds)
	s.logger.Info("tle catalog loaded", "group", group, "source", source, "entries", len(entries))
	return ds, nil
}

// Lookup finds an entry in the current catalog by NORAD number or name.
func (s *Store) Lookup(query string) (Entry, error) {
	ds := s.Get()
	if ds == nil {
		return Entry{}, simerr.NotFound("tle.Lookup", query)
	}
	e, ok := ds.Find(query)
	if !ok {
		return Entry{}, simerr.NotFound("tle.Lookup", query)
	}
	return e, nil
}
