package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

type fixedTime float64

func (f fixedTime) Now() float64 { return float64(f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestRegistry(now float64) *Registry {
	return New(orbit.NewModel(orbit.DefaultParams()), fixedTime(now), testLogger())
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(0)
	id, err := r.Register(orbit.NewCircular("iss", 420, "#ff0000"))
	require.NoError(t, err)
	assert.Equal(t, "iss", id)

	b, err := r.Get("iss")
	require.NoError(t, err)
	assert.True(t, b.Selected, "new bodies start selected")
	assert.InDelta(t, 6798, b.Derived.RadiusFromCenterKm, 1e-9)
	assert.InDelta(t, 6798, b.Position.Norm(), 1e-6)
}

// TestDuplicateKeepsOriginal registers an id twice and checks the first
// configuration survives.
func TestDuplicateKeepsOriginal(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, "red"))
	require.NoError(t, err)

	_, err = r.Register(orbit.NewCircular("sat", 900, "blue"))
	assert.True(t, errors.Is(err, simerr.ErrDuplicateID), "got %v", err)

	b, err := r.Get("sat")
	require.NoError(t, err)
	assert.Equal(t, 500.0, b.Config.Circular.AltitudeKm)
	assert.Equal(t, "red", b.Config.ColorTag)
}

func TestNotFound(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Get("nope")
	assert.True(t, errors.Is(err, simerr.ErrNotFound))
	assert.True(t, errors.Is(r.Unregister("nope"), simerr.ErrNotFound))
	assert.True(t, errors.Is(r.UpdateConfig("nope", orbit.NewCircular("nope", 500, "")), simerr.ErrNotFound))
	assert.True(t, errors.Is(r.Select([]string{"nope"}), simerr.ErrNotFound))
}

// TestUpdateRecomputes verifies derived parameters and position are
// recomputed at the current simulated time on update.
func TestUpdateRecomputes(t *testing.T) {
	r := newTestRegistry(1200)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)
	before, _ := r.Get("sat")

	require.NoError(t, r.UpdateConfig("sat", orbit.NewCircular("", 2000, "")))
	after, err := r.Get("sat")
	require.NoError(t, err)

	assert.InDelta(t, 756.8, after.Derived.PeriodMin, 1e-9)
	assert.InDelta(t, 8378, after.Position.Norm(), 1e-6)
	assert.Equal(t, 1200.0, after.PositionTime)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestUpdateInvalidKeepsPrevious(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)
	before, _ := r.Get("sat")

	err = r.UpdateConfig("sat", orbit.NewCircular("sat", -5, ""))
	assert.True(t, errors.Is(err, simerr.ErrConfiguration))

	err = r.UpdateConfig("sat", orbit.NewCircular("other", 700, ""))
	assert.True(t, errors.Is(err, simerr.ErrConfiguration))

	b, _ := r.Get("sat")
	assert.Equal(t, 500.0, b.Config.Circular.AltitudeKm)
	assert.Equal(t, before.Version, b.Version)
}

func TestRegisterClampsAltitude(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("geo", 35786, ""))
	require.NoError(t, err)
	b, _ := r.Get("geo")
	assert.Equal(t, 2000.0, b.Config.Circular.AltitudeKm)
}

func TestSelectAllOrNothing(t *testing.T) {
	r := newTestRegistry(0)
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Register(orbit.NewCircular(id, 500, ""))
		require.NoError(t, err)
	}

	require.NoError(t, r.Select([]string{"c", "a"}))
	assert.Equal(t, []string{"a", "c"}, r.Snapshot().SelectedIDs())

	err := r.Select([]string{"b", "missing"})
	assert.True(t, errors.Is(err, simerr.ErrNotFound))
	assert.Equal(t, []string{"a", "c"}, r.Snapshot().SelectedIDs(), "failed select must not change state")
}

func TestUnregisterKeepsOrder(t *testing.T) {
	r := newTestRegistry(0)
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Register(orbit.NewCircular(id, 500, ""))
		require.NoError(t, err)
	}
	require.NoError(t, r.Unregister("b"))

	var ids []string
	for _, b := range r.Snapshot().All() {
		ids = append(ids, b.Config.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

// TestSnapshotIsolation verifies a snapshot taken before a mutation does not
// observe it.
func TestSnapshotIsolation(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)

	snap := r.Snapshot()
	require.NoError(t, r.UpdateConfig("sat", orbit.NewCircular("sat", 1500, "")))
	_, err = r.Register(orbit.NewCircular("late", 600, ""))
	require.NoError(t, err)

	b, _ := snap.Get("sat")
	assert.Equal(t, 500.0, b.Config.Circular.AltitudeKm)
	assert.Equal(t, 1, snap.Len())
	assert.Greater(t, r.Snapshot().Version(), snap.Version())

	// Mutating a returned copy must not leak into the registry.
	b.Config.Circular.AltitudeKm = 42
	again, _ := r.Get("sat")
	assert.Equal(t, 1500.0, again.Config.Circular.AltitudeKm)
}

func TestCommitSkipsStaleVersions(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)
	stale, _ := r.Get("sat")

	require.NoError(t, r.UpdateConfig("sat", orbit.NewCircular("sat", 800, "")))

	var applied []string
	record := func(u PositionUpdate) { applied = append(applied, u.ID) }

	n := r.CommitPositions([]PositionUpdate{
		{ID: "sat", Version: stale.Version, Position: orbit.Vec3{X: 1}, Time: 10},
		{ID: "gone", Version: 0, Position: orbit.Vec3{X: 1}, Time: 10},
	}, record)
	assert.Equal(t, 0, n)
	assert.Empty(t, applied)

	cur, _ := r.Get("sat")
	n = r.CommitPositions([]PositionUpdate{{ID: "sat", Version: cur.Version, Position: orbit.Vec3{X: 7178}, Time: 10}}, record)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"sat"}, applied)
	got, _ := r.Get("sat")
	assert.Equal(t, 7178.0, got.Position.X)
	assert.Equal(t, 10.0, got.PositionTime)
}

// TestCommitSkipsReregisteredBody covers an id removed and added again
// between a tick's snapshot and its commit.
func TestCommitSkipsReregisteredBody(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)
	stale, _ := r.Get("sat")

	require.NoError(t, r.Unregister("sat"))
	_, err = r.Register(orbit.NewCircular("sat", 1800, ""))
	require.NoError(t, err)
	fresh, _ := r.Get("sat")
	assert.NotEqual(t, stale.Version, fresh.Version)

	n := r.CommitPositions([]PositionUpdate{{ID: "sat", Version: stale.Version, Position: orbit.Vec3{X: 6878}, Time: 3}}, func(PositionUpdate) {
		t.Error("stale update applied")
	})
	assert.Equal(t, 0, n)
	got, _ := r.Get("sat")
	assert.InDelta(t, 8178, got.Position.Norm(), 1e-6)
}

func TestCommitRecordsErrorAndKeepsPosition(t *testing.T) {
	r := newTestRegistry(0)
	_, err := r.Register(orbit.NewCircular("sat", 500, ""))
	require.NoError(t, err)
	before, _ := r.Get("sat")

	r.CommitPositions([]PositionUpdate{{ID: "sat", Version: before.Version, Err: fmt.Errorf("boom")}}, nil)
	after, _ := r.Get("sat")
	assert.Equal(t, "boom", after.LastError)
	assert.Equal(t, before.Position, after.Position)
}

// TestConcurrentWriters hammers the registry from several goroutines while a
// reader iterates snapshots.
func TestConcurrentWriters(t *testing.T) {
	r := newTestRegistry(0)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				if _, err := r.Register(orbit.NewCircular(id, 300+float64(i), "")); err != nil {
					t.Errorf("register %s: %v", id, err)
					return
				}
				if i%2 == 0 {
					if err := r.Unregister(id); err != nil {
						t.Errorf("unregister %s: %v", id, err)
						return
					}
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := r.Snapshot()
			if len(snap.All()) != snap.Len() {
				t.Errorf("inconsistent snapshot")
				return
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 100, r.Snapshot().Len())
}
