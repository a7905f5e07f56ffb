package allocator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/registry"
	"github.com/thatjpcsguy/printtrack/internal/store"
)

type fixture struct {
	store *store.Store
	boxes *registry.Registry
	alloc *Allocator
}

func setupFixture(t *testing.T, boxes int, opts Options) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to open test store")
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.New(s, zap.NewNop())
	if boxes > 0 {
		_, err = reg.Provision(context.Background(), boxes, "BOX")
		require.NoError(t, err)
	}
	return &fixture{store: s, boxes: reg, alloc: New(s, reg, opts, zap.NewNop(), nil)}
}

func TestAllocateOne_FirstStrategy(t *testing.T) {
	f := setupFixture(t, 3, Options{Strategy: StrategyFirst})
	ctx := context.Background()

	box, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BoxID("BOX-01"), box.ID)
	assert.True(t, box.IsOccupied)
	assert.Equal(t, domain.UnitID("unit-1"), box.CurrentUnitID)

	box, err = f.alloc.AllocateOne(ctx, "unit-2")
	require.NoError(t, err)
	assert.Equal(t, domain.BoxID("BOX-02"), box.ID)

	stored, err := f.boxes.Get(ctx, "BOX-02")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitID("unit-2"), stored.CurrentUnitID)
}

func TestAllocateOne_NoCapacity(t *testing.T) {
	f := setupFixture(t, 1, DefaultOptions())
	ctx := context.Background()

	_, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.NoError(t, err)

	_, err = f.alloc.AllocateOne(ctx, "unit-2")
	require.ErrorIs(t, err, domain.ErrNoCapacity)
	assert.False(t, errors.Is(err, domain.ErrConflict), "an empty pool is not a conflict")

	empty := setupFixture(t, 0, DefaultOptions())
	_, err = empty.alloc.AllocateOne(ctx, "unit-1")
	require.ErrorIs(t, err, domain.ErrNoCapacity)
}

func TestAllocateOne_NoDoubleAllocation(t *testing.T) {
	const n = 10
	f := setupFixture(t, n-1, Options{MaxAttempts: n})

	results := allocateConcurrently(f.alloc, n)

	var boxes []domain.BoxID
	noCapacity := 0
	for _, r := range results {
		if r.err != nil {
			require.ErrorIs(t, r.err, domain.ErrNoCapacity)
			noCapacity++
			continue
		}
		boxes = append(boxes, r.box.ID)
	}
	assert.Len(t, boxes, n-1)
	assert.Equal(t, 1, noCapacity)
	assertDistinct(t, boxes)
	assertOccupancyMatches(t, f)
}

func TestAllocateOne_NoDoubleAllocationProperty(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(r, "units")
		strategy := rapid.SampledFrom([]Strategy{StrategyFirst, StrategyRandom}).Draw(r, "strategy")
		f := setupFixture(t, n-1, Options{MaxAttempts: n, Strategy: strategy})

		succeeded := make(map[domain.BoxID]domain.UnitID)
		failed := 0
		for _, res := range allocateConcurrently(f.alloc, n) {
			if res.err != nil {
				if !errors.Is(res.err, domain.ErrNoCapacity) {
					r.Fatalf("unexpected error: %v", res.err)
				}
				failed++
				continue
			}
			if holder, dup := succeeded[res.box.ID]; dup {
				r.Fatalf("box %s allocated to both %s and %s", res.box.ID, holder, res.unit)
			}
			succeeded[res.box.ID] = res.unit
		}
		if len(succeeded) != n-1 || failed != 1 {
			r.Fatalf("got %d successes and %d failures, want %d and 1", len(succeeded), failed, n-1)
		}
	})
}

func TestRelease_IsIdempotentAndDetachesUnit(t *testing.T) {
	f := setupFixture(t, 2, Options{Strategy: StrategyFirst})
	ctx := context.Background()

	box, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.NoError(t, err)
	unit := domain.Unit{ID: "unit-1", PartID: "part-1", BoxID: box.ID, Stage: domain.StagePrinted}
	require.NoError(t, f.store.Create(ctx, domain.CollectionUnits, string(unit.ID), unit))

	require.NoError(t, f.alloc.Release(ctx, box.ID))
	require.NoError(t, f.alloc.Release(ctx, box.ID), "releasing a free box is a no-op")

	got, err := f.boxes.Get(ctx, box.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOccupied)
	assert.Empty(t, got.CurrentUnitID)

	var stored domain.Unit
	require.NoError(t, f.store.Get(ctx, domain.CollectionUnits, "unit-1", &stored))
	assert.Empty(t, stored.BoxID, "no unit may reference a freed box")
	assert.Equal(t, domain.StagePrinted, stored.Stage)
}

func TestRelease_UnknownBox(t *testing.T) {
	f := setupFixture(t, 1, DefaultOptions())
	err := f.alloc.Release(context.Background(), "BOX-99")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseHeld_OnlyFreesForHolder(t *testing.T) {
	f := setupFixture(t, 1, DefaultOptions())
	ctx := context.Background()

	box, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.NoError(t, err)

	require.NoError(t, f.alloc.ReleaseHeld(ctx, box.ID, "unit-2"))
	got, err := f.boxes.Get(ctx, box.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOccupied, "a non-holder must not free the box")

	require.NoError(t, f.alloc.ReleaseHeld(ctx, box.ID, "unit-1"))
	got, err = f.boxes.Get(ctx, box.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOccupied)

	require.ErrorIs(t, f.alloc.ReleaseHeld(ctx, box.ID, ""), domain.ErrValidation)
}

func TestAllocateMany_RollsBackOnShortage(t *testing.T) {
	f := setupFixture(t, 2, DefaultOptions())
	ctx := context.Background()

	ids := []domain.UnitID{"u1", "u2", "u3", "u4", "u5"}
	boxes, err := f.alloc.AllocateMany(ctx, ids)
	require.ErrorIs(t, err, domain.ErrNoCapacity)
	assert.Nil(t, boxes)

	free, err := f.boxes.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 2, "every box taken by the failed call must be released")
}

func TestAllocateMany_Success(t *testing.T) {
	f := setupFixture(t, 3, Options{Strategy: StrategyFirst})
	ctx := context.Background()

	boxes, err := f.alloc.AllocateMany(ctx, []domain.UnitID{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, domain.UnitID("u1"), boxes[0].CurrentUnitID)
	assert.Equal(t, domain.UnitID("u2"), boxes[1].CurrentUnitID)

	require.NoError(t, f.alloc.ReleaseAll(ctx, boxes))
	free, err := f.boxes.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 3)
}

func TestAllocateOne_CancelledContext(t *testing.T) {
	f := setupFixture(t, 1, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.Error(t, err)

	free, err := f.boxes.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Len(t, free, 1)
}

func TestPreview(t *testing.T) {
	f := setupFixture(t, 4, DefaultOptions())
	ctx := context.Background()

	_, err := f.alloc.AllocateOne(ctx, "unit-1")
	require.NoError(t, err)

	plan, err := f.alloc.Preview(ctx, []int{2, 0, 3})
	require.NoError(t, err)
	require.Len(t, plan, 3)
	assert.Len(t, plan[0], 2)
	assert.Empty(t, plan[1])
	assert.Len(t, plan[2], 1, "only one free box is left for the last request")

	free, err := f.boxes.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, free, 3, "preview must not write")
	assert.Equal(t, free[0].ID, plan[0][0])
}

func TestNew_FillsDefaults(t *testing.T) {
	a := New(nil, nil, Options{}, nil, nil)
	assert.Equal(t, DefaultOptions(), a.opts)

	a = New(nil, nil, Options{MaxAttempts: 7, InitialBackoff: time.Second}, nil, nil)
	assert.Equal(t, 7, a.opts.MaxAttempts)
	assert.Equal(t, time.Second, a.opts.InitialBackoff)
	assert.Equal(t, StrategyRandom, a.opts.Strategy)
}

type allocation struct {
	unit domain.UnitID
	box  domain.Box
	err  error
}

func allocateConcurrently(a *Allocator, n int) []allocation {
	results := make([]allocation, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := domain.UnitID(fmt.Sprintf("unit-%d", i))
			<-start
			box, err := a.AllocateOne(context.Background(), unit)
			results[i] = allocation{unit: unit, box: box, err: err}
		}(i)
	}
	close(start)
	wg.Wait()
	return results
}

func assertDistinct(t *testing.T, ids []domain.BoxID) {
	t.Helper()
	seen := make(map[domain.BoxID]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "box %s allocated twice", id)
		seen[id] = true
	}
}

func assertOccupancyMatches(t *testing.T, f *fixture) {
	t.Helper()
	boxes, err := f.boxes.List(context.Background())
	require.NoError(t, err)
	for _, b := range boxes {
		assert.Equal(t, b.IsOccupied, b.CurrentUnitID != "", "box %s occupancy flag out of sync", b.ID)
	}
}
