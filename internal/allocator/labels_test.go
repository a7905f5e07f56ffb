package allocator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

func setupLabeler(t *testing.T) (*Labeler, *fixture) {
	t.Helper()
	f := setupFixture(t, 0, DefaultOptions())
	return NewLabeler(f.store, time.Minute, zap.NewNop(), nil), f
}

func TestLabeler_NextSkipsUsedLabels(t *testing.T) {
	l, f := setupLabeler(t)
	ctx := context.Background()

	for _, u := range []domain.Unit{
		{ID: "u1", Label: "BOX-001", Stage: domain.StagePrinted},
		{ID: "u2", Label: "BOX-003 (RE)", Stage: domain.StageUnprinted},
		{ID: "u3", Label: "SHELF-2", Stage: domain.StageUnprinted},
	} {
		require.NoError(t, f.store.Create(ctx, domain.CollectionUnits, string(u.ID), u))
	}

	labels, err := l.Next(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-002", "BOX-004", "BOX-005"}, labels)

	more, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-006"}, more, "reserved labels must not be handed out again")

	require.NoError(t, l.Unreserve(ctx, labels))
	again, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-002"}, again)
}

func TestLabeler_ConcurrentNextIsDistinct(t *testing.T) {
	l, _ := setupLabeler(t)

	const callers = 8
	results := make([][]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Next(context.Background(), 2)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		for _, label := range results[i] {
			assert.False(t, seen[label], "label %s handed out twice", label)
			seen[label] = true
		}
	}
	assert.Len(t, seen, callers*2)
}

func TestLabeler_HoldBlocksNumber(t *testing.T) {
	l, f := setupLabeler(t)
	ctx := context.Background()

	require.NoError(t, f.store.Create(ctx, domain.CollectionUnits, "u1",
		domain.Unit{ID: "u1", Label: "BOX-001", Stage: domain.StagePrinted}))
	require.NoError(t, l.Hold(ctx, "BOX-002 (RE)"))

	labels, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-003"}, labels, "a held rework label blocks its number")

	require.NoError(t, l.Unreserve(ctx, append(labels, "BOX-002 (RE)")))
	again, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-002"}, again)
}

func TestLabeler_ExpiredReservationsArePruned(t *testing.T) {
	l, _ := setupLabeler(t)
	ctx := context.Background()

	first, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-001"}, first)

	l.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	again, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-001"}, again, "an expired reservation no longer blocks its label")
}

func TestLabeler_Preview(t *testing.T) {
	l, f := setupLabeler(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, domain.CollectionUnits, "u1", domain.Unit{ID: "u1", Label: "BOX-002"}))

	plan, err := l.Preview(ctx, []int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"BOX-001", "BOX-003"}, {}, {"BOX-004"}}, plan)

	labels, err := l.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOX-001"}, labels, "preview must not reserve")
}

func TestLabeler_NextValidatesCount(t *testing.T) {
	l, _ := setupLabeler(t)
	_, err := l.Next(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseLabel(t *testing.T) {
	n, ok := parseLabel("BOX-042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = parseLabel("BOX-7 (RE)")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = parseLabel("box-001")
	assert.False(t, ok)
	_, ok = parseLabel("")
	assert.False(t, ok)

	assert.Equal(t, "BOX-1000", FormatLabel(1000))
}
