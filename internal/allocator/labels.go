package allocator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/store"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// DefaultReservationTTL is how long an unconsumed label reservation blocks its number.
const DefaultReservationTTL = 10 * time.Minute

// labelNumber matches the numbered prefix of a storage-case label, so a rework
// label such as "BOX-007 (RE)" still blocks number 7.
var labelNumber = regexp.MustCompile(`^BOX-(\d+)`)

// FormatLabel returns the storage-case label for n.
func FormatLabel(n int) string {
	return fmt.Sprintf("BOX-%03d", n)
}

type reservation struct {
	Label      string    `json:"label"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Labeler hands out storage-case labels for deployments without a provisioned
// box pool. Labels are free-form strings on units; the lowest unused number wins.
type Labeler struct {
	store  *store.Store
	ttl    time.Duration
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewLabeler creates a labeler. A non-positive ttl uses DefaultReservationTTL.
func NewLabeler(s *store.Store, ttl time.Duration, logger *zap.Logger, tracer trace.Tracer) *Labeler {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Labeler{store: s, ttl: ttl, logger: logger, tracer: tracer, now: time.Now}
}

// Next reserves the n lowest unused labels. The scan and the reservation share
// one transaction, so concurrent callers never receive the same label.
// Reservations should be dropped with Unreserve once units carry the labels.
func (l *Labeler) Next(ctx context.Context, n int) ([]string, error) {
	if n < 1 {
		return nil, domain.NewError("reserve labels", "", fmt.Errorf("%w: count must be positive, got %d", domain.ErrValidation, n))
	}

	ctx, span := tracing.Start(ctx, l.tracer, tracing.SpanReserveLabels, attribute.Int(tracing.AttrQuantity, n))

	var labels []string
	err := l.store.RunTransaction(ctx, func(tx *store.Tx) error {
		used, err := l.usedNumbers(ctx, tx, true)
		if err != nil {
			return err
		}

		labels = nextLabels(used, n)
		now := l.now().UTC()
		for _, label := range labels {
			if err := tx.Set(ctx, domain.CollectionLabels, label, reservation{Label: label, ReservedAt: now}); err != nil {
				return fmt.Errorf("failed to reserve label %s: %w", label, err)
			}
		}
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}

	l.logger.Info("reserved labels", zap.Strings("labels", labels))
	return labels, nil
}

// Preview simulates Next for each quantity in turn without reserving anything.
func (l *Labeler) Preview(ctx context.Context, quantities []int) ([][]string, error) {
	used, err := l.usedNumbers(ctx, l.store, false)
	if err != nil {
		return nil, err
	}

	out := make([][]string, len(quantities))
	for i, qty := range quantities {
		if qty < 1 {
			out[i] = []string{}
			continue
		}
		labels := make([]string, 0, qty)
		for _, num := range nextNumbers(used, qty) {
			used[num] = true
			labels = append(labels, FormatLabel(num))
		}
		out[i] = labels
	}
	return out, nil
}

// Hold reserves specific labels, such as a rework label derived from a label
// that is about to be released. Their numbers stay blocked for Next until
// Unreserve or the reservation TTL.
func (l *Labeler) Hold(ctx context.Context, labels ...string) error {
	if len(labels) == 0 {
		return nil
	}
	now := l.now().UTC()
	err := l.store.RunTransaction(ctx, func(tx *store.Tx) error {
		for _, label := range labels {
			if err := tx.Set(ctx, domain.CollectionLabels, label, reservation{Label: label, ReservedAt: now}); err != nil {
				return fmt.Errorf("failed to hold label %s: %w", label, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Debug("held labels", zap.Strings("labels", labels))
	return nil
}

// Unreserve drops label reservations. Missing reservations are ignored.
func (l *Labeler) Unreserve(ctx context.Context, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	return l.store.RunTransaction(ctx, func(tx *store.Tx) error {
		for _, label := range labels {
			if err := tx.Delete(ctx, domain.CollectionLabels, label); err != nil {
				return err
			}
		}
		return nil
	})
}

// usedNumbers collects the label numbers held by units and by live reservations.
// With prune set, expired reservations are deleted.
func (l *Labeler) usedNumbers(ctx context.Context, q store.Querier, prune bool) (map[int]bool, error) {
	used := make(map[int]bool)

	units, err := q.Query(ctx, domain.CollectionUnits)
	if err != nil {
		return nil, fmt.Errorf("failed to scan unit labels: %w", err)
	}
	for _, d := range units {
		var u domain.Unit
		if err := d.Decode(&u); err != nil {
			return nil, err
		}
		if n, ok := parseLabel(u.Label); ok {
			used[n] = true
		}
	}

	reservations, err := q.Query(ctx, domain.CollectionLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to scan label reservations: %w", err)
	}
	cutoff := l.now().UTC().Add(-l.ttl)
	for _, d := range reservations {
		var r reservation
		if err := d.Decode(&r); err != nil {
			return nil, err
		}
		if r.ReservedAt.Before(cutoff) {
			if prune {
				if err := q.Delete(ctx, domain.CollectionLabels, d.ID); err != nil {
					return nil, err
				}
			}
			continue
		}
		if n, ok := parseLabel(r.Label); ok {
			used[n] = true
		}
	}

	return used, nil
}

func nextLabels(used map[int]bool, n int) []string {
	labels := make([]string, 0, n)
	for _, num := range nextNumbers(used, n) {
		labels = append(labels, FormatLabel(num))
	}
	return labels
}

// nextNumbers returns the n lowest numbers, starting at 1, not in used.
func nextNumbers(used map[int]bool, n int) []int {
	nums := make([]int, 0, n)
	for num := 1; len(nums) < n; num++ {
		if !used[num] {
			nums = append(nums, num)
		}
	}
	return nums
}

func parseLabel(label string) (int, bool) {
	m := labelNumber.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
