// Package allocator hands out free storage boxes to units.
//
// Allocation reads a snapshot of free boxes outside any transaction, then
// claims one candidate inside a transaction that re-reads it. A candidate taken
// in between is a conflict and the claim is retried with a fresh snapshot.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/registry"
	"github.com/thatjpcsguy/printtrack/internal/store"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// Strategy selects a candidate among the free boxes.
type Strategy string

const (
	// StrategyFirst takes the lowest free box id.
	StrategyFirst Strategy = "first"
	// StrategyRandom spreads concurrent allocators over the free boxes.
	StrategyRandom Strategy = "random"
)

// Options tunes allocation retries.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Strategy       Strategy
}

// DefaultOptions returns three attempts with short jittered backoff.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Strategy:       StrategyRandom,
	}
}

// Allocator assigns boxes to units
type Allocator struct {
	store  *store.Store
	boxes  *registry.Registry
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates an allocator. Zero option fields fall back to DefaultOptions.
func New(s *store.Store, boxes *registry.Registry, opts Options, logger *zap.Logger, tracer trace.Tracer) *Allocator {
	def := DefaultOptions()
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.Strategy == "" {
		opts.Strategy = def.Strategy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{store: s, boxes: boxes, opts: opts, logger: logger, tracer: tracer}
}

// AllocateOne claims a free box for unitID.
//
// It fails with domain.ErrNoCapacity when no box is free. When every attempt
// loses its candidate to a concurrent allocation the error matches both
// domain.ErrNoCapacity and domain.ErrConflict.
func (a *Allocator) AllocateOne(ctx context.Context, unitID domain.UnitID) (domain.Box, error) {
	ctx, span := tracing.Start(ctx, a.tracer, tracing.SpanAllocate, attribute.String(tracing.AttrUnitID, string(unitID)))

	attempt := 0
	op := func() (domain.Box, error) {
		attempt++

		free, err := a.boxes.ListAvailable(ctx)
		if err != nil {
			return domain.Box{}, backoff.Permanent(err)
		}
		if len(free) == 0 {
			return domain.Box{}, backoff.Permanent(domain.NewError("allocate box", string(unitID), domain.ErrNoCapacity))
		}

		candidate := a.pick(free)
		var box domain.Box
		err = a.store.RunTransaction(ctx, func(tx *store.Tx) error {
			var err error
			box, err = a.boxes.MarkOccupied(ctx, tx, candidate.ID, unitID)
			return err
		})
		if errors.Is(err, domain.ErrConflict) {
			a.logger.Debug("box taken by concurrent allocation",
				zap.String("box_id", string(candidate.ID)),
				zap.String("unit_id", string(unitID)),
				zap.Int("attempt", attempt),
			)
			span.AddEvent(tracing.EventConflictRetry, trace.WithAttributes(
				attribute.String(tracing.AttrBoxID, string(candidate.ID)),
				attribute.Int(tracing.AttrAttempt, attempt),
			))
			return domain.Box{}, err
		}
		if err != nil {
			return domain.Box{}, backoff.Permanent(err)
		}
		return box, nil
	}

	box, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(a.newBackOff()),
		backoff.WithMaxTries(uint(a.opts.MaxAttempts)),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, domain.ErrConflict) {
			err = domain.NewError("allocate box", string(unitID), errors.Join(domain.ErrNoCapacity, err))
		}
		tracing.End(span, err)
		return domain.Box{}, err
	}

	span.SetAttributes(attribute.String(tracing.AttrBoxID, string(box.ID)))
	tracing.End(span, nil)
	a.logger.Info("allocated box",
		zap.String("box_id", string(box.ID)),
		zap.String("unit_id", string(unitID)),
		zap.Int("attempts", attempt),
	)
	return box, nil
}

// AllocateMany claims one box per unit id, in order. If any claim fails every
// box claimed by this call is released and the first error is returned.
func (a *Allocator) AllocateMany(ctx context.Context, unitIDs []domain.UnitID) ([]domain.Box, error) {
	ctx, span := tracing.Start(ctx, a.tracer, tracing.SpanAllocateMany, attribute.Int(tracing.AttrQuantity, len(unitIDs)))

	boxes := make([]domain.Box, 0, len(unitIDs))
	for _, unitID := range unitIDs {
		box, err := a.AllocateOne(ctx, unitID)
		if err != nil {
			if rbErr := a.releaseAll(ctx, boxes); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			tracing.End(span, err)
			return nil, err
		}
		boxes = append(boxes, box)
	}

	tracing.End(span, nil)
	return boxes, nil
}

// ReleaseAll frees boxes still held by the units they were allocated to.
// It runs even if ctx is already cancelled.
func (a *Allocator) ReleaseAll(ctx context.Context, boxes []domain.Box) error {
	return a.releaseAll(ctx, boxes)
}

func (a *Allocator) releaseAll(ctx context.Context, boxes []domain.Box) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, b := range boxes {
		if err := a.ReleaseHeld(ctx, b.ID, b.CurrentUnitID); err != nil {
			a.logger.Error("failed to release box during rollback",
				zap.String("box_id", string(b.ID)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Release frees a box whoever occupies it. Releasing a free box is a no-op.
// A unit still pointing at the box has its box cleared in the same transaction.
func (a *Allocator) Release(ctx context.Context, boxID domain.BoxID) error {
	return a.free(ctx, boxID, "")
}

// ReleaseHeld frees a box only while unitID still occupies it.
func (a *Allocator) ReleaseHeld(ctx context.Context, boxID domain.BoxID, unitID domain.UnitID) error {
	if unitID == "" {
		return domain.NewError("release box", string(boxID), fmt.Errorf("%w: empty unit id", domain.ErrValidation))
	}
	return a.free(ctx, boxID, unitID)
}

func (a *Allocator) free(ctx context.Context, boxID domain.BoxID, holder domain.UnitID) error {
	ctx, span := tracing.Start(ctx, a.tracer, tracing.SpanRelease, attribute.String(tracing.AttrBoxID, string(boxID)))

	var prev domain.Box
	var freed bool
	err := a.store.RunTransaction(ctx, func(tx *store.Tx) error {
		var err error
		prev, freed, err = a.boxes.MarkFree(ctx, tx, boxID, holder)
		if err != nil || !freed {
			return err
		}
		return detachUnit(ctx, tx, prev.CurrentUnitID, boxID)
	})
	tracing.End(span, err)
	if err != nil {
		return err
	}

	if freed {
		a.logger.Info("released box",
			zap.String("box_id", string(boxID)),
			zap.String("unit_id", string(prev.CurrentUnitID)),
		)
	}
	return nil
}

// detachUnit clears the box of a unit that still points at boxID.
func detachUnit(ctx context.Context, tx *store.Tx, unitID domain.UnitID, boxID domain.BoxID) error {
	if unitID == "" {
		return nil
	}

	var u domain.Unit
	err := tx.Get(ctx, domain.CollectionUnits, string(unitID), &u)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load unit %s: %w", unitID, err)
	}
	if u.BoxID != boxID {
		return nil
	}

	return tx.Update(ctx, domain.CollectionUnits, string(unitID), map[string]any{
		"box_id":     nil,
		"updated_at": time.Now().UTC(),
	})
}

// Preview simulates allocating quantities[i] boxes for each request in turn
// over the current free snapshot. It writes nothing. A request that cannot be
// fully served gets a shorter slice.
func (a *Allocator) Preview(ctx context.Context, quantities []int) ([][]domain.BoxID, error) {
	free, err := a.boxes.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	out := make([][]domain.BoxID, len(quantities))
	next := 0
	for i, qty := range quantities {
		ids := make([]domain.BoxID, 0, max(qty, 0))
		for j := 0; j < qty && next < len(free); j++ {
			ids = append(ids, free[next].ID)
			next++
		}
		out[i] = ids
	}
	return out, nil
}

func (a *Allocator) pick(free []domain.Box) domain.Box {
	if a.opts.Strategy == StrategyFirst || len(free) == 1 {
		return free[0]
	}
	return free[rand.IntN(len(free))]
}

func (a *Allocator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.InitialBackoff
	b.MaxInterval = a.opts.MaxBackoff
	b.RandomizationFactor = 0.5
	return b
}
