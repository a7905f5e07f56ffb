// Package registry owns the pool of storage boxes and their occupancy.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/store"
)

// Registry manages box records
type Registry struct {
	store  *store.Store
	logger *zap.Logger
}

// New creates a box registry over the document store
func New(s *store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: s, logger: logger}
}

// Provision creates boxes PREFIX-01 .. PREFIX-NN that do not exist yet.
// Existing boxes keep their occupancy. It returns the boxes it created.
func (r *Registry) Provision(ctx context.Context, count int, prefix string) ([]domain.Box, error) {
	if count < 1 {
		return nil, domain.NewError("provision boxes", "", fmt.Errorf("%w: count must be positive, got %d", domain.ErrValidation, count))
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	width := len(strconv.Itoa(count))
	if width < 2 {
		width = 2
	}

	var created []domain.Box
	err := r.store.RunTransaction(ctx, func(tx *store.Tx) error {
		created = created[:0]
		now := time.Now().UTC()
		for i := 1; i <= count; i++ {
			box := domain.Box{
				ID:         BoxID(prefix, i, width),
				Name:       boxName(i),
				LastUsedAt: now,
			}
			err := tx.Create(ctx, domain.CollectionBoxes, string(box.ID), box)
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}
			created = append(created, box)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision boxes: %w", err)
	}

	r.logger.Info("provisioned boxes",
		zap.String("prefix", prefix),
		zap.Int("requested", count),
		zap.Int("created", len(created)),
	)
	return created, nil
}

// List returns every box ordered by id
func (r *Registry) List(ctx context.Context) ([]domain.Box, error) {
	docs, err := r.store.Query(ctx, domain.CollectionBoxes)
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	return decodeBoxes(docs)
}

// ListAvailable returns the free boxes ordered by id
func (r *Registry) ListAvailable(ctx context.Context) ([]domain.Box, error) {
	docs, err := r.store.Query(ctx, domain.CollectionBoxes, store.Eq("is_occupied", false))
	if err != nil {
		return nil, fmt.Errorf("failed to list available boxes: %w", err)
	}
	return decodeBoxes(docs)
}

// Get returns a box by id
func (r *Registry) Get(ctx context.Context, id domain.BoxID) (domain.Box, error) {
	return getBox(ctx, r.store, id)
}

// GetTx returns a box by id as seen by the transaction
func (r *Registry) GetTx(ctx context.Context, tx *store.Tx, id domain.BoxID) (domain.Box, error) {
	return getBox(ctx, tx, id)
}

func getBox(ctx context.Context, q store.Querier, id domain.BoxID) (domain.Box, error) {
	var b domain.Box
	err := q.Get(ctx, domain.CollectionBoxes, string(id), &b)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Box{}, domain.NewError("get box", string(id), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Box{}, fmt.Errorf("failed to get box: %w", err)
	}
	return b, nil
}

// MarkOccupied re-reads the box inside tx and assigns it to unitID.
// It fails with domain.ErrConflict if another unit holds the box.
func (r *Registry) MarkOccupied(ctx context.Context, tx *store.Tx, id domain.BoxID, unitID domain.UnitID) (domain.Box, error) {
	b, err := getBox(ctx, tx, id)
	if err != nil {
		return domain.Box{}, err
	}

	if b.IsOccupied {
		if b.CurrentUnitID == unitID {
			return b, nil
		}
		return domain.Box{}, domain.NewError("occupy box", string(id), domain.ErrConflict)
	}

	b.IsOccupied = true
	b.CurrentUnitID = unitID
	b.LastUsedAt = time.Now().UTC()
	if err := tx.Set(ctx, domain.CollectionBoxes, string(id), b); err != nil {
		return domain.Box{}, fmt.Errorf("failed to occupy box: %w", err)
	}
	return b, nil
}

// MarkFree frees the box inside tx. With an empty holder the box is freed
// whoever occupies it; otherwise only if holder still occupies it.
// It returns the box as it was before and whether it was freed.
func (r *Registry) MarkFree(ctx context.Context, tx *store.Tx, id domain.BoxID, holder domain.UnitID) (domain.Box, bool, error) {
	b, err := getBox(ctx, tx, id)
	if err != nil {
		return domain.Box{}, false, err
	}

	if !b.IsOccupied {
		return b, false, nil
	}
	if holder != "" && b.CurrentUnitID != holder {
		return b, false, nil
	}

	freed := b
	freed.IsOccupied = false
	freed.CurrentUnitID = ""
	freed.LastUsedAt = time.Now().UTC()
	if err := tx.Set(ctx, domain.CollectionBoxes, string(id), freed); err != nil {
		return domain.Box{}, false, fmt.Errorf("failed to free box: %w", err)
	}
	return b, true, nil
}

// Status returns every box joined with the unit and part occupying it
func (r *Registry) Status(ctx context.Context) ([]domain.BoxStatus, error) {
	boxes, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	partNumbers := make(map[domain.PartID]string)
	statuses := make([]domain.BoxStatus, 0, len(boxes))
	for _, b := range boxes {
		st := domain.BoxStatus{Box: b}
		if !b.IsOccupied {
			statuses = append(statuses, st)
			continue
		}

		st.UnitID = b.CurrentUnitID
		var u domain.Unit
		err := r.store.Get(ctx, domain.CollectionUnits, string(b.CurrentUnitID), &u)
		if errors.Is(err, store.ErrNotFound) {
			// Allocated but the unit was never created.
			statuses = append(statuses, st)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load unit for box %s: %w", b.ID, err)
		}
		st.Stage = u.Stage

		number, ok := partNumbers[u.PartID]
		if !ok {
			var p domain.Part
			if err := r.store.Get(ctx, domain.CollectionParts, string(u.PartID), &p); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("failed to load part for box %s: %w", b.ID, err)
			}
			number = p.PartNumber
			partNumbers[u.PartID] = number
		}
		st.PartNumber = number
		statuses = append(statuses, st)
	}
	return statuses, nil
}
