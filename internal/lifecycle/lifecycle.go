// Package lifecycle moves units through the production stages.
//
// Entering a terminal stage (assembled or defective) frees the unit's box in the
// same transaction as the stage write, so a box is never held by a finished unit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/registry"
	"github.com/thatjpcsguy/printtrack/internal/store"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// Service manages units
type Service struct {
	store  *store.Store
	boxes  *registry.Registry
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a lifecycle service
func New(s *store.Store, boxes *registry.Registry, logger *zap.Logger, tracer trace.Tracer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, boxes: boxes, logger: logger, tracer: tracer}
}

// NewUnit describes a unit to create. An empty ID is generated and an empty
// Stage means unprinted.
type NewUnit struct {
	ID       domain.UnitID
	PartID   domain.PartID
	BoxID    domain.BoxID
	Label    string
	Stage    domain.Stage
	ModelURL string
	ReworkOf domain.UnitID
}

// Create creates one unit
func (s *Service) Create(ctx context.Context, nu NewUnit) (domain.Unit, error) {
	units, err := s.CreateBatch(ctx, []NewUnit{nu})
	if err != nil {
		return domain.Unit{}, err
	}
	return units[0], nil
}

// CreateBatch creates all units in one transaction. A box-backed unit must
// already occupy its box; otherwise the batch fails with domain.ErrConflict
// and no unit is written.
func (s *Service) CreateBatch(ctx context.Context, batch []NewUnit) ([]domain.Unit, error) {
	now := time.Now().UTC()
	units := make([]domain.Unit, 0, len(batch))
	for _, nu := range batch {
		u, err := newUnit(nu, now)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	err := s.store.RunTransaction(ctx, func(tx *store.Tx) error {
		for _, u := range units {
			if u.BoxID != "" {
				b, err := s.boxes.GetTx(ctx, tx, u.BoxID)
				if err != nil {
					return err
				}
				if !b.IsOccupied || b.CurrentUnitID != u.ID {
					return domain.NewError("create unit", string(u.ID), fmt.Errorf("%w: box %s is not held by this unit", domain.ErrConflict, u.BoxID))
				}
			}
			if err := tx.Create(ctx, domain.CollectionUnits, string(u.ID), u); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					return domain.NewError("create unit", string(u.ID), domain.ErrConflict)
				}
				return fmt.Errorf("failed to create unit: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, u := range units {
		s.logger.Info("created unit",
			zap.String("unit_id", string(u.ID)),
			zap.String("part_id", string(u.PartID)),
			zap.String("storage", u.Storage()),
			zap.String("stage", string(u.Stage)),
		)
	}
	return units, nil
}

func newUnit(nu NewUnit, now time.Time) (domain.Unit, error) {
	if nu.ID == "" {
		nu.ID = domain.NewUnitID()
	}
	if nu.Stage == "" {
		nu.Stage = domain.StageUnprinted
	}
	if nu.PartID == "" {
		return domain.Unit{}, domain.NewError("create unit", string(nu.ID), fmt.Errorf("%w: missing part id", domain.ErrValidation))
	}
	if !nu.Stage.Valid() {
		return domain.Unit{}, domain.NewError("create unit", string(nu.ID), fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, nu.Stage))
	}
	if nu.BoxID != "" && nu.Label != "" {
		return domain.Unit{}, domain.NewError("create unit", string(nu.ID), fmt.Errorf("%w: unit cannot have both a box and a label", domain.ErrValidation))
	}
	if nu.Stage.ReleasesBox() && (nu.BoxID != "" || nu.Label != "") {
		return domain.Unit{}, domain.NewError("create unit", string(nu.ID), fmt.Errorf("%w: a %s unit cannot hold storage", domain.ErrValidation, nu.Stage))
	}

	u := domain.Unit{
		ID:        nu.ID,
		PartID:    nu.PartID,
		BoxID:     nu.BoxID,
		Label:     nu.Label,
		Stage:     nu.Stage,
		ModelURL:  nu.ModelURL,
		ReworkOf:  nu.ReworkOf,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u.Stage == domain.StageAssembled {
		u.CompletedAt = &now
	}
	return u, nil
}

// Get returns a unit by id
func (s *Service) Get(ctx context.Context, id domain.UnitID) (domain.Unit, error) {
	return getUnit(ctx, s.store, id)
}

func getUnit(ctx context.Context, q store.Querier, id domain.UnitID) (domain.Unit, error) {
	var u domain.Unit
	err := q.Get(ctx, domain.CollectionUnits, string(id), &u)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Unit{}, domain.NewError("get unit", string(id), domain.ErrNotFound)
	}
	if err != nil {
		return domain.Unit{}, fmt.Errorf("failed to get unit: %w", err)
	}
	return u, nil
}

// List returns every unit ordered by id
func (s *Service) List(ctx context.Context) ([]domain.Unit, error) {
	return s.query(ctx)
}

// ListByPart returns the units of a part
func (s *Service) ListByPart(ctx context.Context, partID domain.PartID) ([]domain.Unit, error) {
	return s.query(ctx, store.Eq("part_id", partID))
}

// ListByProject returns the units of every part in project
func (s *Service) ListByProject(ctx context.Context, project domain.ProjectID) ([]domain.Unit, error) {
	docs, err := s.store.Query(ctx, domain.CollectionParts, store.Eq("project_id", project))
	if err != nil {
		return nil, fmt.Errorf("failed to list project parts: %w", err)
	}

	var units []domain.Unit
	for _, d := range docs {
		byPart, err := s.ListByPart(ctx, domain.PartID(d.ID))
		if err != nil {
			return nil, err
		}
		units = append(units, byPart...)
	}
	return units, nil
}

func (s *Service) query(ctx context.Context, where ...store.Where) ([]domain.Unit, error) {
	docs, err := s.store.Query(ctx, domain.CollectionUnits, where...)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}

	units := make([]domain.Unit, 0, len(docs))
	for _, d := range docs {
		var u domain.Unit
		if err := d.Decode(&u); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// Transition moves a unit to next. Any stage may follow any stage.
func (s *Service) Transition(ctx context.Context, id domain.UnitID, next domain.Stage) (domain.Unit, error) {
	if !next.Valid() {
		return domain.Unit{}, domain.NewError("transition unit", string(id), fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, next))
	}
	return s.update(ctx, id, next, func(u *domain.Unit) error { return nil })
}

// Consume marks a unit as assembled into the final product.
func (s *Service) Consume(ctx context.Context, id domain.UnitID) (domain.Unit, error) {
	return s.Transition(ctx, id, domain.StageAssembled)
}

// MarkDefective moves a unit to defective and records why. Units that are
// already assembled or defective are rejected with domain.ErrValidation.
func (s *Service) MarkDefective(ctx context.Context, id domain.UnitID, reason string) (domain.Unit, error) {
	return s.update(ctx, id, domain.StageDefective, func(u *domain.Unit) error {
		if u.Stage == domain.StageAssembled || u.Stage == domain.StageDefective {
			return domain.NewError("report defect", string(id), fmt.Errorf("%w: unit is already %s", domain.ErrValidation, u.Stage))
		}
		u.DefectReason = reason
		return nil
	})
}

// update applies next to the unit inside one transaction. check runs on the
// unit as currently stored before the stage changes.
func (s *Service) update(ctx context.Context, id domain.UnitID, next domain.Stage, check func(u *domain.Unit) error) (domain.Unit, error) {
	ctx, span := tracing.Start(ctx, s.tracer, tracing.SpanTransition,
		attribute.String(tracing.AttrUnitID, string(id)),
		attribute.String(tracing.AttrStage, string(next)),
	)

	var (
		before domain.Unit
		after  domain.Unit
	)
	err := s.store.RunTransaction(ctx, func(tx *store.Tx) error {
		u, err := getUnit(ctx, tx, id)
		if err != nil {
			return err
		}
		before = u

		if err := check(&u); err != nil {
			return err
		}
		if err := s.applyStage(ctx, tx, &u, next); err != nil {
			return err
		}
		if err := tx.Set(ctx, domain.CollectionUnits, string(id), u); err != nil {
			return fmt.Errorf("failed to save unit: %w", err)
		}
		after = u
		return nil
	})
	tracing.End(span, err)
	if err != nil {
		return domain.Unit{}, err
	}

	fields := []zap.Field{
		zap.String("unit_id", string(id)),
		zap.String("from", string(before.Stage)),
		zap.String("to", string(after.Stage)),
	}
	if before.Storage() != after.Storage() {
		fields = append(fields, zap.String("released", before.Storage()))
	}
	s.logger.Info("transitioned unit", fields...)
	return after, nil
}

func (s *Service) applyStage(ctx context.Context, tx *store.Tx, u *domain.Unit, next domain.Stage) error {
	now := time.Now().UTC()

	if next.ReleasesBox() {
		if u.BoxID != "" {
			_, _, err := s.boxes.MarkFree(ctx, tx, u.BoxID, u.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		u.BoxID = ""
		u.Label = ""
	}

	u.Stage = next
	u.UpdatedAt = now
	if next == domain.StageAssembled {
		u.CompletedAt = &now
	} else {
		u.CompletedAt = nil
	}
	return nil
}
