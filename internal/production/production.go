// Package production registers freshly printed units and handles defects.
//
// A registration uploads the model, finds or creates the part, claims storage
// for every unit and creates the units in one batch. Any failure after storage
// is claimed hands the storage back, so a failed registration leaves no units
// and no occupied boxes behind. The part record is kept.
package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/allocator"
	"github.com/thatjpcsguy/printtrack/internal/blob"
	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/filename"
	"github.com/thatjpcsguy/printtrack/internal/lifecycle"
	"github.com/thatjpcsguy/printtrack/internal/parts"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// Mode selects how new units get storage.
type Mode string

const (
	// ModeBox claims a box from the registry for every unit.
	ModeBox Mode = "box"
	// ModeLabel gives every unit the next free BOX-NNN label.
	ModeLabel Mode = "label"
)

// ParseMode parses a storage mode name.
func ParseMode(v string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(v))); m {
	case ModeBox, ModeLabel:
		return m, nil
	case "":
		return ModeBox, nil
	default:
		return "", fmt.Errorf("%w: unknown allocation mode %q", domain.ErrValidation, v)
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Parts     *parts.Registry
	Allocator *allocator.Allocator
	Labeler   *allocator.Labeler
	Units     *lifecycle.Service
	Blobs     blob.Store
	Mode      Mode
	Logger    *zap.Logger
	Tracer    trace.Tracer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs the registration, import and defect workflows.
type Service struct {
	Deps
}

// New creates a production service
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Mode == "" {
		deps.Mode = ModeBox
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{Deps: deps}
}

// Registration is the outcome of a successful registration.
type Registration struct {
	Part     domain.Part   `json:"part"`
	Units    []domain.Unit `json:"units"`
	ModelURL string        `json:"model_url"`
}

// claim is storage handed out for one registration.
type claim struct {
	boxes  []domain.Box
	labels []string
}

// RegisterPrinted uploads data as the model of partNumber and creates quantity
// units at stage, each with its own storage. An empty stage means printed.
func (s *Service) RegisterPrinted(ctx context.Context, data []byte, partNumber string, project domain.ProjectID, quantity int, stage domain.Stage) (Registration, error) {
	partNumber = strings.TrimSpace(partNumber)
	if stage == "" {
		stage = domain.StagePrinted
	}

	ctx, span := tracing.Start(ctx, s.Tracer, tracing.SpanRegister,
		attribute.String(tracing.AttrPartNumber, partNumber),
		attribute.String(tracing.AttrProjectID, string(project)),
		attribute.Int(tracing.AttrQuantity, quantity),
		attribute.String(tracing.AttrStage, string(stage)),
	)
	reg, err := s.register(ctx, data, partNumber, project, quantity, stage)
	tracing.End(span, err)
	return reg, err
}

func (s *Service) register(ctx context.Context, data []byte, partNumber string, project domain.ProjectID, quantity int, stage domain.Stage) (Registration, error) {
	if err := validateRegistration(partNumber, project, quantity, stage); err != nil {
		return Registration{}, domain.NewError("register", partNumber, err)
	}

	modelPath := blob.ModelPath(project, partNumber, s.Now().UnixMilli())
	modelURL, err := s.Blobs.Upload(ctx, modelPath, data)
	if err != nil {
		return Registration{}, err
	}

	part, err := s.Parts.GetOrCreate(ctx, partNumber, project)
	if err != nil {
		s.discardModel(ctx, modelPath)
		return Registration{}, err
	}

	ids := make([]domain.UnitID, quantity)
	for i := range ids {
		ids[i] = domain.NewUnitID()
	}

	c, err := s.claim(ctx, ids)
	if err != nil {
		s.discardModel(ctx, modelPath)
		return Registration{}, err
	}

	batch := make([]lifecycle.NewUnit, quantity)
	for i, id := range ids {
		batch[i] = lifecycle.NewUnit{
			ID:       id,
			PartID:   part.ID,
			Stage:    stage,
			ModelURL: modelURL,
		}
		if c.boxes != nil {
			batch[i].BoxID = c.boxes[i].ID
		} else {
			batch[i].Label = c.labels[i]
		}
	}

	units, err := s.Units.CreateBatch(ctx, batch)
	if err != nil {
		if relErr := s.unclaim(ctx, c); relErr != nil {
			err = errors.Join(err, relErr)
		}
		s.discardModel(ctx, modelPath)
		return Registration{}, err
	}
	if c.labels != nil {
		// The units now carry the labels, so the reservations are redundant.
		s.dropReservations(ctx, c.labels)
	}

	s.Logger.Info("registered printed units",
		zap.String("part_id", string(part.ID)),
		zap.String("part_number", partNumber),
		zap.String("project_id", string(project)),
		zap.Int("quantity", quantity),
		zap.String("model_url", modelURL),
	)
	return Registration{Part: part, Units: units, ModelURL: modelURL}, nil
}

// dropReservations releases label reservations that units now cover. Leftovers
// expire with the reservation TTL, so a failure is only logged.
func (s *Service) dropReservations(ctx context.Context, labels []string) {
	if err := s.Labeler.Unreserve(ctx, labels); err != nil {
		s.Logger.Warn("failed to drop label reservations", zap.Strings("labels", labels), zap.Error(err))
	}
}

// discardModel deletes a model uploaded by a registration that then failed.
// A failed delete is logged with the path so the blob can be removed by hand.
func (s *Service) discardModel(ctx context.Context, modelPath string) {
	if err := s.Blobs.Delete(context.WithoutCancel(ctx), modelPath); err != nil {
		s.Logger.Warn("failed to delete orphaned model", zap.String("path", modelPath), zap.Error(err))
	}
}

func validateRegistration(partNumber string, project domain.ProjectID, quantity int, stage domain.Stage) error {
	var errs []error
	if partNumber == "" {
		errs = append(errs, errors.New("empty part number"))
	}
	if project == "" {
		errs = append(errs, errors.New("empty project id"))
	}
	if !filename.ValidQuantity(quantity) {
		errs = append(errs, fmt.Errorf("quantity %d out of range 1-%d", quantity, filename.MaxQuantity))
	}
	if !stage.Valid() {
		errs = append(errs, fmt.Errorf("unknown stage %q", stage))
	} else if stage.ReleasesBox() {
		errs = append(errs, fmt.Errorf("cannot register units as %s", stage))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func (s *Service) claim(ctx context.Context, ids []domain.UnitID) (claim, error) {
	if s.Mode == ModeLabel {
		labels, err := s.Labeler.Next(ctx, len(ids))
		if err != nil {
			return claim{}, err
		}
		return claim{labels: labels}, nil
	}

	boxes, err := s.Allocator.AllocateMany(ctx, ids)
	if err != nil {
		return claim{}, err
	}
	return claim{boxes: boxes}, nil
}

func (s *Service) unclaim(ctx context.Context, c claim) error {
	if c.labels != nil {
		return s.Labeler.Unreserve(ctx, c.labels)
	}
	return s.Allocator.ReleaseAll(ctx, c.boxes)
}
