package production

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/lifecycle"
	"github.com/thatjpcsguy/printtrack/internal/tracing"
)

// ReworkSuffix marks the label of a unit reprinted after a defect.
const ReworkSuffix = " (RE)"

// DefectReport is the outcome of ReportDefect.
type DefectReport struct {
	Defective domain.Unit  `json:"defective"`
	Rework    *domain.Unit `json:"rework,omitempty"`
}

// ReportDefect marks a unit defective and creates an unprinted replacement for
// the same part. The defect is kept even if the replacement cannot be created;
// in that case the report carries no rework unit and the error wraps
// domain.ErrReworkCreationFailed.
func (s *Service) ReportDefect(ctx context.Context, id domain.UnitID, reason string) (DefectReport, error) {
	ctx, span := tracing.Start(ctx, s.Tracer, tracing.SpanReportDefect, attribute.String(tracing.AttrUnitID, string(id)))
	report, err := s.reportDefect(ctx, id, strings.TrimSpace(reason))
	tracing.End(span, err)
	return report, err
}

func (s *Service) reportDefect(ctx context.Context, id domain.UnitID, reason string) (DefectReport, error) {
	original, err := s.Units.Get(ctx, id)
	if err != nil {
		return DefectReport{}, err
	}

	// The rework label keeps the original's number. Hold it before the
	// defect clears the original label so Next cannot hand the number out.
	if original.Label != "" {
		held := []string{reworkLabel(original.Label)}
		if err := s.Labeler.Hold(ctx, held...); err != nil {
			return DefectReport{}, domain.NewError("report defect", string(id), err)
		}
		defer s.dropReservations(ctx, held)
	}

	defective, err := s.Units.MarkDefective(ctx, id, reason)
	if err != nil {
		return DefectReport{}, err
	}
	report := DefectReport{Defective: defective}

	s.Logger.Info("reported defect",
		zap.String("unit_id", string(id)),
		zap.String("reason", reason),
		zap.String("released", original.Storage()),
	)

	rework, err := s.createRework(ctx, original)
	if err != nil {
		s.Logger.Error("failed to create rework unit", zap.String("unit_id", string(id)), zap.Error(err))
		return report, domain.NewError("report defect", string(id), errors.Join(domain.ErrReworkCreationFailed, err))
	}
	report.Rework = &rework
	return report, nil
}

// createRework creates the replacement unit. A unit that carried a label gets
// the same label with ReworkSuffix; otherwise it follows the service mode.
func (s *Service) createRework(ctx context.Context, original domain.Unit) (domain.Unit, error) {
	nu := lifecycle.NewUnit{
		ID:       domain.NewUnitID(),
		PartID:   original.PartID,
		Stage:    domain.StageUnprinted,
		ModelURL: original.ModelURL,
		ReworkOf: original.ID,
	}

	switch {
	case original.Label != "":
		nu.Label = reworkLabel(original.Label)
		return s.Units.Create(ctx, nu)

	case s.Mode == ModeLabel:
		labels, err := s.Labeler.Next(ctx, 1)
		if err != nil {
			return domain.Unit{}, err
		}
		nu.Label = labels[0]
		u, err := s.Units.Create(ctx, nu)
		s.dropReservations(ctx, labels)
		return u, err

	default:
		box, err := s.Allocator.AllocateOne(ctx, nu.ID)
		if err != nil {
			return domain.Unit{}, err
		}
		nu.BoxID = box.ID
		u, err := s.Units.Create(ctx, nu)
		if err != nil {
			if relErr := s.Allocator.ReleaseAll(ctx, []domain.Box{box}); relErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to release box %s: %w", box.ID, relErr))
			}
			return domain.Unit{}, err
		}
		return u, nil
	}
}

func reworkLabel(label string) string {
	return label + ReworkSuffix
}
