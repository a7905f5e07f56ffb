package domain

import (
	"fmt"
	"strings"
)

// Stage is a production stage of a unit.
type Stage string

// Production stages in order. Defective is a side branch outside the order.
const (
	StageUnprinted        Stage = "UNPRINTED"
	StagePrinted          Stage = "PRINTED"
	StageCutting          Stage = "CUTTING"
	StageSurfaceTreatment Stage = "SURFACE_TREATMENT"
	StagePainting         Stage = "PAINTING"
	StageAssembled        Stage = "ASSEMBLED"
	StageDefective        Stage = "DEFECTIVE"
)

var stageOrder = []Stage{
	StageUnprinted,
	StagePrinted,
	StageCutting,
	StageSurfaceTreatment,
	StagePainting,
	StageAssembled,
}

// Stages returns the ordered production stages followed by Defective.
func Stages() []Stage {
	out := make([]Stage, 0, len(stageOrder)+1)
	out = append(out, stageOrder...)
	return append(out, StageDefective)
}

// Index returns the position of s in the production order, or -1 for Defective
// and unknown stages.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageDefective || s.Index() >= 0
}

// ReleasesBox reports whether entering s frees the unit's box.
func (s Stage) ReleasesBox() bool {
	return s == StageAssembled || s == StageDefective
}

// Before reports whether s comes earlier than other in the production order.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// ParseStage parses a stage name case-insensitively. READY is accepted as ASSEMBLED.
func ParseStage(v string) (Stage, error) {
	name := strings.ToUpper(strings.TrimSpace(v))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "READY" {
		return StageAssembled, nil
	}
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrValidation, v)
	}
	return s, nil
}
