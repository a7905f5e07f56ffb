package domain

import (
	"time"

	"github.com/google/uuid"
)

// Identifier types. They are opaque strings; distinct types keep a box id from
// being passed where a unit id is expected.
type (
	BoxID       string
	PartID      string
	UnitID      string
	ProjectID   string
	UnitGroupID string
)

// Document store collections.
const (
	CollectionBoxes  = "boxes"
	CollectionParts  = "parts"
	CollectionUnits  = "units"
	CollectionLabels = "labels"
)

// partNamespace scopes deterministic part ids.
var partNamespace = uuid.MustParse("6f1c2a0e-4b8d-5e3a-9c71-2d4f8a6b0e15")

// Box is a physical storage slot that holds at most one unit.
type Box struct {
	ID            BoxID     `json:"id"`
	Name          string    `json:"name,omitempty"`
	IsOccupied    bool      `json:"is_occupied"`
	CurrentUnitID UnitID    `json:"current_unit_id,omitempty"`
	LastUsedAt    time.Time `json:"last_used_at"`
}

// Free reports whether the box can take a unit.
func (b Box) Free() bool {
	return !b.IsOccupied
}

// Part is a design to be manufactured, unique per project and part number.
type Part struct {
	ID          PartID      `json:"id"`
	PartNumber  string      `json:"part_number"`
	ProjectID   ProjectID   `json:"project_id"`
	UnitGroupID UnitGroupID `json:"unit_group_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Unit is one physical copy of a part moving through production.
type Unit struct {
	ID           UnitID     `json:"id"`
	PartID       PartID     `json:"part_id"`
	BoxID        BoxID      `json:"box_id,omitempty"`
	Label        string     `json:"label,omitempty"`
	Stage        Stage      `json:"stage"`
	ModelURL     string     `json:"model_url,omitempty"`
	DefectReason string     `json:"defect_reason,omitempty"`
	ReworkOf     UnitID     `json:"rework_of,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Storage returns the box id, or the legacy label when the unit has no box.
func (u Unit) Storage() string {
	if u.BoxID != "" {
		return string(u.BoxID)
	}
	return u.Label
}

// ProgressRow summarises the units of one part.
type ProgressRow struct {
	PartID      PartID        `json:"part_id"`
	PartNumber  string        `json:"part_number"`
	Stage       Stage         `json:"stage"`
	Boxes       []string      `json:"boxes"`
	Count       int           `json:"count"`
	StageCounts map[Stage]int `json:"stage_counts"`
}

// BoxStatus is a box joined with the unit that occupies it.
type BoxStatus struct {
	Box        Box    `json:"box"`
	UnitID     UnitID `json:"unit_id,omitempty"`
	PartNumber string `json:"part_number,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
}

// NewUnitID returns a fresh random unit id.
func NewUnitID() UnitID {
	return UnitID(uuid.NewString())
}

// PartIDFor derives the part id for a project and part number.
func PartIDFor(project ProjectID, partNumber string) PartID {
	return PartID(uuid.NewSHA1(partNamespace, []byte(string(project)+"\x00"+partNumber)).String())
}
