package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

func TestAggregateProgress(t *testing.T) {
	ready, err := domain.ParseStage("READY")
	require.NoError(t, err)

	parts := []domain.Part{
		{ID: "p1", PartNumber: "BRACKET"},
		{ID: "p2", PartNumber: "COVER"},
		{ID: "p3", PartNumber: "HINGE"},
		{ID: "p4", PartNumber: "KNOB"},
	}
	units := []domain.Unit{
		{ID: "u1", PartID: "p1", Stage: domain.StagePrinted, BoxID: "BOX-01"},
		{ID: "u2", PartID: "p1", Stage: domain.StageCutting, BoxID: "BOX-02"},
		{ID: "u3", PartID: "p1", Stage: ready},
		{ID: "u4", PartID: "p3", Stage: domain.StageDefective},
		{ID: "u5", PartID: "p4", Stage: domain.StageDefective},
		{ID: "u6", PartID: "p4", Stage: domain.StagePainting, Label: "BOX-007 (RE)"},
		{ID: "u7", PartID: "p4", Stage: domain.StagePainting, Label: "BOX-007 (RE)"},
	}

	rows := AggregateProgress(parts, units)
	require.Len(t, rows, 4)

	assert.Equal(t, "BRACKET", rows[0].PartNumber)
	assert.Equal(t, domain.StagePrinted, rows[0].Stage)
	assert.Equal(t, 3, rows[0].Count)
	assert.Equal(t, []string{"BOX-01", "BOX-02"}, rows[0].Boxes)
	assert.Equal(t, map[domain.Stage]int{
		domain.StagePrinted:   1,
		domain.StageCutting:   1,
		domain.StageAssembled: 1,
	}, rows[0].StageCounts)

	assert.Equal(t, domain.StageUnprinted, rows[1].Stage, "a part without units is unprinted")
	assert.Equal(t, 0, rows[1].Count)
	assert.Empty(t, rows[1].Boxes)

	assert.Equal(t, domain.StageDefective, rows[2].Stage, "a part whose only units are defective is defective")

	assert.Equal(t, domain.StageDefective, rows[3].Stage, "a defective unit outranks every production stage")
	assert.Equal(t, []string{"BOX-007 (RE)"}, rows[3].Boxes)
	assert.Equal(t, 1, rows[3].StageCounts[domain.StageDefective])
}

func TestAggregateProgress_DefectiveWinsFold(t *testing.T) {
	rows := AggregateProgress(
		[]domain.Part{{ID: "p1", PartNumber: "BRACKET"}},
		[]domain.Unit{
			{ID: "u1", PartID: "p1", Stage: domain.StageCutting, BoxID: "BOX-03"},
			{ID: "u2", PartID: "p1", Stage: domain.StageDefective},
		},
	)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StageDefective, rows[0].Stage)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, []string{"BOX-03"}, rows[0].Boxes)
	assert.Equal(t, map[domain.Stage]int{
		domain.StageCutting:   1,
		domain.StageDefective: 1,
	}, rows[0].StageCounts)
}

func TestAggregateProgress_AllAssembled(t *testing.T) {
	rows := AggregateProgress(
		[]domain.Part{{ID: "p1"}},
		[]domain.Unit{{PartID: "p1", Stage: domain.StageAssembled}, {PartID: "p1", Stage: domain.StageAssembled}},
	)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.StageAssembled, rows[0].Stage)
}

func TestAggregateProgress_StageIsMinimum(t *testing.T) {
	ordered := []domain.Stage{
		domain.StageUnprinted, domain.StagePrinted, domain.StageCutting,
		domain.StageSurfaceTreatment, domain.StagePainting, domain.StageAssembled,
	}

	rapid.Check(t, func(r *rapid.T) {
		stages := rapid.SliceOfN(rapid.SampledFrom(domain.Stages()), 1, 20).Draw(r, "stages")

		units := make([]domain.Unit, len(stages))
		for i, s := range stages {
			units[i] = domain.Unit{PartID: "p", Stage: s}
		}
		rows := AggregateProgress([]domain.Part{{ID: "p"}}, units)
		if len(rows) != 1 {
			r.Fatalf("got %d rows", len(rows))
		}
		got := rows[0]

		if got.Count != len(stages) {
			r.Fatalf("count %d, want %d", got.Count, len(stages))
		}
		total := 0
		for _, n := range got.StageCounts {
			total += n
		}
		if total != len(stages) {
			r.Fatalf("stage counts sum to %d, want %d", total, len(stages))
		}

		want := domain.StageDefective
		if got.StageCounts[domain.StageDefective] == 0 {
			for _, st := range ordered {
				if got.StageCounts[st] > 0 {
					want = st
					break
				}
			}
		}
		if got.Stage != want {
			r.Fatalf("stage %s, want %s for %v", got.Stage, want, stages)
		}
	})
}
