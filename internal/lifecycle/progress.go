package lifecycle

import "github.com/thatjpcsguy/printtrack/internal/domain"

// AggregateProgress summarises units per part, in the order of parts.
//
// A part's stage is the least advanced stage among its units, folding from
// assembled. Defective sits below every production stage, so any defective unit
// makes its part defective. A part with no units is unprinted.
func AggregateProgress(parts []domain.Part, units []domain.Unit) []domain.ProgressRow {
	byPart := make(map[domain.PartID][]domain.Unit)
	for _, u := range units {
		byPart[u.PartID] = append(byPart[u.PartID], u)
	}

	rows := make([]domain.ProgressRow, 0, len(parts))
	for _, p := range parts {
		items := byPart[p.ID]
		row := domain.ProgressRow{
			PartID:      p.ID,
			PartNumber:  p.PartNumber,
			Boxes:       []string{},
			Count:       len(items),
			StageCounts: make(map[domain.Stage]int),
		}

		seen := make(map[string]bool)
		stage := domain.StageAssembled
		for _, u := range items {
			row.StageCounts[u.Stage]++
			if s := u.Storage(); s != "" && !seen[s] {
				seen[s] = true
				row.Boxes = append(row.Boxes, s)
			}
			if u.Stage.Before(stage) {
				stage = u.Stage
			}
		}

		if len(items) == 0 {
			stage = domain.StageUnprinted
		}
		row.Stage = stage
		rows = append(rows, row)
	}
	return rows
}
