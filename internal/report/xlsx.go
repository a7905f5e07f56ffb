// Package report exports production progress as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

const (
	ProgressSheet = "Progress"
	BoxesSheet    = "Boxes"
)

// progressHeader is followed by one column per stage.
var progressHeader = []string{"Part Number", "Stage", "Units", "Storage"}

var boxesHeader = []string{"Box", "Name", "Occupied", "Unit", "Part Number", "Stage", "Last Used"}

// WriteProgressXLSX writes a workbook with a progress sheet and, when boxes is
// not empty, a sheet with the storage grid.
func WriteProgressXLSX(w io.Writer, rows []domain.ProgressRow, boxes []domain.BoxStatus) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(ProgressSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	stages := domain.Stages()
	header := append([]string{}, progressHeader...)
	for _, st := range stages {
		header = append(header, string(st))
	}
	if err := writeHeader(f, ProgressSheet, header, headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(ProgressSheet, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(ProgressSheet, "D", "D", 30); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range rows {
		values := []any{r.PartNumber, string(r.Stage), r.Count, strings.Join(r.Boxes, ", ")}
		for _, st := range stages {
			values = append(values, r.StageCounts[st])
		}
		if err := writeRow(f, ProgressSheet, i+2, values); err != nil {
			return err
		}
	}

	if len(boxes) > 0 {
		if _, err := f.NewSheet(BoxesSheet); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeHeader(f, BoxesSheet, boxesHeader, headerStyle); err != nil {
			return err
		}
		for i, b := range boxes {
			occupied := "No"
			if b.Box.IsOccupied {
				occupied = "Yes"
			}
			lastUsed := ""
			if !b.Box.LastUsedAt.IsZero() {
				lastUsed = b.Box.LastUsedAt.Format("2006-01-02 15:04:05")
			}
			values := []any{string(b.Box.ID), b.Box.Name, occupied, string(b.UnitID), b.PartNumber, string(b.Stage), lastUsed}
			if err := writeRow(f, BoxesSheet, i+2, values); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell value at %s: %w", cell, err)
		}
	}
	return nil
}
