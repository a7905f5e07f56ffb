package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/report"
)

// NewProgressCmd creates the progress command
func NewProgressCmd() *cobra.Command {
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show how far each part has got",
		Long: `Shows, per part, the least advanced stage among its units, the storage in use
and the number of units in each stage. A part with a defective unit shows as DEFECTIVE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			rows, err := a.Progress(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to aggregate progress: %w", err)
			}

			if xlsxPath != "" {
				status, err := a.Boxes.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list boxes: %w", err)
				}
				f, err := os.Create(xlsxPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", xlsxPath, err)
				}
				if err := report.WriteProgressXLSX(f, rows, status); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
				fmt.Printf("✓ Wrote %s\n", xlsxPath)
				return nil
			}

			if len(rows) == 0 {
				fmt.Printf("No parts in project %s\n", a.Project())
				return nil
			}

			fmt.Printf("Progress for %s\n", a.Project())
			fmt.Println(strings.Repeat("=", 13+len(a.Project())))
			fmt.Println()
			for _, r := range rows {
				fmt.Printf("%-24s %-28s %3d units\n", bold(r.PartNumber), stageString(r.Stage), r.Count)
				if len(r.Boxes) > 0 {
					fmt.Printf("  Storage: %s\n", strings.Join(r.Boxes, ", "))
				}
				var counts []string
				for _, st := range domain.Stages() {
					if n := r.StageCounts[st]; n > 0 {
						counts = append(counts, fmt.Sprintf("%s %d", st, n))
					}
				}
				if len(counts) > 0 {
					fmt.Printf("  Stages:  %s\n", strings.Join(counts, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the report to an .xlsx file")

	return cmd
}
