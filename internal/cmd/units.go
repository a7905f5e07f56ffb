package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/hooks"
)

// NewMoveCmd creates the move command
func NewMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <unit-id> <stage>",
		Short: "Move a unit to another stage",
		Long: `Moves a unit to any production stage. Moving to ASSEMBLED frees its box.
Defects are reported with "printtrack defect", which records the reason and
creates a replacement unit.

Stages: UNPRINTED, PRINTED, CUTTING, SURFACE_TREATMENT, PAINTING, ASSEMBLED (or READY)`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := domain.ParseStage(args[1])
			if err != nil {
				return err
			}
			if stage == domain.StageDefective {
				return fmt.Errorf("%w: use 'printtrack defect %s --reason ...' to report a defect", domain.ErrValidation, args[0])
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			before, err := a.Units.Get(cmd.Context(), domain.UnitID(args[0]))
			if err != nil {
				return err
			}
			u, err := a.Units.Transition(cmd.Context(), before.ID, stage)
			if err != nil {
				return fmt.Errorf("failed to move unit: %w", err)
			}

			fmt.Printf("✓ %s: %s → %s\n", u.ID, stageString(before.Stage), stageString(u.Stage))
			if before.Storage() != "" && u.Storage() == "" {
				fmt.Printf("  Released %s\n", before.Storage())
			}
			if u.Stage == domain.StageAssembled {
				runHook(cmd.Context(), a, hooks.PostComplete, unitEnv(u))
			}
			return nil
		},
	}
}

// NewConsumeCmd creates the consume command
func NewConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume <unit-id>",
		Short: "Mark a unit as assembled into the product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			u, err := a.Units.Consume(cmd.Context(), domain.UnitID(args[0]))
			if err != nil {
				return fmt.Errorf("failed to consume unit: %w", err)
			}

			fmt.Printf("✓ %s is %s\n", u.ID, stageString(u.Stage))
			runHook(cmd.Context(), a, hooks.PostComplete, unitEnv(u))
			return nil
		},
	}
}

// NewDefectCmd creates the defect command
func NewDefectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "defect <unit-id>",
		Short: "Report a defective unit and queue a reprint",
		Long: `Marks the unit DEFECTIVE, frees its box and creates an UNPRINTED replacement
for the same part.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report, err := a.Production.ReportDefect(cmd.Context(), domain.UnitID(args[0]), reason)
			if report.Defective.ID != "" {
				fmt.Printf("✓ %s is %s\n", report.Defective.ID, stageString(report.Defective.Stage))
			}
			if err != nil {
				return fmt.Errorf("failed to report defect: %w", err)
			}

			fmt.Printf("✓ Rework unit %s in %s\n", report.Rework.ID, storageString(*report.Rework))
			env := unitEnv(report.Defective)
			env["PRINTTRACK_DEFECT_REASON"] = reason
			env["PRINTTRACK_REWORK_UNIT_ID"] = string(report.Rework.ID)
			runHook(cmd.Context(), a, hooks.PostDefect, env)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "What is wrong with the unit")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

// NewUnitsCmd creates the units command
func NewUnitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Inspect units",
	}

	cmd.AddCommand(newUnitsListCmd())
	cmd.AddCommand(newUnitsInfoCmd())

	return cmd
}

func newUnitsListCmd() *cobra.Command {
	var (
		partNumber string
		stageName  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the units of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var filter domain.Stage
			if stageName != "" {
				if filter, err = domain.ParseStage(stageName); err != nil {
					return err
				}
			}

			var units []domain.Unit
			if partNumber != "" {
				part, err := a.Parts.FindByNumber(cmd.Context(), partNumber, a.Project())
				if err != nil {
					return err
				}
				if part == nil {
					return fmt.Errorf("no part %s in project %s", partNumber, a.Project())
				}
				units, err = a.Units.ListByPart(cmd.Context(), part.ID)
				if err != nil {
					return err
				}
			} else {
				units, err = a.Units.ListByProject(cmd.Context(), a.Project())
				if err != nil {
					return err
				}
			}

			shown := 0
			for _, u := range units {
				if filter != "" && u.Stage != filter {
					continue
				}
				shown++
				fmt.Printf("%s  %-18s %-14s %s\n", u.ID, stageString(u.Stage), storageString(u), u.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			if shown == 0 {
				fmt.Println("No units found")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&partNumber, "part", "", "Only units of this part number")
	cmd.Flags().StringVar(&stageName, "stage", "", "Only units in this stage")

	return cmd
}

func newUnitsInfoCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <unit-id>",
		Short: "Show unit details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			u, err := a.Units.Get(cmd.Context(), domain.UnitID(args[0]))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(u)
			}

			part, err := a.Parts.Get(cmd.Context(), u.PartID)
			if err != nil {
				return err
			}

			fmt.Printf("Unit:     %s\n", u.ID)
			fmt.Printf("Part:     %s (%s)\n", bold(part.PartNumber), part.ID)
			fmt.Printf("Stage:    %s\n", stageString(u.Stage))
			fmt.Printf("Storage:  %s\n", storageString(u))
			if u.ModelURL != "" {
				fmt.Printf("Model:    %s\n", u.ModelURL)
			}
			if u.DefectReason != "" {
				fmt.Printf("Defect:   %s\n", red(u.DefectReason))
			}
			if u.ReworkOf != "" {
				fmt.Printf("Rework:   replaces %s\n", u.ReworkOf)
			}
			fmt.Printf("Created:  %s\n", u.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:  %s\n", u.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			if u.CompletedAt != nil {
				fmt.Printf("Complete: %s\n", u.CompletedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the unit as JSON")

	return cmd
}

func unitEnv(u domain.Unit) map[string]string {
	return map[string]string{
		"PRINTTRACK_UNIT_ID": string(u.ID),
		"PRINTTRACK_PART_ID": string(u.PartID),
		"PRINTTRACK_STAGE":   string(u.Stage),
	}
}
