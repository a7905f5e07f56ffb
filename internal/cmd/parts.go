package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPartsCmd creates the parts command
func NewPartsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parts",
		Short: "Inspect parts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the parts of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			parts, err := a.Parts.List(cmd.Context(), a.Project())
			if err != nil {
				return fmt.Errorf("failed to list parts: %w", err)
			}
			if len(parts) == 0 {
				fmt.Println("No parts found")
				return nil
			}

			for _, p := range parts {
				units, err := a.Units.ListByPart(cmd.Context(), p.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %3d units  %s\n", bold(p.PartNumber), len(units), p.ID)
			}
			return nil
		},
	})

	return cmd
}
