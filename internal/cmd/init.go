package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/config"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize printtrack in the current directory",
		Long: `Writes a default .printtrack.yaml, creates the database and provisions the
configured number of boxes. Existing boxes are kept as they are.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			if cfgFile == "" {
				cfgFile = config.ProjectFile
			}
			if err := config.WriteDefault(cfgFile, force); err != nil {
				fmt.Printf("%s %v\n", yellow("Keeping config:"), err)
			} else {
				fmt.Printf("✓ Wrote %s\n", cfgFile)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			boxes, err := a.Boxes.Provision(cmd.Context(), a.Config.Boxes.Count, a.Config.Boxes.Prefix)
			if err != nil {
				return fmt.Errorf("failed to provision boxes: %w", err)
			}

			fmt.Printf("✓ Database ready at %s\n", a.Config.DBPath)
			fmt.Printf("✓ %d boxes created\n", len(boxes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}
