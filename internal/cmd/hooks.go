package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/hooks"
)

// NewHooksCmd creates the hooks command
func NewHooksCmd() *cobra.Command {
	var (
		unitID     string
		partNumber string
	)

	cmd := &cobra.Command{
		Use:   "hooks [hook-name]",
		Short: "Manually run hooks",
		Long: `Manually execute a hook.

A file at .printtrack/hooks/<hook-name>.sh takes precedence over the script
configured under hooks in .printtrack.yaml.

Available hooks:
  post-register  - Runs after units are registered
  post-defect    - Runs after a defect is reported
  post-complete  - Runs after a unit is assembled

Examples:
  printtrack hooks post-register --part BRACKET
  printtrack hooks post-defect --unit 3f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hookType, err := hooks.ParseType(args[0])
			if err != nil {
				return fmt.Errorf("invalid hook name: %s. Valid options: post-register, post-defect, post-complete", args[0])
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			env := map[string]string{
				"PRINTTRACK_PROJECT":     string(a.Project()),
				"PRINTTRACK_DB":          a.Config.DBPath,
				"PRINTTRACK_UNIT_ID":     unitID,
				"PRINTTRACK_PART_NUMBER": partNumber,
			}

			ran, err := a.Hooks.Execute(cmd.Context(), hookType, env)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Printf("No %s hook defined (looked for %s and hooks.%s)\n", hookType, a.Hooks.Path(hookType), configKey(hookType))
				return nil
			}
			fmt.Printf("✓ %s hook completed\n", hookType)
			return nil
		},
	}

	cmd.Flags().StringVar(&unitID, "unit", "", "Unit id passed to the hook")
	cmd.Flags().StringVar(&partNumber, "part", "", "Part number passed to the hook")

	return cmd
}

func configKey(t hooks.HookType) string {
	switch t {
	case hooks.PostRegister:
		return "post_register"
	case hooks.PostDefect:
		return "post_defect"
	default:
		return "post_complete"
	}
}
