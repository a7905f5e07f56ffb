package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/app"
	"github.com/thatjpcsguy/printtrack/internal/config"
	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/hooks"
)

// NewRootCmd creates the printtrack command tree
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "printtrack",
		Short: "Track 3D-printed parts through production",
		Long: `printtrack tracks printed units through production stages and shares a
fixed pool of storage boxes between them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: .printtrack.yaml)")
	rootCmd.PersistentFlags().String("db", "", "path to the database file")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project id")
	rootCmd.PersistentFlags().String("mode", "", "storage mode: box or label")

	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewBoxesCmd())
	rootCmd.AddCommand(NewRegisterCmd())
	rootCmd.AddCommand(NewImportCmd())
	rootCmd.AddCommand(NewMoveCmd())
	rootCmd.AddCommand(NewConsumeCmd())
	rootCmd.AddCommand(NewDefectCmd())
	rootCmd.AddCommand(NewUnitsCmd())
	rootCmd.AddCommand(NewPartsCmd())
	rootCmd.AddCommand(NewProgressCmd())
	rootCmd.AddCommand(NewHooksCmd())

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openApp loads config and opens the services. Callers must Close the app.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cmd.Context(), cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open printtrack: %w", err)
	}
	return a, nil
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func stageString(s domain.Stage) string {
	switch s {
	case domain.StageAssembled:
		return green(string(s))
	case domain.StageDefective:
		return red(string(s))
	case domain.StageUnprinted:
		return yellow(string(s))
	default:
		return cyan(string(s))
	}
}

func storageString(u domain.Unit) string {
	if s := u.Storage(); s != "" {
		return s
	}
	return "-"
}

// runHook runs a post-operation hook. A failing hook is reported but does not
// fail the command, since the operation itself already succeeded.
func runHook(ctx context.Context, a *app.App, hookType hooks.HookType, env map[string]string) {
	env["PRINTTRACK_PROJECT"] = string(a.Project())
	env["PRINTTRACK_DB"] = a.Config.DBPath
	if _, err := a.Hooks.Execute(ctx, hookType, env); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s hook: %v\n", yellow("warning:"), hookType, err)
	}
}

func unitIDs(units []domain.Unit) string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = string(u.ID)
	}
	return strings.Join(ids, ",")
}
