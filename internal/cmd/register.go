package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/app"
	"github.com/thatjpcsguy/printtrack/internal/domain"
	"github.com/thatjpcsguy/printtrack/internal/hooks"
	"github.com/thatjpcsguy/printtrack/internal/production"
)

// NewRegisterCmd creates the register command
func NewRegisterCmd() *cobra.Command {
	var (
		partNumber string
		quantity   int
		stageName  string
	)

	cmd := &cobra.Command{
		Use:   "register <model.stl>",
		Short: "Register printed units for one model",
		Long: `Uploads the model, creates the part if needed and registers the printed
units, each in its own box.

Examples:
  printtrack register bracket.stl --part BRACKET --qty 4
  printtrack register cover.stl --part COVER --stage CUTTING`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stage, err := stageFlag(a, stageName)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read model: %w", err)
			}
			if partNumber == "" {
				partNumber = trimExt(filepath.Base(args[0]))
			}

			reg, err := a.Production.RegisterPrinted(cmd.Context(), data, partNumber, a.Project(), quantity, stage)
			if err != nil {
				return fmt.Errorf("failed to register %s: %w", partNumber, err)
			}

			printRegistration(reg)
			runHook(cmd.Context(), a, hooks.PostRegister, registrationEnv(reg))
			return nil
		},
	}

	cmd.Flags().StringVar(&partNumber, "part", "", "Part number (defaults to the file name)")
	cmd.Flags().IntVarP(&quantity, "qty", "n", 1, "Number of printed units")
	cmd.Flags().StringVar(&stageName, "stage", "", "Initial stage (defaults to import.default_stage)")

	return cmd
}

// NewImportCmd creates the import command
func NewImportCmd() *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import model files named <part>_x<qty>.stl",
		Long: `Imports model files one after another. The part number and quantity come
from the file name: BRACKET_x4.stl registers four BRACKET units. A file that
fails does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stage, err := stageFlag(a, stageName)
			if err != nil {
				return err
			}

			files := make([]production.File, 0, len(args))
			var readErrs []error
			for _, p := range args {
				data, err := os.ReadFile(p)
				if err != nil {
					fmt.Printf("%s %s: %v\n", red("✗"), p, err)
					readErrs = append(readErrs, err)
					continue
				}
				files = append(files, production.File{Name: filepath.Base(p), Data: data})
			}

			results := a.Production.ImportMany(cmd.Context(), files, a.Project(), stage)

			ok := 0
			for _, r := range results {
				if !r.OK() {
					fmt.Printf("%s %s: %v\n", red("✗"), r.File, r.Err)
					continue
				}
				ok++
				fmt.Printf("%s %s\n", green("✓"), r.File)
				printRegistration(*r.Registration)
				runHook(cmd.Context(), a, hooks.PostRegister, registrationEnv(*r.Registration))
			}

			failed := len(args) - ok
			fmt.Println()
			fmt.Printf("%d imported, %d failed\n", ok, failed)
			if failed > 0 {
				return errors.Join(append(readErrs, fmt.Errorf("%d of %d files failed", failed, len(args)))...)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "Initial stage (defaults to import.default_stage)")

	return cmd
}

func stageFlag(a *app.App, name string) (domain.Stage, error) {
	if name == "" {
		return a.DefaultStage(), nil
	}
	return domain.ParseStage(name)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func printRegistration(reg production.Registration) {
	fmt.Printf("  Part:   %s (%s)\n", bold(reg.Part.PartNumber), reg.Part.ID)
	fmt.Printf("  Model:  %s\n", reg.ModelURL)
	for _, u := range reg.Units {
		fmt.Printf("  %-8s %s  %s\n", storageString(u), u.ID, stageString(u.Stage))
	}
}

func registrationEnv(reg production.Registration) map[string]string {
	return map[string]string{
		"PRINTTRACK_PART_ID":     string(reg.Part.ID),
		"PRINTTRACK_PART_NUMBER": reg.Part.PartNumber,
		"PRINTTRACK_UNIT_IDS":    unitIDs(reg.Units),
		"PRINTTRACK_QUANTITY":    strconv.Itoa(len(reg.Units)),
		"PRINTTRACK_MODEL_URL":   reg.ModelURL,
	}
}
