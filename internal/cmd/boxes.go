package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

// NewBoxesCmd creates the boxes command
func NewBoxesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boxes",
		Short: "Manage storage boxes",
	}

	cmd.AddCommand(newBoxesProvisionCmd())
	cmd.AddCommand(newBoxesListCmd())
	cmd.AddCommand(newBoxesReleaseCmd())
	cmd.AddCommand(newBoxesPreviewCmd())

	return cmd
}

func newBoxesProvisionCmd() *cobra.Command {
	var (
		count  int
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create missing boxes",
		Long:  `Creates boxes PREFIX-01 to PREFIX-NN that do not exist yet. Existing boxes keep their contents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if count == 0 {
				count = a.Config.Boxes.Count
			}
			if prefix == "" {
				prefix = a.Config.Boxes.Prefix
			}

			created, err := a.Boxes.Provision(cmd.Context(), count, prefix)
			if err != nil {
				return fmt.Errorf("failed to provision boxes: %w", err)
			}
			fmt.Printf("✓ %d boxes created\n", len(created))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of boxes (defaults to boxes.count)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Box id prefix (defaults to boxes.prefix)")

	return cmd
}

func newBoxesListCmd() *cobra.Command {
	var freeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the storage grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			status, err := a.Boxes.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list boxes: %w", err)
			}
			if len(status) == 0 {
				fmt.Println("No boxes found. Run 'printtrack init' or 'printtrack boxes provision'.")
				return nil
			}

			free := 0
			for _, s := range status {
				if !s.Box.IsOccupied {
					free++
				}
			}

			fmt.Println("Storage Boxes")
			fmt.Println("=============")
			fmt.Println()

			for _, s := range status {
				if !s.Box.IsOccupied {
					fmt.Printf("%-10s %-12s %s\n", s.Box.ID, s.Box.Name, green("free"))
					continue
				}
				if freeOnly {
					continue
				}
				part := s.PartNumber
				if part == "" {
					part = "?"
				}
				fmt.Printf("%-10s %-12s %s  %s  %s\n", s.Box.ID, s.Box.Name, red("occupied"), bold(part), stageString(s.Stage))
				fmt.Printf("           unit %s, since %s\n", s.UnitID, s.Box.LastUsedAt.Local().Format("2006-01-02 15:04:05"))
			}

			fmt.Println()
			fmt.Printf("%d of %d boxes free\n", free, len(status))
			return nil
		},
	}

	cmd.Flags().BoolVar(&freeOnly, "free", false, "Only show free boxes")

	return cmd
}

func newBoxesReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <box-id>...",
		Short: "Free boxes whoever holds them",
		Long:  `Frees boxes and detaches any unit still stored in them. Releasing a free box does nothing.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			for _, id := range args {
				if err := a.Allocator.Release(cmd.Context(), domain.BoxID(id)); err != nil {
					return fmt.Errorf("failed to release %s: %w", id, err)
				}
				fmt.Printf("✓ Released %s\n", id)
			}
			return nil
		},
	}
}

func newBoxesPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file>...",
		Short: "Show which storage an import would use",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			names := make([]string, len(args))
			for i, p := range args {
				names[i] = filepath.Base(p)
			}

			entries, err := a.Production.PreviewImport(cmd.Context(), names)
			if err != nil {
				return fmt.Errorf("failed to preview import: %w", err)
			}

			for _, e := range entries {
				switch {
				case e.Err != nil:
					fmt.Printf("%s %s: %v\n", red("✗"), e.Parsed.OriginalName, e.Err)
				case e.Short():
					fmt.Printf("%s %s ×%d → %v %s\n", yellow("!"), bold(e.Parsed.PartNumber), e.Parsed.Quantity, e.Storage,
						yellow(fmt.Sprintf("(%d short)", e.Parsed.Quantity-len(e.Storage))))
				default:
					fmt.Printf("%s %s ×%d → %v\n", green("✓"), bold(e.Parsed.PartNumber), e.Parsed.Quantity, e.Storage)
				}
			}
			return nil
		},
	}
}
