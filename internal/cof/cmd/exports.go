package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cof/internal/analysis"
	"cof/internal/dump"
	"cof/internal/logging"
)

var exportsCmd = &cobra.Command{
	Use:   "exports [dump file]",
	Short: "List the export table of a dumped executable",
	Long: `Exports parses the PE export directory out of a dump and lists every
entry with its ordinal, relative address and name. Decorated names are
demangled where the mangling is recognized; --raw keeps them as
exported.`,
	Example: `
# List the exports of a region-mode dump
cof exports Game.exe

# An on-disk image instead of a dump
cof exports --sparse Game.dll
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sparse, _ := cmd.Flags().GetBool("sparse")
		raw, _ := cmd.Flags().GetBool("raw")

		logger := logging.NewLogger()
		defer logger.Close()

		r, err := dump.Open(args[0], logger.Logger)
		if err != nil {
			return err
		}
		defer r.Close()

		mode := dump.ModeRegions
		if sparse {
			mode = dump.ModeSparse
		}
		if err := r.Analyze(mode); err != nil {
			return fmt.Errorf("analyzing dump: %w", err)
		}

		if raw {
			exports := r.Exports()
			if len(exports) == 0 {
				return fmt.Errorf("%s has no export table", args[0])
			}
			for _, e := range exports {
				fmt.Printf("%5d  %08x  %s\n", e.Ordinal, e.RVA, e.Name)
			}
			return nil
		}

		exports := analysis.DemangledExports(r)
		if len(exports) == 0 {
			return fmt.Errorf("%s has no export table", args[0])
		}
		for _, e := range exports {
			fmt.Printf("%5d  %08x  %s\n", e.Ordinal, e.RVA, e.Demangled)
		}
		return nil
	},
}

func init() {
	exportsCmd.Flags().Bool("sparse", false, "Treat the file as a raw image instead of a region-mode dump")
	exportsCmd.Flags().Bool("raw", false, "List decorated names without demangling")

	rootCmd.AddCommand(exportsCmd)
}
