// Package cmd wires the offset finder into its command line surface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	coflog "cof/internal/cof/log"
)

var rootCmd = &cobra.Command{
	Use:   "cof",
	Short: "Offset discovery for 64-bit PE memory dumps",
	Long: `cof locates game offsets in 64-bit Windows executables. It dumps a
running process (or reads a previous dump), resolves the regions named
by a search configuration, extracts immediates, displacements,
references and decryption routines, and prints everything into a C++
offsets header.`,
	Example: `
# Dump a live process and search it with a named profile
cof find --pid 1337 --profile UE_Chicken

# Search an existing dump with an explicit configuration pair
cof find --file Game.exe --search-config Search.cof.json --print-config Print.cof.json

# List the export table of a dump
cof exports Game.exe
  `,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		coflog.Setup(os.Getenv("COF_LOG_FILE"), debug)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
}

// ResolveCwd honors the --cwd flag, changing into it when set, and
// returns the effective working directory.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}

func Execute() {
	// Bypass fang's markdown rendering when the findings browser is
	// skipped or output is being piped, so reports stay plain text.
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
