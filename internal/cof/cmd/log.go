package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"cof/internal/logging"
)

var logCmd = &cobra.Command{
	Use:   "log [log file]",
	Short: "Show the engine log",
	Long: `Log prints the engine log file written when COF_LOG_TO_FILE=1 or when
a pass runs inside the findings browser. Without an argument the most
recent log file in the working directory is used.`,
	Example: `
# Last lines of the most recent engine log
cof log

# Follow a running pass
cof log -f
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")

		var path string
		if len(args) > 0 {
			path = args[0]
		} else {
			cwd, err := ResolveCwd(cmd)
			if err != nil {
				return err
			}
			found, ok := logging.LogFilePath(cwd)
			if !ok {
				return fmt.Errorf("no engine log found in %s", cwd)
			}
			path = found
		}

		if !follow {
			return printTail(path, lines)
		}

		t, err := tail.TailFile(path, tail.Config{
			Follow: true,
			ReOpen: true,
			Location: &tail.SeekInfo{
				Offset: 0,
				Whence: io.SeekEnd,
			},
			Logger: tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("following %s: %w", path, err)
		}
		for line := range t.Lines {
			if line.Err != nil {
				return line.Err
			}
			fmt.Println(line.Text)
		}
		return nil
	},
}

// printTail prints the last n lines of the file.
func printTail(path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func init() {
	logCmd.Flags().BoolP("follow", "f", false, "Keep the log open and print lines as they arrive")
	logCmd.Flags().Int("lines", 40, "How many trailing lines to print")

	rootCmd.AddCommand(logCmd)
}
