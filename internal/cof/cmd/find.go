package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"cof/internal/cof/styles"
	"cof/internal/dumpproc"
	"cof/internal/logging"
	"cof/internal/printer"
	"cof/internal/search"
)

// Default profiles configuration looked up when --profiles is not
// given, and the infix of generated offsets header names.
const (
	profilesFilename = "Profiles.cof.json"
	offsetsInfix     = "_Offsets.cof"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find offsets and print them into a C++ header",
	Long: `Find locates every target named by a search configuration and prints
the extracted values into a C++ offsets header laid out by a print
configuration. The pair of configuration files comes either from a
named profile or from explicit --search-config/--print-config flags;
the two forms cannot be mixed.

With --sync the search configuration file is updated in place with the
ranges at which the targets were actually found. Range variation
fields are left untouched.`,
	Example: `
# Dump a live process and search it with a named profile
cof find --pid 1337 --profile UE_Chicken

# Search an existing dump with an explicit configuration pair
cof find --file Game.exe --search-config Search.cof.json --print-config Print.cof.json

# Record the discovered ranges back into the search configuration
cof find --file Game.exe --profile UE_Chicken --sync
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		var fl findFlags
		fl.pid, _ = cmd.Flags().GetUint32("pid")
		fl.file, _ = cmd.Flags().GetString("file")
		fl.out, _ = cmd.Flags().GetString("out")
		fl.sync, _ = cmd.Flags().GetBool("sync")
		fl.profile, _ = cmd.Flags().GetString("profile")
		fl.profiles, _ = cmd.Flags().GetString("profiles")
		fl.searchConfig, _ = cmd.Flags().GetString("search-config")
		fl.printConfig, _ = cmd.Flags().GetString("print-config")

		opts, err := resolveFindOptions(fl, time.Now())
		if err != nil {
			return err
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
		}
		if noTUI {
			return runFindPlain(opts)
		}
		return runFindTUI(cmd, opts)
	},
}

func init() {
	findCmd.Flags().Uint32("pid", 0, "Process ID of the executable to dump and search")
	findCmd.Flags().String("file", "", "Previously dumped executable; with --pid, where the new dump is written")
	findCmd.Flags().String("out", "", "File the found offsets are printed to")
	findCmd.Flags().Bool("sync", false, "Write discovered search ranges back into the search configuration")
	findCmd.Flags().String("profile", "", "Profile name listed in the profiles configuration")
	findCmd.Flags().String("profiles", profilesFilename, "Profiles configuration file")
	findCmd.Flags().String("search-config", "", "Search configuration file")
	findCmd.Flags().String("print-config", "", "Print configuration file")
	findCmd.Flags().BoolP("no-tui", "n", false, "Print the findings report without the interactive browser")

	rootCmd.AddCommand(findCmd)
}

// findFlags is the raw flag state of one find invocation.
type findFlags struct {
	pid          uint32
	file         string
	out          string
	sync         bool
	profile      string
	profiles     string
	searchConfig string
	printConfig  string
}

// findOptions is the resolved plan: which dump to analyze, which
// configuration pair to use and where the header goes.
type findOptions struct {
	pid          uint32
	dumpFile     string
	outFile      string
	sync         bool
	profileName  string
	searchConfig string
	printConfig  string
}

// findResult is what one completed pass hands to the report and the
// findings browser.
type findResult struct {
	findings []search.Finding
	version  string
	elapsed  time.Duration
}

// resolveFindOptions validates the flag combination and fills in the
// defaulted dump and header names. Generated names carry a UTC
// timestamp so repeated runs never overwrite each other.
func resolveFindOptions(fl findFlags, now time.Time) (findOptions, error) {
	hasProfile := fl.profile != ""
	hasSC := fl.searchConfig != ""
	hasPC := fl.printConfig != ""

	if hasProfile && (hasSC || hasPC) {
		return findOptions{}, errors.New("--profile cannot be combined with --search-config/--print-config")
	}
	if hasSC != hasPC {
		return findOptions{}, errors.New("--search-config and --print-config must be given together")
	}
	if !hasProfile && !hasSC {
		return findOptions{}, errors.New("either --profile or a --search-config/--print-config pair is required")
	}

	opts := findOptions{pid: fl.pid, sync: fl.sync}

	switch {
	case fl.file != "":
		opts.dumpFile = fl.file
	case fl.pid != 0:
		opts.dumpFile = timestampedName(strconv.FormatUint(uint64(fl.pid), 10), ".exe", now)
	default:
		return findOptions{}, errors.New("either --file or --pid is required")
	}

	if hasProfile {
		opts.profileName = fl.profile
		book := fl.profiles
		if book == "" {
			book = profilesFilename
		}
		entry, err := loadProfile(book, fl.profile)
		if err != nil {
			return findOptions{}, err
		}
		opts.searchConfig = entry.SearchConfig
		opts.printConfig = entry.PrintConfig
	} else {
		opts.searchConfig = fl.searchConfig
		opts.printConfig = fl.printConfig
	}

	if fl.out != "" {
		opts.outFile = fl.out
	} else {
		var prefix string
		switch {
		case hasProfile:
			prefix = fl.profile
		case fl.file != "":
			prefix = fl.file
		default:
			prefix = strconv.FormatUint(uint64(fl.pid), 10)
		}
		opts.outFile = timestampedName(prefix+offsetsInfix, ".h", now)
	}

	return opts, nil
}

func timestampedName(prefix, ext string, now time.Time) string {
	return prefix + "_" + now.UTC().Format("20060102_150405") + ext
}

// profileEntry points a named profile at its configuration pair.
type profileEntry struct {
	SearchConfig string `json:"SearchConfig"`
	PrintConfig  string `json:"PrintConfig"`
}

// loadProfile looks a profile up in the profiles book, a JSON object
// mapping profile names to configuration pairs. Comments are allowed.
func loadProfile(path, name string) (profileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return profileEntry{}, fmt.Errorf("reading profiles: %w", err)
	}
	var book map[string]profileEntry
	if err := json.Unmarshal(search.StripComments(data), &book); err != nil {
		return profileEntry{}, fmt.Errorf("parsing profiles %s: %w", path, err)
	}
	entry, ok := book[name]
	if !ok {
		return profileEntry{}, fmt.Errorf("profile %q not found in %s", name, path)
	}
	if entry.SearchConfig == "" || entry.PrintConfig == "" {
		return profileEntry{}, fmt.Errorf("profile %q is missing SearchConfig or PrintConfig", name)
	}
	return entry, nil
}

// executeFind runs one full pass: attach and dump when a PID is given,
// analyze, search, sync the configuration back and print the header.
func executeFind(logger *log.Logger, opts findOptions) (findResult, error) {
	f := search.New(logger)
	f.UseProducer(dumpproc.New(logger))
	f.UseRegionHandler(search.DefaultRegionHandler)
	f.UseSearchHandlers(search.DefaultHandlers())

	start := time.Now()
	var err error
	if opts.pid != 0 {
		err = f.InitProcess(opts.pid, opts.dumpFile)
	} else {
		err = f.Init(opts.dumpFile)
	}
	if err != nil {
		return findResult{}, err
	}

	if err := f.Find(opts.searchConfig, opts.sync); err != nil {
		return findResult{}, err
	}
	if err := f.SyncSearchConfig(); err != nil {
		return findResult{}, err
	}
	if err := f.Print(printer.Print, opts.printConfig, opts.outFile, opts.profileName); err != nil {
		return findResult{}, err
	}

	version := "unknown"
	if v, ok := f.Dump().FileVersion(); ok {
		version = v
	}
	return findResult{
		findings: f.Findings(),
		version:  version,
		elapsed:  time.Since(start),
	}, nil
}

// runFindPlain runs the pass synchronously and prints the markdown
// report to stdout, rendered when stdout is a terminal.
func runFindPlain(opts findOptions) error {
	logger := logging.NewLogger()
	defer logger.Close()

	res, err := executeFind(logger.Logger, opts)
	if err != nil {
		return err
	}

	report := buildReport(res, opts)
	if term.IsTerminal(os.Stdout.Fd()) && os.Getenv("COF_NO_COLOR") == "" {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStyles(styles.GetMarkdownStyle()),
			glamour.WithWordWrap(reportWidth()),
		)
		if err == nil {
			if rendered, err := renderer.Render(report); err == nil {
				fmt.Print(rendered)
				return nil
			}
		}
	}
	fmt.Print(report)
	return nil
}

func reportWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}
