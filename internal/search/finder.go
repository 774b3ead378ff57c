package search

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"cof/internal/analysis"
	"cof/internal/dump"
)

// RegionHandler prepares a region before its targets run. Returning
// false skips the whole region.
type RegionHandler func(f *Finder, region *Region) bool

// PrintFunc writes findings out; the driver stays agnostic of the
// output format.
type PrintFunc func(f *Finder, findings []Finding, layoutPath, outPath, profile string) error

// Producer dumps a live process to a file prior to analysis.
type Producer interface {
	Attach(pid uint32) error
	Dump(path string) (int, error)
}

// Finder drives search passes over an analyzed memory dump.
type Finder struct {
	log      *log.Logger
	dump     *dump.Reader
	analyzer *analysis.Analyzer
	producer Producer

	regionHandler RegionHandler
	handlers      map[SearchType]Handler

	regions []*Region
	raw     RawConfig
	rawPath string

	syncEnabled bool
	visited     map[string]bool
	findings    []Finding
}

// New returns a Finder that logs through the given logger. Init or
// InitProcess must run before Find.
func New(logger *log.Logger) *Finder {
	if logger == nil {
		logger = log.Default()
	}
	return &Finder{
		log:      logger,
		handlers: make(map[SearchType]Handler),
		visited:  make(map[string]bool),
	}
}

// Init opens and analyzes a dump file. The dump must carry an
// executable .text section; nothing can be located without one.
func (f *Finder) Init(path string) error {
	f.log.Info("opening memory dump", "path", path)
	r, err := dump.Open(path, f.log)
	if err != nil {
		return err
	}
	if err := r.Analyze(dump.ModeRegions); err != nil {
		return fmt.Errorf("analyzing dump: %w", err)
	}
	if _, ok := r.Section(".text"); !ok {
		return errors.New("dump has no .text section")
	}
	f.dump = r
	f.analyzer = analysis.New(r, f.log)
	return nil
}

// InitProcess dumps a live process through the registered producer and
// then analyzes the dump file it wrote.
func (f *Finder) InitProcess(pid uint32, path string) error {
	if f.producer == nil {
		return errors.New("no dump producer registered")
	}
	f.log.Info("attaching to process", "pid", pid)
	if err := f.producer.Attach(pid); err != nil {
		return fmt.Errorf("attaching to process %d: %w", pid, err)
	}
	n, err := f.producer.Dump(path)
	if err != nil {
		return fmt.Errorf("dumping process %d: %w", pid, err)
	}
	if n == 0 {
		return fmt.Errorf("no regions dumped from process %d", pid)
	}
	f.log.Info("process dumped", "pid", pid, "regions", n, "path", path)
	return f.Init(path)
}

// UseProducer registers the process dumper InitProcess delegates to.
func (f *Finder) UseProducer(p Producer) {
	f.producer = p
}

// UseRegionHandler registers the preparation step run once per region.
func (f *Finder) UseRegionHandler(h RegionHandler) {
	f.regionHandler = h
}

// UseSearchHandlers registers per-type handlers. Later entries replace
// earlier ones for the same type.
func (f *Finder) UseSearchHandlers(handlers []SearchHandler) {
	for _, h := range handlers {
		f.handlers[h.Type] = h.Fn
	}
}

// Analyzer exposes the dump analyzer to handlers.
func (f *Finder) Analyzer() *analysis.Analyzer {
	return f.analyzer
}

// Dump exposes the underlying dump reader.
func (f *Finder) Dump() *dump.Reader {
	return f.dump
}

// Logger exposes the finder's logger so print handlers share it.
func (f *Finder) Logger() *log.Logger {
	return f.log
}

// Find loads a search configuration and runs one pass over it. With
// sync enabled, every range discovered during the pass is recorded for
// SyncSearchConfig to write back.
func (f *Finder) Find(path string, sync bool) error {
	f.log.Info("reading search configuration", "path", path)
	regions, raw, err := LoadConfig(path, f.log)
	if err != nil {
		return err
	}
	f.raw = raw
	f.rawPath = path
	f.FindRegions(regions, sync)
	return nil
}

// FindRegions runs one pass over an already-built region list. Only
// normally-accessed regions are visited directly; cross-reference
// regions wait for a resolved target to reach them.
func (f *Finder) FindRegions(regions []*Region, sync bool) {
	f.syncEnabled = sync
	f.regions = regions
	f.visited = make(map[string]bool)

	for _, region := range regions {
		if region.AccessType != AccessNormal {
			continue
		}
		if f.regionHandler != nil && !f.regionHandler(f, region) {
			f.log.Warn("region preparation failed", "region", region.RegionID)
			continue
		}
		f.HandleTargets(region)
	}
}

// HandleTargets dispatches every unhandled target of a region to its
// registered handler. Cross-reference handlers re-enter here for the
// regions they resolve.
func (f *Finder) HandleTargets(region *Region) {
	for _, target := range region.SearchFor {
		if target.Handled {
			continue
		}
		handler, ok := f.handlers[target.SearchType]
		if !ok {
			f.log.Warn("no handler registered", "search", target.SearchID, "type", target.SearchType)
			continue
		}
		f.log.Debug("handling search target", "search", target.SearchID,
			"type", target.SearchType, "region", region.RegionID)
		if !handler(f, region, target) {
			f.log.Warn("search target not satisfied", "search", target.SearchID)
		}
	}
}

// AddFinding records an extracted value for printing.
func (f *Finder) AddFinding(fd Finding) {
	f.findings = append(f.findings, fd)
}

// Findings returns everything recorded so far, in discovery order.
func (f *Finder) Findings() []Finding {
	return f.findings
}

// Print hands the findings to an output writer.
func (f *Finder) Print(fn PrintFunc, layoutPath, outPath, profile string) error {
	return fn(f, f.findings, layoutPath, outPath, profile)
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
