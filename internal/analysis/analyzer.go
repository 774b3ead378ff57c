// Package analysis locates code constructs inside analyzed memory dumps:
// byte patterns, instruction sequences, RIP-relative references, string
// data, and the xor/rotate/shift decryption chains found in obfuscated
// binaries.
//
// All offsets accepted and returned here are image-relative dump offsets.
// Reads go through dump.Reader, so a window that touches unmapped memory
// comes back short or empty and the affected scan reports a miss instead
// of failing hard.
package analysis

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"cof/internal/disasm"
	"cof/internal/dump"
)

// Range is a half-open [Offset, Offset+Size) span of dump offsets.
type Range struct {
	Offset uint64
	Size   uint64
}

// End returns the first offset past the range.
func (r Range) End() uint64 {
	return r.Offset + r.Size
}

// Analyzer runs scans over an analyzed dump. Construct one with New
// after dump.Reader.Analyze has succeeded.
type Analyzer struct {
	dump *dump.Reader
	log  *log.Logger

	funcOnce sync.Once
	funcs    []uint64
}

// New wraps an analyzed dump reader. A nil logger falls back to the
// package default.
func New(r *dump.Reader, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.Default()
	}
	return &Analyzer{dump: r, log: logger}
}

// Dump returns the underlying reader.
func (a *Analyzer) Dump() *dump.Reader {
	return a.dump
}

// Functions returns the offsets of probable function entry points,
// sorted ascending. The table holds the distinct targets of direct CALL
// instructions inside .text and is built once, on first use.
func (a *Analyzer) Functions() []uint64 {
	a.funcOnce.Do(a.buildFunctions)
	return a.funcs
}

func (a *Analyzer) buildFunctions() {
	text, ok := a.dump.Section(".text")
	if !ok {
		a.log.Warn("function table unavailable, no .text section")
		return
	}
	buf := a.dump.ReadBytes(text.VirtualOffset, int(text.VirtualSize))
	if len(buf) == 0 {
		a.log.Warn("function table unavailable, .text unreadable",
			"offset", text.VirtualOffset, "size", text.VirtualSize)
		return
	}

	textEnd := text.VirtualOffset + text.VirtualSize
	seen := make(map[uint64]struct{})
	var funcs []uint64

	for off := uint64(0); off < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[off:], text.VirtualOffset+off)
		if err != nil {
			off++
			continue
		}
		if target, ok := inst.CallTarget(); ok {
			// Calls leaving .text point at imports or thunks in
			// other sections, not at functions we can anchor on.
			if target >= text.VirtualOffset && target < textEnd {
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					funcs = append(funcs, target)
				}
			}
		}
		off += uint64(inst.Len)
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i] < funcs[j] })
	a.funcs = funcs
	a.log.Debug("function table built", "functions", len(funcs))
}
