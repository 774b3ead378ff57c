package search

import (
	"github.com/charmbracelet/log"
	"golang.org/x/arch/x86/x86asm"

	"cof/internal/analysis"
	"cof/internal/disasm"
)

// DefaultRegionHandler prepares a region before its targets run by
// resolving its base address.
func DefaultRegionHandler(f *Finder, region *Region) bool {
	return SetBase(f, region)
}

// SetBase resolves a region's base: section regions from the PE
// header, function regions by matching anchors against the call-target
// table. Regions that need no resolution pass through untouched.
func SetBase(f *Finder, region *Region) bool {
	switch region.RegionType {
	case RegionFunction:
		_, ok := f.FindFunctionBase(region)
		return ok
	case RegionSection:
		if region.RegionID != RegionIDText {
			return true
		}
		text, ok := f.dump.Section(".text")
		if !ok {
			f.log.Warn("executable section not present", "region", region.RegionID)
			return false
		}
		region.RegionRange.Offset = text.VirtualOffset
		region.RegionRange.Size = text.VirtualSize
		return true
	}
	return true
}

// FindFunctionBase walks the call-target table for the one function
// whose body satisfies every anchor of the region, and stores its
// start as the region base. The expected function size, widened by its
// variation, bounds each anchor scan.
func (f *Finder) FindFunctionBase(region *Region) (uint64, bool) {
	f.log.Info("resolving function base", "region", region.RegionID)
	if len(region.Anchors) == 0 {
		f.log.Warn("region has no anchors", "region", region.RegionID)
		return 0, false
	}
	fnSize := region.RegionRange.Size + region.RegionRange.SizeVariation
	if fnSize == 0 {
		f.log.Warn("region size not defined", "region", region.RegionID)
		return 0, false
	}

	// String anchors resolve to concrete data offsets once, up front.
	// A literal that is not in the dump rules out every candidate.
	stringRefs := make(map[int]uint64)
	for i, anchor := range region.Anchors {
		if anchor.Type != AnchorString {
			continue
		}
		matches := f.analyzer.FindString(anchor.Text, analysis.StringUTF16, anchor.Index+1)
		if len(matches) <= anchor.Index {
			f.log.Warn("anchor string not present in dump", "region", region.RegionID, "text", anchor.Text)
			return 0, false
		}
		stringRefs[i] = matches[anchor.Index]
	}

	templates := make(map[int][]disasm.Instruction)
	for i, anchor := range region.Anchors {
		if anchor.Type != AnchorInstructionSubsequence {
			continue
		}
		parsed, ok := parseInstructionLines(f.log, anchor.Lines)
		if !ok {
			return 0, false
		}
		templates[i] = parsed
	}

	loadsAddress := func(in disasm.Inst) bool {
		return in.Op == x86asm.LEA && len(disasm.VisibleArgs(in.Inst)) >= 2
	}

	functions := f.analyzer.Functions()
	for ci, candidate := range functions {
		anchorOffsets := make([]uint64, 0, len(region.Anchors))
		for i, anchor := range region.Anchors {
			var (
				offset uint64
				found  bool
			)
			switch anchor.Type {
			case AnchorString:
				r, ok := f.analyzer.FindRipRelativeReference(candidate, fnSize, stringRefs[i], loadsAddress)
				offset, found = r.Offset, ok
			case AnchorPattern:
				r, ok := f.analyzer.FindPattern(candidate, fnSize, anchor.Text)
				offset, found = r.Offset, ok
			case AnchorPatternSubsequence:
				sub, ok := f.analyzer.FindPatternSubsequence(candidate, fnSize, anchor.Lines)
				offset, found = sub.Coverage.Offset, ok
			case AnchorInstructionSubsequence:
				sub, ok := f.analyzer.FindInstructionSubsequence(candidate, fnSize, templates[i])
				offset, found = sub.Coverage.Offset, ok
			}
			if !found {
				break
			}
			anchorOffsets = append(anchorOffsets, offset)
		}
		if len(anchorOffsets) != len(region.Anchors) {
			continue
		}

		// Every anchor must land strictly inside this candidate's span,
		// not in the function that follows it.
		verified := 0
		if ci+1 < len(functions) {
			next := functions[ci+1]
			for _, offset := range anchorOffsets {
				if offset <= candidate || offset >= next {
					break
				}
				f.log.Debug("anchor verified inside candidate", "region", region.RegionID, "anchor", hex(offset))
				verified++
			}
		}
		if verified != len(anchorOffsets) {
			continue
		}

		f.log.Info("function base resolved", "region", region.RegionID, "base", hex(candidate))
		region.RegionRange.Offset = candidate
		return candidate, true
	}

	f.log.Warn("no function satisfies the region anchors", "region", region.RegionID)
	return 0, false
}

func parseInstructionLines(logger *log.Logger, lines []string) ([]disasm.Instruction, bool) {
	if len(lines) == 0 {
		logger.Warn("instruction sequence is empty")
		return nil, false
	}
	out := make([]disasm.Instruction, 0, len(lines))
	for _, line := range lines {
		in, err := disasm.ParseInstruction(line)
		if err != nil {
			logger.Warn("unparsable instruction in sequence", "text", line, "err", err)
			return nil, false
		}
		out = append(out, in)
	}
	return out, true
}
