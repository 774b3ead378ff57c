package search

import (
	"sort"

	"cof/internal/analysis"
)

// Handler satisfies one search target inside its region. Returning
// false leaves the target unhandled; the pass moves on.
type Handler func(f *Finder, region *Region, target *Target) bool

// SearchHandler binds a handler to the search type it serves.
type SearchHandler struct {
	Type SearchType
	Fn   Handler
}

// DefaultHandlers is the standard handler table covering every search
// type the configuration can name.
func DefaultHandlers() []SearchHandler {
	return []SearchHandler{
		{SearchImmediate, ImmediateHandler},
		{SearchDisplacement, DisplacementHandler},
		{SearchReference, ReferenceHandler},
		{SearchXReference, XReferenceHandler},
		{SearchTslDecryptor32, TslDecryptorHandler32},
		{SearchTslDecryptor64, TslDecryptorHandler64},
	}
}

// SetBoundaries computes the window a target may scan, relative to the
// region base. Offset variation widens the window on both ends; a size
// within its own variation means no usable size was declared and the
// whole region is scanned instead. The window never reaches past the
// region.
func SetBoundaries(region *Region, target *Target) Range {
	regionSize := region.RegionRange.Size
	regionVar := region.RegionRange.SizeVariation
	size := target.SearchRange.Size
	sizeVar := target.SearchRange.SizeVariation
	offVar := target.SearchRange.OffsetVariation

	offLow := target.SearchRange.Offset
	sizeHigh := offVar + size + sizeVar

	if offLow >= offVar {
		offLow -= offVar
	}
	if size <= sizeVar {
		var v uint64
		if sizeVar == 0 {
			v = regionVar
		}
		sizeHigh = regionSize + v
	}
	if total := regionSize + regionVar; offLow+sizeHigh > total {
		if offLow >= total {
			sizeHigh = 0
		} else {
			sizeHigh = total - offLow
		}
	}

	return Range{Offset: offLow, Size: sizeHigh}
}

// extraction is what an extractor recovered: the instruction range it
// came from and the value itself.
type extraction[T any] struct {
	instr analysis.Range
	value T
}

// extractor reads one value out of an absolute window.
type extractor[T any] func(off, size uint64) (analysis.Range, T, bool)

// extractValue runs the matcher pipeline for one target and applies
// the extractor at the located instruction. The returned coverage is
// the absolute span the matchers agreed on, or the extractor's own
// instruction range when the target declares no matchers.
func extractValue[T any](f *Finder, region *Region, target *Target, ext extractor[T]) (extraction[T], Range, bool) {
	window := SetBoundaries(region, target)
	base := region.RegionRange.Offset

	if target.Mode == MatcherModeNone {
		f.log.Debug("extracting over bare window", "search", target.SearchID,
			"offset", hex(base+window.Offset), "size", hex(window.Size))
		instr, value, ok := ext(base+window.Offset, window.Size)
		if !ok {
			return extraction[T]{}, Range{}, false
		}
		return extraction[T]{instr, value}, Range{Offset: instr.Offset, Size: instr.Size}, true
	}

	if len(target.Matchers) == 0 {
		f.log.Warn("matcher mode set but no matchers declared", "search", target.SearchID, "mode", target.Mode)
		return extraction[T]{}, Range{}, false
	}

	toMatch := 1
	if target.Mode == MatcherModeAll {
		toMatch = len(target.Matchers)
	}

	var (
		spans       []analysis.Range
		instOffsets []uint64
		instOffset  uint64
	)
	for i := range target.Matchers {
		m := &target.Matchers[i]
		f.log.Debug("locating target instruction", "search", target.SearchID, "matcher", m.Type)
		anchor, span, ok, fatal := f.runMatcher(base+window.Offset, window.Size, m)
		if fatal {
			return extraction[T]{}, Range{}, false
		}
		if !ok {
			continue
		}
		spans = append(spans, span)
		instOffset = anchor.Offset + m.Offset
		instOffsets = append(instOffsets, instOffset)
		if len(instOffsets) == toMatch {
			break
		}
	}
	if len(instOffsets) < toMatch {
		f.log.Warn("matchers failed to locate the instruction", "search", target.SearchID, "mode", target.Mode)
		return extraction[T]{}, Range{}, false
	}
	for _, off := range instOffsets {
		if off == instOffset {
			continue
		}
		f.log.Warn("matchers disagree on the instruction offset", "search", target.SearchID)
		for i, o := range instOffsets {
			f.log.Warn("matcher instruction offset", "matcher", i, "offset", hex(o))
		}
		return extraction[T]{}, Range{}, false
	}

	coverage := spans[0]
	for _, s := range spans[1:] {
		if s.Offset < coverage.Offset {
			coverage.Size = coverage.End() - s.Offset
			coverage.Offset = s.Offset
		}
		if s.End() > coverage.End() {
			coverage.Size = s.End() - coverage.Offset
		}
	}

	instr, value, ok := ext(instOffset, window.Size)
	if !ok {
		return extraction[T]{}, Range{}, false
	}
	return extraction[T]{instr, value}, Range{Offset: coverage.Offset, Size: coverage.Size}, true
}

// runMatcher runs one matcher over an absolute window. The anchor is
// the element the target instruction is measured from; the span is the
// full matched extent. A fatal result aborts the whole pipeline, which
// happens when the matcher itself is malformed.
func (f *Finder) runMatcher(off, size uint64, m *Matcher) (anchor, span analysis.Range, ok, fatal bool) {
	switch m.Type {
	case MatcherPattern:
		r, found := f.analyzer.FindPattern(off, size, m.Pattern)
		return r, r, found, false
	case MatcherPatternSubsequence:
		sub, found := f.analyzer.FindPatternSubsequence(off, size, m.Lines)
		if !found {
			return analysis.Range{}, analysis.Range{}, false, false
		}
		if m.Index < 0 || m.Index >= len(sub.Matches) {
			f.log.Warn("matcher index outside the matched elements", "index", m.Index)
			return analysis.Range{}, analysis.Range{}, false, false
		}
		return sub.Matches[m.Index], sub.Coverage, true, false
	case MatcherInstructionSubsequence:
		tmpls, good := parseInstructionLines(f.log, m.Lines)
		if !good {
			return analysis.Range{}, analysis.Range{}, false, true
		}
		sub, found := f.analyzer.FindInstructionSubsequence(off, size, tmpls)
		if !found {
			return analysis.Range{}, analysis.Range{}, false, false
		}
		if m.Index < 0 || m.Index >= len(sub.Matches) {
			f.log.Warn("matcher index outside the matched elements", "index", m.Index)
			return analysis.Range{}, analysis.Range{}, false, false
		}
		return sub.Matches[m.Index], sub.Coverage, true, false
	}
	return analysis.Range{}, analysis.Range{}, false, false
}

// ImmediateHandler extracts the first immediate operand found in the
// target's window.
func ImmediateHandler(f *Finder, region *Region, target *Target) bool {
	ext, coverage, ok := extractValue(f, region, target, f.analyzer.ExtractImmediate)
	if !ok {
		f.log.Warn("immediate value not found", "search", target.SearchID)
		return false
	}
	f.log.Info("immediate value found", "search", target.SearchID, "value", hex(ext.value))
	f.syncCoverage(coverage, region, target)
	f.AddFinding(Finding{Target: target, Value: ScalarValue{Bits: 64, Value: ext.value}})
	return true
}

// DisplacementHandler extracts the first memory displacement found in
// the target's window.
func DisplacementHandler(f *Finder, region *Region, target *Target) bool {
	ext, coverage, ok := extractValue(f, region, target, f.analyzer.ExtractDisplacement)
	if !ok {
		f.log.Warn("displacement value not found", "search", target.SearchID)
		return false
	}
	f.log.Info("displacement value found", "search", target.SearchID, "value", hex(uint64(ext.value)))
	f.syncCoverage(coverage, region, target)
	f.AddFinding(Finding{Target: target, Value: ScalarValue{Bits: 32, Value: uint64(ext.value)}})
	return true
}

// ReferenceHandler resolves the first RIP-relative operand found in
// the target's window to its absolute target.
func ReferenceHandler(f *Finder, region *Region, target *Target) bool {
	ext, coverage, ok := extractValue(f, region, target, func(off, size uint64) (analysis.Range, uint64, bool) {
		return f.analyzer.ResolveRipRelative(off, size, nil)
	})
	if !ok {
		f.log.Warn("reference target not resolved", "search", target.SearchID)
		return false
	}
	f.log.Info("reference resolved", "search", target.SearchID, "target", hex(ext.value))
	f.syncCoverage(coverage, region, target)
	f.AddFinding(Finding{Target: target, Value: ScalarValue{Bits: 64, Value: ext.value}})
	return true
}

// XReferenceHandler resolves a RIP-relative target and hands it to the
// named follow-up region as that region's base, then runs the
// follow-up region's targets in place. The source target produces no
// finding of its own.
func XReferenceHandler(f *Finder, region *Region, target *Target) bool {
	ext, coverage, ok := extractValue(f, region, target, func(off, size uint64) (analysis.Range, uint64, bool) {
		return f.analyzer.ResolveRipRelative(off, size, nil)
	})
	if !ok {
		f.log.Warn("cross-reference not resolved", "search", target.SearchID)
		return false
	}
	f.log.Info("cross-reference resolved", "search", target.SearchID, "target", hex(ext.value))

	handled := false
	for _, next := range f.regions {
		if next.RegionID != target.NextRegion {
			continue
		}
		if next.AccessType != AccessXReference {
			f.log.Warn("matching region is not declared as a cross-reference",
				"region", next.RegionID, "search", target.SearchID)
			continue
		}
		if f.visited[next.RegionID] {
			f.log.Warn("cross-reference cycle refused", "region", next.RegionID, "search", target.SearchID)
			continue
		}
		f.visited[next.RegionID] = true
		next.RegionRange.Offset = ext.value
		f.HandleTargets(next)
		handled = true
		break
	}

	f.syncCoverage(coverage, region, target)
	if !handled {
		f.log.Warn("cross-reference region not handled", "search", target.SearchID, "region", target.NextRegion)
		return false
	}
	return true
}

// TslDecryptorHandler32 recovers 32-bit xor/rotate/shift decryption
// routines from the target's window.
func TslDecryptorHandler32(f *Finder, region *Region, target *Target) bool {
	return decryptorHandler(f, region, target, analysis.Width32)
}

// TslDecryptorHandler64 recovers 64-bit xor/rotate/shift decryption
// routines from the target's window.
func TslDecryptorHandler64(f *Finder, region *Region, target *Target) bool {
	return decryptorHandler(f, region, target, analysis.Width64)
}

func decryptorHandler(f *Finder, region *Region, target *Target, width analysis.DecryptorWidth) bool {
	window := SetBoundaries(region, target)
	base := region.RegionRange.Offset

	set, ok := f.analyzer.ExtractDecryptors(base+window.Offset, window.Size, width)
	if !ok {
		f.log.Warn("no decryptor routine found", "search", target.SearchID, "type", target.SearchType)
		return false
	}

	if target.Group != nil {
		return f.handleDecryptorGroup(target, set)
	}

	f.log.Info("decryptor routine found", "search", target.SearchID,
		"xor1", hex(set.Decryptors[0].Xor1), "xor2", hex(set.Decryptors[0].Xor2))
	rel := Range{Offset: set.Coverage.Offset - base, Size: set.Coverage.Size}
	f.syncSearchRange(rel, region, target)
	f.AddFinding(Finding{Target: target, Value: DecryptorValue{set.Decryptors[0]}})
	target.Handled = true
	return true
}

// handleDecryptorGroup serves every member of the target's group from
// one extraction pass. The extracted routine count must equal the
// member count and every member needs a usable index before any
// finding is recorded; a group that fails stays unhandled.
func (f *Finder) handleDecryptorGroup(target *Target, set analysis.DecryptorSet) bool {
	var members []*Target
	for _, region := range f.regions {
		for _, t := range region.SearchFor {
			if t.Group == nil || t.Group.ID != target.Group.ID {
				continue
			}
			if t.SearchType != target.SearchType {
				f.log.Warn("group member has a different search type",
					"group", target.Group.ID, "search", t.SearchID, "type", t.SearchType)
				continue
			}
			members = append(members, t)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return groupIndex(members[i]) < groupIndex(members[j])
	})

	switch {
	case len(set.Decryptors) < len(members):
		f.log.Warn("too few decryptors for group", "group", target.Group.ID,
			"got", len(set.Decryptors), "want", len(members))
		return false
	case len(set.Decryptors) > len(members):
		f.log.Warn("too many decryptors for group", "group", target.Group.ID,
			"got", len(set.Decryptors), "want", len(members))
		return false
	}
	for _, m := range members {
		if idx := groupIndex(m); idx < 0 || idx >= len(set.Decryptors) {
			f.log.Warn("group member has no usable index", "group", target.Group.ID, "search", m.SearchID)
			return false
		}
	}

	f.log.Info("decryptor group resolved", "group", target.Group.ID, "count", len(members))
	for _, m := range members {
		f.AddFinding(Finding{Target: m, Value: DecryptorValue{set.Decryptors[groupIndex(m)]}})
		m.Handled = true
	}
	return true
}

func groupIndex(t *Target) int {
	if t.Group == nil || t.Group.Index == nil {
		return -1
	}
	return int(*t.Group.Index)
}
