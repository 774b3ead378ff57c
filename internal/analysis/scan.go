package analysis

import (
	"cof/internal/disasm"
	"cof/internal/pattern"
)

// Subsequence is the result of an ordered multi-element scan: one Range
// per element plus the overall coverage from the first element's start
// to the last element's end.
type Subsequence struct {
	Coverage Range
	Matches  []Range
}

// FindPattern returns the first match of the byte pattern inside the
// window. When the pattern is longer than the window, the read widens to
// the pattern length so that a match starting inside the window can
// still complete. A malformed pattern is unmatchable.
func (a *Analyzer) FindPattern(off, size uint64, text string) (Range, bool) {
	pat, err := pattern.Parse(text)
	if err != nil {
		a.log.Warn("unmatchable pattern", "pattern", text, "err", err)
		return Range{}, false
	}

	bufSize := size
	if n := uint64(len(pat)); n > bufSize {
		bufSize = n
	}
	buf := a.dump.ReadBytes(off, int(bufSize))
	if len(buf) == 0 {
		return Range{}, false
	}

	idx, ok := pat.Find(buf)
	if !ok {
		return Range{}, false
	}
	return Range{Offset: off + uint64(idx), Size: uint64(len(pat))}, true
}

// FindPatternSubsequence locates every pattern in declared order, each
// search starting at the previous match's end with the remaining window
// shrunk accordingly. It fails as soon as any element misses.
func (a *Analyzer) FindPatternSubsequence(off, size uint64, texts []string) (Subsequence, bool) {
	if len(texts) == 0 {
		return Subsequence{}, false
	}

	out := Subsequence{Matches: make([]Range, 0, len(texts))}
	nextOff, remaining := off, size

	for _, text := range texts {
		m, ok := a.FindPattern(nextOff, remaining, text)
		if !ok {
			return Subsequence{}, false
		}
		out.Matches = append(out.Matches, m)

		nextOff = m.End()
		if consumed := nextOff - off; consumed < size {
			remaining = size - consumed
		} else {
			remaining = 0
		}
	}

	first, last := out.Matches[0], out.Matches[len(out.Matches)-1]
	out.Coverage = Range{Offset: first.Offset, Size: last.End() - first.Offset}
	return out, true
}

// FindInstructionSequence scans the window for the templates matching
// consecutively decoded instructions. A mismatch resets the sequence to
// its first element and scanning continues at the following instruction;
// a decode failure resets it and advances one byte.
func (a *Analyzer) FindInstructionSequence(off, size uint64, tmpls []disasm.Instruction) (Subsequence, bool) {
	return a.findInstructions(off, size, tmpls, true)
}

// FindInstructionSubsequence scans the window for the templates in
// declared order, allowing any number of instructions between matches.
// Decode failures advance one byte without losing progress.
func (a *Analyzer) FindInstructionSubsequence(off, size uint64, tmpls []disasm.Instruction) (Subsequence, bool) {
	return a.findInstructions(off, size, tmpls, false)
}

func (a *Analyzer) findInstructions(off, size uint64, tmpls []disasm.Instruction, contiguous bool) (Subsequence, bool) {
	if len(tmpls) == 0 {
		return Subsequence{}, false
	}
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return Subsequence{}, false
	}

	matches := make([]Range, 0, len(tmpls))
	idx := 0

	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			if contiguous {
				idx, matches = 0, matches[:0]
			}
			pos++
			continue
		}

		if !disasm.Match(inst.Inst, tmpls[idx]) {
			if contiguous {
				idx, matches = 0, matches[:0]
			}
			pos += uint64(inst.Len)
			continue
		}

		matches = append(matches, Range{Offset: inst.Offset, Size: uint64(inst.Len)})
		idx++
		if idx == len(tmpls) {
			first := matches[0]
			return Subsequence{
				Coverage: Range{Offset: first.Offset, Size: inst.End() - first.Offset},
				Matches:  matches,
			}, true
		}
		pos += uint64(inst.Len)
	}

	return Subsequence{}, false
}
