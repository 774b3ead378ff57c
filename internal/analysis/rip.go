package analysis

import (
	"cof/internal/disasm"
)

// InstFilter accepts or rejects a decoded instruction during a scan. A
// nil filter accepts everything.
type InstFilter func(disasm.Inst) bool

// ResolveRipRelative returns the first instruction in the window whose
// operand is either a RIP-based memory reference or a relative branch
// displacement, along with the end-relative target it resolves to.
func (a *Analyzer) ResolveRipRelative(off, size uint64, filter InstFilter) (Range, uint64, bool) {
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return Range{}, 0, false
	}

	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			pos++
			continue
		}
		if filter != nil && !filter(inst) {
			pos += uint64(inst.Len)
			continue
		}
		if target, ok := inst.RelativeTarget(); ok {
			return Range{Offset: inst.Offset, Size: uint64(inst.Len)}, target, true
		}
		pos += uint64(inst.Len)
	}
	return Range{}, 0, false
}

// FindRipRelativeReference returns the first instruction in the window
// whose resolved end-relative target equals target.
func (a *Analyzer) FindRipRelativeReference(off, size, target uint64, filter InstFilter) (Range, bool) {
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return Range{}, false
	}

	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			pos++
			continue
		}
		if filter != nil && !filter(inst) {
			pos += uint64(inst.Len)
			continue
		}
		if resolved, ok := inst.RelativeTarget(); ok && resolved == target {
			return Range{Offset: inst.Offset, Size: uint64(inst.Len)}, true
		}
		pos += uint64(inst.Len)
	}
	return Range{}, false
}

// ExtractImmediate returns the first immediate operand decoded inside
// the window, sign-extended, with the instruction carrying it.
func (a *Analyzer) ExtractImmediate(off, size uint64) (Range, uint64, bool) {
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return Range{}, 0, false
	}

	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			pos++
			continue
		}
		if v, ok := inst.Immediate(); ok {
			return Range{Offset: inst.Offset, Size: uint64(inst.Len)}, v, true
		}
		pos += uint64(inst.Len)
	}
	return Range{}, 0, false
}

// ExtractDisplacement returns the first memory-operand displacement
// decoded inside the window, with the instruction carrying it.
func (a *Analyzer) ExtractDisplacement(off, size uint64) (Range, uint32, bool) {
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return Range{}, 0, false
	}

	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			pos++
			continue
		}
		if v, ok := inst.Displacement(); ok {
			return Range{Offset: inst.Offset, Size: uint64(inst.Len)}, v, true
		}
		pos += uint64(inst.Len)
	}
	return Range{}, 0, false
}
