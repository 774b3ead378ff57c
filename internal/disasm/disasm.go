// Package disasm adapts the x86-64 instruction decoder to the shapes the
// scanning code works with: positioned instructions, visible operand
// lists, end-relative target resolution, and partially-wildcarded
// instruction templates parsed from text.
package disasm

import (
	"golang.org/x/arch/x86/x86asm"
)

// Inst is one decoded instruction positioned inside a scanned window.
type Inst struct {
	x86asm.Inst
	Offset uint64
}

// End returns the offset of the byte immediately after the instruction.
func (in Inst) End() uint64 {
	return in.Offset + uint64(in.Len)
}

// Decode decodes a single 64-bit mode instruction at the start of buf,
// recording offset as its position.
func Decode(buf []byte, offset uint64) (Inst, error) {
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		return Inst{}, err
	}
	return Inst{Inst: inst, Offset: offset}, nil
}

// VisibleArgs returns the candidate's visible operands (the leading
// non-nil entries of Args).
func VisibleArgs(inst x86asm.Inst) []x86asm.Arg {
	n := 0
	for n < len(inst.Args) && inst.Args[n] != nil {
		n++
	}
	return inst.Args[:n]
}

// DispSize estimates the encoded displacement width in bits of a memory
// operand. RIP-relative addressing always encodes a 32-bit displacement;
// otherwise a zero displacement is taken as not encoded at all.
func DispSize(m x86asm.Mem) int {
	if m.Base == x86asm.RIP {
		return 32
	}
	if m.Disp == 0 {
		return 0
	}
	if m.Disp >= -128 && m.Disp <= 127 {
		return 8
	}
	return 32
}

// RelativeTarget resolves the instruction's end-relative target: for a
// [rip+disp] memory operand it is End+disp, for a relative branch
// immediate End+rel. False when the instruction carries neither.
func (in Inst) RelativeTarget() (uint64, bool) {
	for _, arg := range VisibleArgs(in.Inst) {
		switch v := arg.(type) {
		case x86asm.Mem:
			if v.Base == x86asm.RIP && DispSize(v) > 0 {
				return in.End() + uint64(v.Disp), true
			}
		case x86asm.Rel:
			return in.End() + uint64(int64(v)), true
		}
	}
	return 0, false
}

// Immediate returns the value of the first immediate operand. Relative
// branch displacements count as immediates, sign-extended.
func (in Inst) Immediate() (uint64, bool) {
	for _, arg := range VisibleArgs(in.Inst) {
		switch v := arg.(type) {
		case x86asm.Imm:
			return uint64(int64(v)), true
		case x86asm.Rel:
			return uint64(int64(v)), true
		}
	}
	return 0, false
}

// Displacement returns the displacement of the first memory operand that
// encodes one.
func (in Inst) Displacement() (uint32, bool) {
	for _, arg := range VisibleArgs(in.Inst) {
		if m, ok := arg.(x86asm.Mem); ok && DispSize(m) > 0 {
			return uint32(m.Disp), true
		}
	}
	return 0, false
}

// CallTarget returns the end-relative callee offset of a direct CALL.
func (in Inst) CallTarget() (uint64, bool) {
	if in.Op != x86asm.CALL {
		return 0, false
	}
	rel, ok := in.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return in.End() + uint64(int64(rel)), true
}
