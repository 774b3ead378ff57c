package disasm

import (
	"golang.org/x/arch/x86/x86asm"
)

// OperandKind tags the shape an Operand template constrains.
type OperandKind uint8

const (
	OperandAny OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
)

// MemOperand is a partially-wildcarded memory operand. Only fields with
// their Has flag set participate in matching.
type MemOperand struct {
	Base     x86asm.Reg
	HasBase  bool
	Index    x86asm.Reg
	HasIndex bool
	Scale    uint8
	HasScale bool
	Disp     int64
	HasDisp  bool
}

// Operand is one instruction-template operand. The zero value matches
// any operand.
type Operand struct {
	Kind OperandKind
	Reg  x86asm.Reg
	Imm  uint64
	Mem  MemOperand
}

// Instruction is a partially-wildcarded instruction template. A zero Op
// matches any mnemonic. The operand vector length must equal a
// candidate's visible operand count for the candidate to match.
type Instruction struct {
	Op       x86asm.Op
	Operands []Operand
}

// Match reports whether the decoded instruction satisfies the template.
func Match(inst x86asm.Inst, tmpl Instruction) bool {
	if tmpl.Op != 0 && inst.Op != tmpl.Op {
		return false
	}
	args := VisibleArgs(inst)
	if len(args) != len(tmpl.Operands) {
		return false
	}
	for i, op := range tmpl.Operands {
		if !matchOperand(inst, args[i], op) {
			return false
		}
	}
	return true
}

func matchOperand(inst x86asm.Inst, arg x86asm.Arg, op Operand) bool {
	switch op.Kind {
	case OperandAny:
		return true
	case OperandReg:
		r, ok := arg.(x86asm.Reg)
		return ok && r == op.Reg
	case OperandImm:
		switch v := arg.(type) {
		case x86asm.Imm:
			return truncEqual(uint64(int64(v)), op.Imm, inst.DataSize)
		case x86asm.Rel:
			return truncEqual(uint64(int64(v)), op.Imm, inst.DataSize)
		}
		return false
	case OperandMem:
		m, ok := arg.(x86asm.Mem)
		if !ok {
			return false
		}
		t := op.Mem
		if t.HasBase && m.Base != t.Base {
			return false
		}
		if t.HasIndex && m.Index != t.Index {
			return false
		}
		if t.HasScale && m.Scale != t.Scale {
			return false
		}
		if t.HasDisp && m.Disp != t.Disp {
			return false
		}
		return true
	}
	return false
}

// truncEqual compares an immediate against a template value with both
// sides truncated to the instruction's operand width. Sign-extended
// encodings compare equal to their unsigned spelling that way.
func truncEqual(got, want uint64, bits int) bool {
	if bits <= 0 || bits >= 64 {
		return got == want
	}
	mask := uint64(1)<<uint(bits) - 1
	return got&mask == want&mask
}
