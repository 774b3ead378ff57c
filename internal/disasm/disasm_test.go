package disasm

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func decodeOne(t *testing.T, buf []byte, offset uint64) Inst {
	t.Helper()
	in, err := Decode(buf, offset)
	if err != nil {
		t.Fatalf("Decode(% x): %v", buf, err)
	}
	return in
}

func TestDecodeImmediate(t *testing.T) {
	// mov edx, 0x12345678
	in := decodeOne(t, []byte{0xBA, 0x78, 0x56, 0x34, 0x12}, 0x1000)
	if in.Op != x86asm.MOV {
		t.Fatalf("op = %v, want MOV", in.Op)
	}
	if in.Len != 5 {
		t.Fatalf("len = %d, want 5", in.Len)
	}
	if in.End() != 0x1005 {
		t.Errorf("end = %#x, want 0x1005", in.End())
	}
	v, ok := in.Immediate()
	if !ok || v != 0x12345678 {
		t.Errorf("immediate = %#x ok=%v, want 0x12345678", v, ok)
	}
}

func TestDecodeDisplacement(t *testing.T) {
	// mov rax, [rip+0x11223344]
	in := decodeOne(t, []byte{0x48, 0x8B, 0x05, 0x44, 0x33, 0x22, 0x11}, 0x2000)
	d, ok := in.Displacement()
	if !ok || d != 0x11223344 {
		t.Fatalf("displacement = %#x ok=%v, want 0x11223344", d, ok)
	}
	target, ok := in.RelativeTarget()
	if !ok || target != 0x2007+0x11223344 {
		t.Errorf("target = %#x ok=%v, want %#x", target, ok, uint64(0x2007+0x11223344))
	}

	// mov rax, [rax] encodes no displacement
	in = decodeOne(t, []byte{0x48, 0x8B, 0x00}, 0)
	if _, ok := in.Displacement(); ok {
		t.Error("zero displacement reported as encoded")
	}

	// mov rax, [rax+0x10] encodes an 8-bit displacement
	in = decodeOne(t, []byte{0x48, 0x8B, 0x40, 0x10}, 0)
	d, ok = in.Displacement()
	if !ok || d != 0x10 {
		t.Errorf("displacement = %#x ok=%v, want 0x10", d, ok)
	}
}

func TestCallTarget(t *testing.T) {
	tests := []struct {
		name   string
		buf    []byte
		offset uint64
		want   uint64
	}{
		{"forward", []byte{0xE8, 0x10, 0x00, 0x00, 0x00}, 0x100, 0x115},
		{"backward", []byte{0xE8, 0xFB, 0xFF, 0xFF, 0xFF}, 0x100, 0x100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := decodeOne(t, tt.buf, tt.offset)
			got, ok := in.CallTarget()
			if !ok || got != tt.want {
				t.Errorf("call target = %#x ok=%v, want %#x", got, ok, tt.want)
			}
		})
	}

	// ret has no call target
	in := decodeOne(t, []byte{0xC3}, 0)
	if _, ok := in.CallTarget(); ok {
		t.Error("ret reported a call target")
	}
}

func TestParseInstruction(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		check   func(t *testing.T, in Instruction)
	}{
		{
			name: "register and rip memory",
			text: "mov rax, [rip+0x1234]",
			check: func(t *testing.T, in Instruction) {
				if in.Op != x86asm.MOV || len(in.Operands) != 2 {
					t.Fatalf("parsed %v with %d operands", in.Op, len(in.Operands))
				}
				if in.Operands[0].Kind != OperandReg || in.Operands[0].Reg != x86asm.RAX {
					t.Errorf("operand 0 = %+v, want RAX", in.Operands[0])
				}
				m := in.Operands[1].Mem
				if in.Operands[1].Kind != OperandMem || !m.HasBase || m.Base != x86asm.RIP || !m.HasDisp || m.Disp != 0x1234 {
					t.Errorf("operand 1 = %+v", in.Operands[1])
				}
			},
		},
		{
			name: "wildcard mnemonic and operands",
			text: "? ?, ?",
			check: func(t *testing.T, in Instruction) {
				if in.Op != 0 || len(in.Operands) != 2 {
					t.Fatalf("parsed %v with %d operands", in.Op, len(in.Operands))
				}
				for i, op := range in.Operands {
					if op.Kind != OperandAny {
						t.Errorf("operand %d kind = %v, want any", i, op.Kind)
					}
				}
			},
		},
		{
			name: "scaled index with negative displacement",
			text: "mov rax, [rbx+rcx*4-0x20]",
			check: func(t *testing.T, in Instruction) {
				m := in.Operands[1].Mem
				if !m.HasBase || m.Base != x86asm.RBX {
					t.Errorf("base = %+v", m)
				}
				if !m.HasIndex || m.Index != x86asm.RCX || !m.HasScale || m.Scale != 4 {
					t.Errorf("index/scale = %+v", m)
				}
				if !m.HasDisp || m.Disp != -0x20 {
					t.Errorf("disp = %+v", m)
				}
			},
		},
		{
			name: "wildcard base with displacement",
			text: "mov rax, [?+0x8]",
			check: func(t *testing.T, in Instruction) {
				m := in.Operands[1].Mem
				if m.HasBase || !m.HasDisp || m.Disp != 8 {
					t.Errorf("mem = %+v", m)
				}
			},
		},
		{
			name: "no operands",
			text: "ret",
			check: func(t *testing.T, in Instruction) {
				if in.Op != x86asm.RET || len(in.Operands) != 0 {
					t.Errorf("parsed %v with %d operands", in.Op, len(in.Operands))
				}
			},
		},
		{
			name: "immediate operand",
			text: "xor ?, 0x2F",
			check: func(t *testing.T, in Instruction) {
				if in.Op != x86asm.XOR {
					t.Fatalf("op = %v", in.Op)
				}
				if in.Operands[1].Kind != OperandImm || in.Operands[1].Imm != 0x2F {
					t.Errorf("operand 1 = %+v", in.Operands[1])
				}
			},
		},
		{
			name:    "unknown mnemonic",
			text:    "frobnicate rax",
			wantErr: true,
		},
		{
			name:    "bad operand",
			text:    "mov rax, zzz",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInstruction(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInstruction(%q) succeeded", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInstruction(%q): %v", tt.text, err)
			}
			tt.check(t, in)
		})
	}
}

func TestMatch(t *testing.T) {
	ripMov := decodeOne(t, []byte{0x48, 0x8B, 0x05, 0x44, 0x33, 0x22, 0x11}, 0).Inst
	xorRegs := decodeOne(t, []byte{0x48, 0x31, 0xD8}, 0).Inst // xor rax, rbx

	tests := []struct {
		name string
		inst x86asm.Inst
		text string
		want bool
	}{
		{"exact rip move", ripMov, "mov rax, [rip+0x11223344]", true},
		{"wrong displacement", ripMov, "mov rax, [rip+0x11223345]", false},
		{"wildcard operands", ripMov, "mov ?, ?", true},
		{"fully wildcarded", ripMov, "? ?, ?", true},
		{"operand count mismatch", ripMov, "mov rax", false},
		{"wrong mnemonic", ripMov, "lea rax, [rip+0x11223344]", false},
		{"register pair", xorRegs, "xor rax, rbx", true},
		{"wrong source register", xorRegs, "xor rax, rcx", false},
		{"memory template against register", xorRegs, "xor rax, [rbx]", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseInstruction(tt.text)
			if err != nil {
				t.Fatalf("ParseInstruction(%q): %v", tt.text, err)
			}
			if got := Match(tt.inst, tmpl); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatchSignExtendedImmediate(t *testing.T) {
	// xor eax, -1 encoded with a sign-extended imm8; a 32-bit template
	// spelling must still match through width truncation.
	in := decodeOne(t, []byte{0x83, 0xF0, 0xFF}, 0)
	tmpl, err := ParseInstruction("xor eax, 0xFFFFFFFF")
	if err != nil {
		t.Fatal(err)
	}
	if !Match(in.Inst, tmpl) {
		t.Error("sign-extended immediate did not match 32-bit spelling")
	}
}

func TestLookupTables(t *testing.T) {
	if op, ok := LookupMnemonic("mOv"); !ok || op != x86asm.MOV {
		t.Errorf("LookupMnemonic(mOv) = %v %v", op, ok)
	}
	if reg, ok := LookupRegister("r12"); !ok || reg != x86asm.R12 {
		t.Errorf("LookupRegister(r12) = %v %v", reg, ok)
	}
	if _, ok := LookupMnemonic("nosuch"); ok {
		t.Error("bogus mnemonic resolved")
	}
}
