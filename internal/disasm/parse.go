package disasm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/arch/x86/x86asm"
)

var (
	tablesOnce sync.Once
	mnemonics  map[string]x86asm.Op
	registers  map[string]x86asm.Reg
)

// initTables builds the textual mnemonic and register lookup tables from
// the decoder's own name strings. Built exactly once on first use.
func initTables() {
	mnemonics = make(map[string]x86asm.Op, 1024)
	for op := x86asm.Op(1); op < 1200; op++ {
		name := op.String()
		if strings.HasPrefix(name, "Op(") {
			continue
		}
		mnemonics[name] = op
	}
	registers = make(map[string]x86asm.Reg, 256)
	for i := 1; i < 256; i++ {
		reg := x86asm.Reg(i)
		name := reg.String()
		if strings.HasPrefix(name, "Reg(") {
			continue
		}
		registers[name] = reg
	}
}

// LookupMnemonic resolves a textual mnemonic, case-insensitively.
func LookupMnemonic(name string) (x86asm.Op, bool) {
	tablesOnce.Do(initTables)
	op, ok := mnemonics[strings.ToUpper(name)]
	return op, ok
}

// LookupRegister resolves a textual register name, case-insensitively.
func LookupRegister(name string) (x86asm.Reg, bool) {
	tablesOnce.Do(initTables)
	reg, ok := registers[strings.ToUpper(name)]
	return reg, ok
}

// ParseInstruction parses one partially-wildcarded instruction line, e.g.
//
//	mov rax, [rip+0x1234]
//	? rcx, ?
//	xor ?, 0x2F
//
// Operands are comma-separated; the mnemonic is the first word. A '?'
// mnemonic or operand is a wildcard. Memory operands use bracket syntax
// with +/- separated components: registers fill base then index in
// appearance order, reg*scale sets index and scale, integers accumulate
// into the displacement, and '?' leaves a component unconstrained.
func ParseInstruction(text string) (Instruction, error) {
	tablesOnce.Do(initTables)

	parts := strings.Split(text, ",")
	first := strings.TrimSpace(parts[0])
	if first == "" {
		return Instruction{}, fmt.Errorf("empty instruction %q", text)
	}

	mnemonic := first
	rest := ""
	if i := strings.IndexAny(first, " \t"); i >= 0 {
		mnemonic = first[:i]
		rest = strings.TrimSpace(first[i+1:])
	}

	var instr Instruction
	if mnemonic != "?" {
		op, ok := mnemonics[strings.ToUpper(mnemonic)]
		if !ok {
			return Instruction{}, fmt.Errorf("unknown mnemonic %q", mnemonic)
		}
		instr.Op = op
	}

	tokens := make([]string, 0, len(parts))
	if rest != "" {
		tokens = append(tokens, rest)
	}
	for _, p := range parts[1:] {
		tokens = append(tokens, strings.TrimSpace(p))
	}

	for _, tok := range tokens {
		opnd, err := parseOperand(tok)
		if err != nil {
			return Instruction{}, err
		}
		instr.Operands = append(instr.Operands, opnd)
	}
	return instr, nil
}

func parseOperand(tok string) (Operand, error) {
	if tok == "?" {
		return Operand{}, nil
	}
	if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") && len(tok) >= 2 {
		return parseMemoryOperand(tok)
	}
	if reg, ok := registers[strings.ToUpper(tok)]; ok {
		return Operand{Kind: OperandReg, Reg: reg}, nil
	}
	if strings.HasPrefix(tok, "-") {
		n, err := strconv.ParseInt(tok, 0, 64)
		if err != nil {
			return Operand{}, fmt.Errorf("bad operand %q", tok)
		}
		return Operand{Kind: OperandImm, Imm: uint64(n)}, nil
	}
	v, err := strconv.ParseUint(tok, 0, 64)
	if err != nil {
		return Operand{}, fmt.Errorf("bad operand %q", tok)
	}
	return Operand{Kind: OperandImm, Imm: v}, nil
}

// parseMemoryOperand parses the bracketed form. A malformed component
// degrades the whole operand to a total wildcard rather than failing the
// instruction.
func parseMemoryOperand(tok string) (Operand, error) {
	content := strings.TrimSpace(tok[1 : len(tok)-1])
	op := Operand{Kind: OperandMem}

	type component struct {
		sign byte
		text string
	}
	var comps []component
	sign := byte('+')
	var cur strings.Builder
	flush := func() {
		comps = append(comps, component{sign, strings.TrimSpace(cur.String())})
		cur.Reset()
	}
	for i := 0; i < len(content); i++ {
		c := content[i]
		if c == '+' || c == '-' {
			flush()
			sign = c
			continue
		}
		cur.WriteByte(c)
	}
	flush()

	for _, comp := range comps {
		t := comp.text
		if t == "" || t == "?" {
			continue
		}
		if strings.Contains(t, "*") {
			lr := strings.SplitN(t, "*", 2)
			left := strings.TrimSpace(lr[0])
			right := strings.TrimSpace(lr[1])
			if left != "?" {
				reg, ok := registers[strings.ToUpper(left)]
				if !ok {
					return Operand{}, nil
				}
				op.Mem.Index = reg
				op.Mem.HasIndex = true
			}
			if right != "?" {
				s, err := strconv.ParseUint(right, 0, 8)
				if err != nil {
					return Operand{}, nil
				}
				op.Mem.Scale = uint8(s)
				op.Mem.HasScale = true
			}
			continue
		}
		if reg, ok := registers[strings.ToUpper(t)]; ok {
			if !op.Mem.HasBase {
				op.Mem.Base = reg
				op.Mem.HasBase = true
			} else if !op.Mem.HasIndex {
				op.Mem.Index = reg
				op.Mem.HasIndex = true
			}
			continue
		}
		v, err := strconv.ParseInt(t, 0, 64)
		if err != nil {
			return Operand{}, nil
		}
		if comp.sign == '-' {
			v = -v
		}
		op.Mem.Disp += v
		op.Mem.HasDisp = true
	}
	return op, nil
}
