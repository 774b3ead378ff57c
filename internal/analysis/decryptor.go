package analysis

import (
	"fmt"
	"sort"

	"golang.org/x/arch/x86/x86asm"

	"cof/internal/codegen"
	"cof/internal/disasm"
)

// DecryptorWidth is the operand width of the arithmetic being traced.
type DecryptorWidth int

const (
	Width32 DecryptorWidth = 32
	Width64 DecryptorWidth = 64
)

func (w DecryptorWidth) scalarType() string {
	if w == Width32 {
		return codegen.TypeUint32
	}
	return codegen.TypeUint64
}

func (w DecryptorWidth) valueMask() uint64 {
	if w == Width32 {
		return 0xFFFFFFFF
	}
	return ^uint64(0)
}

// countMask reduces rotate and shift amounts the way the processor
// does, keeping recorded amounts inside the operand width.
func (w DecryptorWidth) countMask() uint64 {
	if w == Width32 {
		return 31
	}
	return 63
}

func (w DecryptorWidth) rotateName(right bool) string {
	if w == Width32 {
		if right {
			return "_rotr"
		}
		return "_rotl"
	}
	if right {
		return "_rotr64"
	}
	return "_rotl64"
}

// Decryptor is one recovered xor/rotate/shift decryption routine.
type Decryptor struct {
	Is32        bool
	Xor1        uint64
	Xor2        uint64
	Xor3FromReg bool
	Rotate      uint8
	RotateRight bool
	Shift       uint8
	ShiftRight  bool
	Pseudocode  string
}

// DecryptorSet holds the completed chains recovered from one window in
// order of first appearance, plus their overall instruction coverage.
type DecryptorSet struct {
	Coverage   Range
	Decryptors []Decryptor
}

// regTracker follows constants through mov instructions. Arithmetic
// never updates it; the register file deliberately reflects loads only,
// because the chains stage each key constant with a fresh mov.
type regTracker struct {
	mask uint64
	vals map[x86asm.Reg]uint64
}

func newRegTracker(mask uint64) *regTracker {
	return &regTracker{mask: mask, vals: make(map[x86asm.Reg]uint64)}
}

func (t *regTracker) store(r x86asm.Reg, v uint64) {
	t.vals[r] = v & t.mask
}

// propagate copies src's constant to dst, or forgets dst when src is
// untracked.
func (t *regTracker) propagate(dst, src x86asm.Reg) {
	if v, ok := t.vals[src]; ok {
		t.vals[dst] = v
		return
	}
	delete(t.vals, dst)
}

// resolve returns the constant an operand stands for: immediates
// directly, registers through their last tracked mov.
func (t *regTracker) resolve(arg x86asm.Arg) (uint64, bool) {
	switch v := arg.(type) {
	case x86asm.Imm:
		return uint64(int64(v)) & t.mask, true
	case x86asm.Reg:
		val, ok := t.vals[v]
		return val, ok
	}
	return 0, false
}

// decryptChain accumulates the arithmetic applied to one register and
// the registers it propagates through.
type decryptChain struct {
	id        int
	completed bool
	out       Decryptor
	ranges    []Range
	pseudo    map[x86asm.Reg]string

	haveXor1   bool
	haveXor2   bool
	haveXor3   bool
	haveRotate bool
	haveShift  bool
}

func (c *decryptChain) code(r x86asm.Reg) (string, bool) {
	s, ok := c.pseudo[r]
	return s, ok
}

func (c *decryptChain) xorsDone() bool {
	return c.haveXor1 && c.haveXor2 && c.haveXor3
}

// ready reports whether the chain forms a full decryption routine. A
// register-sourced third xor is optional: two immediate keys with a
// rotate and a shift already make a valid routine.
func (c *decryptChain) ready() bool {
	return c.haveXor1 && c.haveXor2 && c.haveRotate && c.haveShift &&
		c.out.Xor1 != 0 && c.out.Xor2 != 0 && c.out.Rotate > 0 && c.out.Shift > 0
}

type completedChain struct {
	id     int
	out    Decryptor
	ranges []Range
}

type decryptMachine struct {
	width   DecryptorWidth
	tracker *regTracker
	chains  []*decryptChain
	byReg   map[x86asm.Reg]*decryptChain
	done    []completedChain
}

func newDecryptMachine(width DecryptorWidth) *decryptMachine {
	return &decryptMachine{
		width:   width,
		tracker: newRegTracker(width.valueMask()),
		byReg:   make(map[x86asm.Reg]*decryptChain),
	}
}

func (m *decryptMachine) create(r x86asm.Reg) *decryptChain {
	c := &decryptChain{
		id:     len(m.chains),
		pseudo: make(map[x86asm.Reg]string),
	}
	c.out.Is32 = m.width == Width32
	m.chains = append(m.chains, c)
	m.byReg[r] = c
	return c
}

// symbolFor is the symbolic form of a register operand: the pseudo
// expression its chain tracks for it, or the parameter placeholder.
func (m *decryptMachine) symbolFor(r x86asm.Reg) string {
	if c, ok := m.byReg[r]; ok {
		if code, ok := c.code(r); ok {
			return code
		}
	}
	return codegen.ParamName
}

// copyRanges folds the ranges of the chain src belongs to into c, so a
// key constant staged through another register contributes its setup
// instructions to the coverage.
func (m *decryptMachine) copyRanges(src x86asm.Reg, c *decryptChain) {
	sc, ok := m.byReg[src]
	if !ok || sc == c {
		return
	}
	c.ranges = append(c.ranges, sc.ranges...)
}

func (m *decryptMachine) step(inst disasm.Inst) {
	args := disasm.VisibleArgs(inst.Inst)
	if inst.DataSize != int(m.width) || len(args) < 2 {
		return
	}
	dst, ok := args[0].(x86asm.Reg)
	if !ok {
		return
	}
	src, _ := args[1].(x86asm.Reg)
	irange := Range{Offset: inst.Offset, Size: uint64(inst.Len)}

	switch inst.Op {
	case x86asm.MOV:
		m.stepMov(irange, dst, src, args[1])
	case x86asm.XOR:
		if m.stepXor(irange, dst, src, args[1]) {
			return
		}
	case x86asm.ROR, x86asm.ROL:
		if m.stepRotate(irange, dst, src, args[1], inst.Op == x86asm.ROR) {
			return
		}
	case x86asm.SHR, x86asm.SHL:
		if m.stepShift(irange, dst, src, args[1], inst.Op == x86asm.SHR) {
			return
		}
	}

	m.checkComplete(dst)
}

func (m *decryptMachine) stepMov(irange Range, dst, src x86asm.Reg, srcArg x86asm.Arg) {
	switch v := srcArg.(type) {
	case x86asm.Imm:
		if _, chained := m.byReg[dst]; !chained {
			c := m.create(dst)
			c.ranges = append(c.ranges, irange)
			// The loaded register starts a chain holding the
			// untouched parameter.
			c.pseudo[dst] = codegen.ParamName
		}
		m.tracker.store(dst, uint64(int64(v)))
	case x86asm.Reg:
		m.tracker.propagate(dst, src)
		if sc, chained := m.byReg[src]; chained {
			m.byReg[dst] = sc
			if code, ok := sc.code(src); ok {
				sc.pseudo[dst] = code
			}
		}
	}
}

// stepXor folds an xor into dst's chain. The skip return means the
// chain already holds all three xor slots and the instruction is
// ignored entirely.
func (m *decryptMachine) stepXor(irange Range, dst, src x86asm.Reg, srcArg x86asm.Arg) (skip bool) {
	c, chained := m.byReg[dst]
	if !chained {
		c = m.create(dst)
		if v, ok := m.tracker.resolve(srcArg); ok {
			c.pseudo[dst] = fmt.Sprintf("%s ^ 0x%X", codegen.ParamName, v)
			c.out.Xor1 = v
			c.haveXor1 = true
			c.ranges = append(c.ranges, irange)
			m.copyRanges(src, c)
		} else {
			c.pseudo[dst] = fmt.Sprintf("%s ^ %s", codegen.ParamName, m.symbolFor(src))
		}
		return false
	}

	if c.xorsDone() {
		return true
	}
	code, ok := c.code(dst)
	if !ok {
		return false
	}
	if v, ok := m.tracker.resolve(srcArg); ok {
		c.pseudo[dst] = fmt.Sprintf("%s ^ 0x%X", code, v)
		if c.haveXor1 {
			c.out.Xor2 = v
			c.haveXor2 = true
		} else {
			c.out.Xor1 = v
			c.haveXor1 = true
		}
		m.copyRanges(src, c)
	} else {
		c.pseudo[dst] = fmt.Sprintf("%s ^ %s", code, m.symbolFor(src))
		c.out.Xor3FromReg = true
		c.haveXor3 = true
	}
	c.ranges = append(c.ranges, irange)
	return false
}

func (m *decryptMachine) stepRotate(irange Range, dst, src x86asm.Reg, srcArg x86asm.Arg, right bool) (skip bool) {
	name := m.width.rotateName(right)

	c, chained := m.byReg[dst]
	if !chained {
		c = m.create(dst)
		if v, ok := m.tracker.resolve(srcArg); ok {
			amt := uint8(v & m.width.countMask())
			c.out.RotateRight = right
			c.out.Rotate = amt
			c.haveRotate = true
			c.pseudo[dst] = fmt.Sprintf("%s(%s, %d)", name, codegen.ParamName, amt)
			c.ranges = append(c.ranges, irange)
		} else {
			c.pseudo[dst] = fmt.Sprintf("%s(%s, %s)", name, codegen.ParamName, m.symbolFor(src))
		}
		return false
	}

	if c.haveRotate {
		return true
	}
	code, ok := c.code(dst)
	if !ok {
		return false
	}
	if v, ok := m.tracker.resolve(srcArg); ok {
		amt := uint8(v & m.width.countMask())
		c.out.RotateRight = right
		c.out.Rotate = amt
		c.haveRotate = true
		c.pseudo[dst] = fmt.Sprintf("%s(%s, %d)", name, code, amt)
		c.ranges = append(c.ranges, irange)
	} else {
		// Amount untrackable: the slot is consumed but the zero
		// amount keeps the chain from ever completing.
		c.pseudo[dst] = fmt.Sprintf("%s(%s, %s)", name, code, m.symbolFor(src))
		c.haveRotate = true
	}
	return false
}

func (m *decryptMachine) stepShift(irange Range, dst, src x86asm.Reg, srcArg x86asm.Arg, right bool) (skip bool) {
	op := "<<"
	if right {
		op = ">>"
	}

	c, chained := m.byReg[dst]
	if !chained {
		c = m.create(dst)
		if v, ok := m.tracker.resolve(srcArg); ok {
			amt := uint8(v & m.width.countMask())
			c.out.ShiftRight = right
			c.out.Shift = amt
			c.haveShift = true
			c.pseudo[dst] = fmt.Sprintf("(%s %s %d)", codegen.ParamName, op, amt)
			c.ranges = append(c.ranges, irange)
		} else {
			c.pseudo[dst] = fmt.Sprintf("(%s %s %s)", codegen.ParamName, op, m.symbolFor(src))
		}
		return false
	}

	if c.haveShift {
		return true
	}
	code, ok := c.code(dst)
	if !ok {
		return false
	}
	if v, ok := m.tracker.resolve(srcArg); ok {
		amt := uint8(v & m.width.countMask())
		c.out.ShiftRight = right
		c.out.Shift = amt
		c.haveShift = true
		c.pseudo[dst] = fmt.Sprintf("(%s) %s %d", code, op, amt)
		c.ranges = append(c.ranges, irange)
	} else {
		c.pseudo[dst] = fmt.Sprintf("(%s) %s %s", code, op, m.symbolFor(src))
		c.haveShift = true
	}
	return false
}

func (m *decryptMachine) checkComplete(dst x86asm.Reg) {
	c, ok := m.byReg[dst]
	if !ok || c.completed || !c.ready() {
		return
	}
	c.out.Pseudocode = codegen.MakeFunction(m.width.scalarType(), c.pseudo[dst])
	c.completed = true
	// Snapshot the ranges: the live chain keeps accumulating if more
	// instructions touch its registers.
	m.done = append(m.done, completedChain{
		id:     c.id,
		out:    c.out,
		ranges: append([]Range(nil), c.ranges...),
	})
}

// ExtractDecryptors walks the window tracing mov/xor/rotate/shift
// chains of the given operand width and returns every chain that
// completed into a full decryption routine, ordered by chain creation.
// Coverage spans from the lowest to the highest instruction recorded by
// any completed chain.
func (a *Analyzer) ExtractDecryptors(off, size uint64, width DecryptorWidth) (DecryptorSet, bool) {
	buf := a.dump.ReadBytes(off, int(size))
	if len(buf) == 0 {
		return DecryptorSet{}, false
	}

	m := newDecryptMachine(width)
	for pos := uint64(0); pos < uint64(len(buf)); {
		inst, err := disasm.Decode(buf[pos:], off+pos)
		if err != nil {
			pos++
			continue
		}
		m.step(inst)
		pos += uint64(inst.Len)
	}

	if len(m.done) == 0 {
		return DecryptorSet{}, false
	}

	sort.Slice(m.done, func(i, j int) bool { return m.done[i].id < m.done[j].id })

	var ranges []Range
	out := DecryptorSet{Decryptors: make([]Decryptor, 0, len(m.done))}
	for _, cc := range m.done {
		ranges = append(ranges, cc.ranges...)
		out.Decryptors = append(out.Decryptors, cc.out)
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Offset < ranges[j].Offset })

	first, last := ranges[0], ranges[len(ranges)-1]
	out.Coverage = Range{Offset: first.Offset, Size: last.End() - first.Offset}
	return out, true
}
