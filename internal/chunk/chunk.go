// Package chunk implements the mutable bytecode container shared by the
// compiler (which writes into it) and the VM (which executes it).
package chunk

import (
	"fmt"

	"github.com/estevaofon/noxy-vm/internal/value"
)

// OpCode is a single-byte instruction tag. Every opcode is one byte;
// multi-byte operands are encoded little-endian.
type OpCode byte

const (
	OpReturn OpCode = iota
	OpConstant
	OpLongConstant
	OpNil
	OpTrue
	OpFalse
	OpNegate
	OpNot
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpEqual
	OpGreater
	OpLess
	OpPrint
	OpPop
	OpDefineGlobal
	OpGetGlobal
	OpSetGlobal
	OpGetLocal
	OpSetLocal
	OpJumpIfFalse
	OpJump
	OpLoop
	OpCall
)

var opNames = map[OpCode]string{
	OpReturn:       "OpReturn",
	OpConstant:     "OpConstant",
	OpLongConstant: "OpLongConstant",
	OpNil:          "OpNil",
	OpTrue:         "OpTrue",
	OpFalse:        "OpFalse",
	OpNegate:       "OpNegate",
	OpNot:          "OpNot",
	OpAdd:          "OpAdd",
	OpSubtract:     "OpSubtract",
	OpMultiply:     "OpMultiply",
	OpDivide:       "OpDivide",
	OpEqual:        "OpEqual",
	OpGreater:      "OpGreater",
	OpLess:         "OpLess",
	OpPrint:        "OpPrint",
	OpPop:          "OpPop",
	OpDefineGlobal: "OpDefineGlobal",
	OpGetGlobal:    "OpGetGlobal",
	OpSetGlobal:    "OpSetGlobal",
	OpGetLocal:     "OpGetLocal",
	OpSetLocal:     "OpSetLocal",
	OpJumpIfFalse:  "OpJumpIfFalse",
	OpJump:         "OpJump",
	OpLoop:         "OpLoop",
	OpCall:         "OpCall",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OpUnknown(%d)", byte(op))
}

// lineRun is one entry of the run-length line table: the source line
// number in effect starting at StartOffset.
type lineRun struct {
	StartOffset int
	Line        int
}

// Chunk is a compiled bytecode container: instructions, the constant pool
// they reference by index, and a run-length line-number side table.
// A Chunk is exclusively owned by the FunctionObject it belongs to.
type Chunk struct {
	Code      []byte
	Constants []value.Value
	lines     []lineRun
}

// New returns an empty Chunk.
func New() *Chunk {
	return &Chunk{}
}

// Write appends byteCode to the code stream, recording a new line-table
// entry only if line differs from the most recently written one.
func (c *Chunk) Write(byteCode byte, line int) {
	if len(c.lines) == 0 || c.lines[len(c.lines)-1].Line != line {
		c.lines = append(c.lines, lineRun{StartOffset: len(c.Code), Line: line})
	}
	c.Code = append(c.Code, byteCode)
}

// WriteSlice appends every byte in bytes at the same line.
func (c *Chunk) WriteSlice(bytes []byte, line int) {
	for _, b := range bytes {
		c.Write(b, line)
	}
}

// AddConstant appends v to the constant pool and returns its index. No
// de-duplication is performed.
func (c *Chunk) AddConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineAt returns the source line of the instruction at offset. Invariant:
// for any valid offset < len(Code), it returns the line of the most
// recent entry whose StartOffset <= offset. Monotonic non-decreasing in
// offset.
func (c *Chunk) LineAt(offset int) int {
	lo, hi := 0, len(c.lines)-1
	line := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if c.lines[mid].StartOffset <= offset {
			line = c.lines[mid].Line
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return line
}

// Patch overwrites the two bytes at offset (little-endian u16), used to
// back-patch forward jumps once their target is known.
func (c *Chunk) Patch(offset int, value uint16) {
	c.Code[offset] = byte(value & 0xff)
	c.Code[offset+1] = byte((value >> 8) & 0xff)
}

// Disassemble writes a human-readable listing of the chunk to stdout,
// prefixed by name. Disassembly is an external-driver concern (see
// spec §1 Out of scope); this method exists because the compiler's
// correctness is otherwise hard to eyeball, same as the teacher's
// Chunk.Disassemble.
func (c *Chunk) Disassemble(name string) {
	fmt.Printf("== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.DisassembleInstruction(offset)
	}
}

// DisassembleInstruction prints one instruction at offset and returns the
// offset of the next instruction.
func (c *Chunk) DisassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.LineAt(offset) == c.LineAt(offset-1) {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.LineAt(offset))
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OpConstant:
		return c.constantInstruction(op, offset)
	case OpLongConstant:
		return c.longConstantInstruction(op, offset)
	case OpGetGlobal, OpSetGlobal, OpDefineGlobal:
		return c.constantInstruction(op, offset)
	case OpGetLocal, OpSetLocal, OpCall:
		return c.byteInstruction(op, offset)
	case OpJump, OpJumpIfFalse, OpLoop:
		return c.jumpInstruction(op, offset)
	default:
		return c.simpleInstruction(op, offset)
	}
}

func (c *Chunk) simpleInstruction(op OpCode, offset int) int {
	fmt.Printf("%s\n", op)
	return offset + 1
}

func (c *Chunk) constantInstruction(op OpCode, offset int) int {
	idx := c.Code[offset+1]
	fmt.Printf("%-16s %4d '%v'\n", op, idx, c.Constants[idx])
	return offset + 2
}

func (c *Chunk) longConstantInstruction(op OpCode, offset int) int {
	idx := uint32(c.Code[offset+1]) | uint32(c.Code[offset+2])<<8 | uint32(c.Code[offset+3])<<16
	fmt.Printf("%-16s %4d '%v'\n", op, idx, c.Constants[idx])
	return offset + 4
}

func (c *Chunk) byteInstruction(op OpCode, offset int) int {
	slot := c.Code[offset+1]
	fmt.Printf("%-16s %4d\n", op, slot)
	return offset + 2
}

func (c *Chunk) jumpInstruction(op OpCode, offset int) int {
	jump := uint16(c.Code[offset+1]) | uint16(c.Code[offset+2])<<8
	fmt.Printf("%-16s %4d\n", op, jump)
	return offset + 3
}
