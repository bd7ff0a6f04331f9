// Package chunk implements the compiled code unit the compiler emits
// into and the VM executes: a byte vector, a parallel line table, and
// a deduplicated constants pool.
package chunk

import (
	"fmt"

	"github.com/josharian/intern"

	"whispem/internal/value"
)

// MaxConstants bounds the constants pool: PUSH_CONST/LOAD/STORE take a
// one-byte operand.
const MaxConstants = 256

// MaxListArity bounds array/dict literal element counts and call
// argument counts, which also travel in single-byte operands.
const MaxListArity = 255

// Chunk is a self-contained compiled code unit: bytecode, a constants
// pool, a parallel line table, and a name used in disassembly and
// error messages.
type Chunk struct {
	Name      string
	Code      []byte
	Lines     []int
	Constants []value.Value

	stringIndex map[string]int // constants-pool dedup index for string literals
}

func New(name string) *Chunk {
	return &Chunk{
		Name:        name,
		stringIndex: make(map[string]int),
	}
}

// Write appends a raw byte to the code stream with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op OpCode, line int) {
	c.Write(byte(op), line)
}

// WriteU16 appends a big-endian two-byte operand.
func (c *Chunk) WriteU16(v uint16, line int) {
	c.Write(byte(v>>8), line)
	c.Write(byte(v), line)
}

// AddConstant appends v to the pool and returns its index. String
// constants are interned and deduplicated: adding a string equal to
// an existing string constant returns the existing index instead of
// appending. Numbers, booleans, and other values are always appended.
// Returns an error when the pool would exceed MaxConstants.
func (c *Chunk) AddConstant(v value.Value) (int, error) {
	if v.Type == value.Str {
		key := intern.String(v.S)
		if idx, ok := c.stringIndex[key]; ok {
			return idx, nil
		}
		if len(c.Constants) >= MaxConstants {
			return 0, fmt.Errorf("too many constants in chunk %q", c.Name)
		}
		idx := len(c.Constants)
		c.Constants = append(c.Constants, value.NewString(key))
		c.stringIndex[key] = idx
		return idx, nil
	}
	if len(c.Constants) >= MaxConstants {
		return 0, fmt.Errorf("too many constants in chunk %q", c.Name)
	}
	idx := len(c.Constants)
	c.Constants = append(c.Constants, v)
	return idx, nil
}

// EmitJump writes op followed by a placeholder 0xFFFF offset and
// returns the position of the first placeholder byte, for PatchJump
// to fill in once the real target is known.
func (c *Chunk) EmitJump(op OpCode, line int) int {
	c.WriteOp(op, line)
	pos := len(c.Code)
	c.WriteU16(0xFFFF, line)
	return pos
}

// PatchJump overwrites the placeholder operand at pos (as returned by
// EmitJump) with the current end-of-code offset.
func (c *Chunk) PatchJump(pos int) {
	c.PatchJumpTo(pos, len(c.Code))
}

// PatchJumpTo overwrites the placeholder operand at pos with an
// explicit target offset.
func (c *Chunk) PatchJumpTo(pos int, target int) {
	c.Code[pos] = byte(target >> 8)
	c.Code[pos+1] = byte(target)
}

// ReadU16 decodes the big-endian two-byte operand starting at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}
