package chunk

import (
	"fmt"
	"io"

	"whispem/internal/value"
)

// Disassemble writes a human-readable listing of c to w, one
// instruction per line: offset, source line (or '|' when unchanged
// from the previous instruction), opcode name, operand, and an
// optional constant annotation.
func (c *Chunk) Disassemble(w io.Writer, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(w, offset)
	}
}

func (c *Chunk) disassembleInstruction(w io.Writer, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprintf(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", c.Lines[offset])
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OP_CALL:
		nameIdx := c.Code[offset+1]
		argc := c.Code[offset+2]
		fmt.Fprintf(w, "%-20s %4d %4d  %s\n", op, nameIdx, argc, annotate(c.Constants[nameIdx]))
		return offset + 3
	case OP_PUSH_CONST, OP_LOAD, OP_STORE:
		idx := c.Code[offset+1]
		fmt.Fprintf(w, "%-20s %4d  %s\n", op, idx, annotate(c.Constants[idx]))
		return offset + 2
	case OP_MAKE_ARRAY, OP_MAKE_DICT:
		n := c.Code[offset+1]
		fmt.Fprintf(w, "%-20s %4d\n", op, n)
		return offset + 2
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_JUMP_IF_TRUE, OP_PEEK_JUMP_IF_FALSE, OP_PEEK_JUMP_IF_TRUE:
		target := c.ReadU16(offset + 1)
		fmt.Fprintf(w, "%-20s %4d\n", op, target)
		return offset + 3
	default:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	}
}

// annotate renders a constant for disassembly: strings single-quoted,
// numbers without a trailing ".0", booleans as true/false, arrays and
// dicts collapsed to a type marker.
func annotate(v value.Value) string {
	switch v.Type {
	case value.Str:
		return "'" + v.S + "'"
	case value.Array:
		return "[array]"
	case value.Dict:
		return "{dict}"
	default:
		return v.Display()
	}
}
