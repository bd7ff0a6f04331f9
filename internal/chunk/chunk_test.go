package chunk_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispem/internal/chunk"
	"whispem/internal/value"
)

func TestAddConstantDedupesStrings(t *testing.T) {
	c := chunk.New("test")

	idx1, err := c.AddConstant(value.NewString("hello"))
	require.NoError(t, err)
	idx2, err := c.AddConstant(value.NewString("hello"))
	require.NoError(t, err)

	assert.Equal(t, idx1, idx2)
	assert.Len(t, c.Constants, 1)
}

func TestAddConstantDoesNotDedupeNumbers(t *testing.T) {
	c := chunk.New("test")

	idx1, err := c.AddConstant(value.NewNumber(1))
	require.NoError(t, err)
	idx2, err := c.AddConstant(value.NewNumber(1))
	require.NoError(t, err)

	assert.NotEqual(t, idx1, idx2)
	assert.Len(t, c.Constants, 2)
}

func TestAddConstantOverflowsAtMax(t *testing.T) {
	c := chunk.New("test")
	for i := 0; i < chunk.MaxConstants; i++ {
		_, err := c.AddConstant(value.NewNumber(float64(i)))
		require.NoError(t, err)
	}
	_, err := c.AddConstant(value.NewNumber(999))
	assert.Error(t, err)
}

func TestJumpPatching(t *testing.T) {
	c := chunk.New("test")
	pos := c.EmitJump(chunk.OP_JUMP, 1)
	c.WriteOp(chunk.OP_PRINT, 2)
	c.PatchJump(pos)

	target := c.ReadU16(pos)
	assert.Equal(t, uint16(len(c.Code)), target)
}

func TestWriteKeepsCodeAndLinesInSync(t *testing.T) {
	c := chunk.New("test")
	c.WriteOp(chunk.OP_POP, 1)
	c.WriteOp(chunk.OP_PRINT, 2)
	assert.Equal(t, len(c.Code), len(c.Lines))
}

func TestDisassembleAnnotatesConstants(t *testing.T) {
	c := chunk.New("<main>")
	idx, _ := c.AddConstant(value.NewString("x"))
	c.WriteOp(chunk.OP_PUSH_CONST, 1)
	c.Write(byte(idx), 1)
	c.WriteOp(chunk.OP_HALT, 1)

	var buf bytes.Buffer
	c.Disassemble(&buf, "<main>")

	out := buf.String()
	assert.Contains(t, out, "PUSH_CONST")
	assert.Contains(t, out, "'x'")
	assert.Contains(t, out, "HALT")
}

func TestDisassembleCallAnnotatesNameAndArgc(t *testing.T) {
	c := chunk.New("<main>")
	idx, _ := c.AddConstant(value.NewString("length"))
	c.WriteOp(chunk.OP_CALL, 1)
	c.Write(byte(idx), 1)
	c.Write(1, 1)

	var buf bytes.Buffer
	c.Disassemble(&buf, "<main>")

	out := buf.String()
	assert.Contains(t, out, "CALL")
	assert.Contains(t, out, "'length'")
}
