package compiler_test

import (
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispem/internal/chunk"
	"whispem/internal/compiler"
	"whispem/internal/lexer"
	"whispem/internal/parser"
	"whispem/internal/value"
)

type compilerResult struct {
	main      *chunk.Chunk
	functions map[string]*chunk.Chunk
}

func compileSrc(t *testing.T, src string) (*compilerResult, error) {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	require.NoError(t, p.Errors())

	main, functions, err := compiler.New(nil).Compile(program)
	if err != nil {
		return nil, err
	}
	return &compilerResult{main: main, functions: functions}, nil
}

func TestBreakOutsideLoopIsCompileError(t *testing.T) {
	_, err := compileSrc(t, `break`)
	assert.Error(t, err)
}

func TestContinueOutsideLoopIsCompileError(t *testing.T) {
	_, err := compileSrc(t, `continue`)
	assert.Error(t, err)
}

func TestTooManyConstantsIsCompileError(t *testing.T) {
	var b []byte
	for i := 0; i < 300; i++ {
		b = append(b, []byte("let x"+itoa(i)+" = \""+itoa(i)+"unique\"\n")...)
	}
	_, err := compileSrc(t, string(b))
	assert.Error(t, err)
}

func itoa(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%10]}, out...)
		n /= 10
	}
	return string(out)
}

func TestFunctionDeclCompilesIntoOwnChunk(t *testing.T) {
	src := heredoc.Doc(`
		fn add(a, b) {
			return a + b
		}
		print add(1, 2)
	`)
	result, err := compileSrc(t, src)
	require.NoError(t, err)
	_, ok := result.functions["add"]
	assert.True(t, ok)
}

func TestForLoopCompilesWithoutError(t *testing.T) {
	src := heredoc.Doc(`
		for n in range(0, 5) {
			print n
		}
	`)
	_, err := compileSrc(t, src)
	assert.NoError(t, err)
}

func TestNestedForLoopsCompileWithDistinctHiddenNames(t *testing.T) {
	src := heredoc.Doc(`
		for i in range(0, 2) {
			for j in range(0, 2) {
				print i
				print j
			}
		}
	`)
	result, err := compileSrc(t, src)
	require.NoError(t, err)
	var names []string
	for _, c := range result.main.Constants {
		if c.Type == value.Str {
			names = append(names, c.S)
		}
	}
	assert.Contains(t, names, "__iter_1")
	assert.Contains(t, names, "__iter_2")
	assert.Contains(t, names, "__idx_1")
	assert.Contains(t, names, "__idx_2")
}
