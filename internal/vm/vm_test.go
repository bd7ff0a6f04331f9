package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispem/internal/compiler"
	"whispem/internal/langerr"
	"whispem/internal/lexer"
	"whispem/internal/parser"
	"whispem/internal/vm"
)

// run compiles and executes src against a fresh VM, returning
// everything written to stdout.
func run(t *testing.T, src string) (string, error) {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	require.NoError(t, p.Errors())

	main, functions, err := compiler.New(nil).Compile(program)
	require.NoError(t, err)

	var out bytes.Buffer
	machine := vm.New(&out, strings.NewReader(""), nil)
	machine.RegisterFunctions(functions)
	err = machine.Run(main)
	return out.String(), err
}

func TestArithmeticPrecedence(t *testing.T) {
	out, err := run(t, `print 10 + 5 * 2`)
	require.NoError(t, err)
	assert.Equal(t, "20\n", out)
}

func TestWhileLoop(t *testing.T) {
	src := heredoc.Doc(`
		let i=0
		while i<3 {
			print i
			let i=i+1
		}
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n", out)
}

func TestRecursiveFactorial(t *testing.T) {
	src := heredoc.Doc(`
		fn fact(n) { if n<=1 { return 1 } return n*fact(n-1) }
		print fact(5)
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "120\n", out)
}

func TestFizzBuzzViaForRange(t *testing.T) {
	src := heredoc.Doc(`
		for n in range(1,16) {
			if n%15==0 { print "FizzBuzz" } else {
				if n%3==0 { print "Fizz" } else {
					if n%5==0 { print "Buzz" } else { print n }
				}
			}
		}
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	expected := "1\n2\nFizz\n4\nBuzz\nFizz\n7\n8\nFizz\nBuzz\n11\nFizz\n13\n14\nFizzBuzz\n"
	assert.Equal(t, expected, out)
}

func TestDictLiteralDuplicateKeyLastWins(t *testing.T) {
	src := heredoc.Doc(`
		let d={"a":1,"a":2}
		print d["a"]
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestDictMissingKeyIsUndefinedVariable(t *testing.T) {
	src := heredoc.Doc(`
		let d={"a":1}
		print d["b"]
	`)
	_, err := run(t, src)
	assert.Error(t, err)
	var le *langerr.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, langerr.UndefinedVariable, le.Kind)
}

func TestDictKeysAreSorted(t *testing.T) {
	src := heredoc.Doc(`
		let d={"b":2,"a":1,"c":3}
		print keys(d)
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "[a, b, c]\n", out)
}

func TestArrayIndexAssignment(t *testing.T) {
	src := heredoc.Doc(`
		let a=[1,2,3]
		a[1]=99
		print a[1]
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "99\n", out)
}

func TestDivisionByZero(t *testing.T) {
	_, err := run(t, `print 1/0`)
	assert.Error(t, err)
}

func TestIndexOutOfBounds(t *testing.T) {
	_, err := run(t, `let a=[1,2,3]
print a[3]`)
	assert.Error(t, err)
}

func TestPopEmptyArray(t *testing.T) {
	_, err := run(t, `pop([])`)
	assert.Error(t, err)
}

func TestInvalidSlice(t *testing.T) {
	_, err := run(t, `let a=[1,2,3]
slice(a, 2, 1)`)
	assert.Error(t, err)
}

func TestShortCircuitAndSkipsRightWhenLeftFalsy(t *testing.T) {
	src := heredoc.Doc(`
		fn boom() { print "evaluated" return true }
		print false and boom()
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestShortCircuitOrSkipsRightWhenLeftTruthy(t *testing.T) {
	src := heredoc.Doc(`
		fn boom() { print "evaluated" return true }
		print true or boom()
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestPushLengthLaw(t *testing.T) {
	src := heredoc.Doc(`
		let a=[1,2,3]
		print length(push(a, 4))
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)
}

func TestReverseReverseIsIdentity(t *testing.T) {
	src := heredoc.Doc(`
		let a=[1,2,3]
		print reverse(reverse(a))
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3]\n", out)
}

func TestHasKeyMatchesIndexSuccess(t *testing.T) {
	src := heredoc.Doc(`
		let d={"x":1}
		print has_key(d, "x")
		print has_key(d, "y")
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "true\nfalse\n", out)
}

func TestBreakExitsLoopImmediately(t *testing.T) {
	src := heredoc.Doc(`
		let i=0
		while true {
			if i==3 { break }
			print i
			let i=i+1
		}
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "0\n1\n2\n", out)
}

func TestContinueInForLoopStillIncrements(t *testing.T) {
	src := heredoc.Doc(`
		for n in range(0, 5) {
			if n%2==0 { continue }
			print n
		}
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "1\n3\n", out)
}

func TestFunctionsDoNotSeeCallerLocals(t *testing.T) {
	src := heredoc.Doc(`
		fn inspect() { return x }
		fn outer() {
			let x = 99
			return inspect()
		}
		print outer()
	`)
	_, err := run(t, src)
	assert.Error(t, err)
}

func TestFunctionsSeeGlobals(t *testing.T) {
	src := heredoc.Doc(`
		let x = 7
		fn inspect() { return x }
		print inspect()
	`)
	out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out)
}
