package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispem/internal/ast"
	"whispem/internal/lexer"
	"whispem/internal/parser"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	require.NoError(t, p.Errors())
	return program
}

func TestParsesLetAndPrint(t *testing.T) {
	program := parse(t, `let x = 1
print x`)
	require.Len(t, program.Statements, 2)
	let, ok := program.Statements[0].(*ast.LetStmt)
	require.True(t, ok)
	assert.Equal(t, "x", let.Name)
}

func TestParsesIfElseChain(t *testing.T) {
	program := parse(t, `if a { print 1 } else if b { print 2 } else { print 3 }`)
	require.Len(t, program.Statements, 1)
	ifStmt, ok := program.Statements[0].(*ast.IfStmt)
	require.True(t, ok)
	require.NotNil(t, ifStmt.Alternative)
	require.Len(t, ifStmt.Alternative.Statements, 1)
	_, ok = ifStmt.Alternative.Statements[0].(*ast.IfStmt)
	assert.True(t, ok)
}

func TestParsesFunctionDecl(t *testing.T) {
	program := parse(t, `fn add(a, b) { return a + b }`)
	require.Len(t, program.Statements, 1)
	decl, ok := program.Statements[0].(*ast.FunctionDecl)
	require.True(t, ok)
	assert.Equal(t, "add", decl.Name)
	assert.Equal(t, []string{"a", "b"}, decl.Params)
}

func TestParsesForStmt(t *testing.T) {
	program := parse(t, `for n in range(0, 3) { print n }`)
	require.Len(t, program.Statements, 1)
	forStmt, ok := program.Statements[0].(*ast.ForStmt)
	require.True(t, ok)
	assert.Equal(t, "n", forStmt.Var)
}

func TestParsesLogicalAndArithmeticPrecedence(t *testing.T) {
	program := parse(t, `print 1 + 2 * 3 == 7 and true`)
	require.Len(t, program.Statements, 1)
	printStmt, ok := program.Statements[0].(*ast.PrintStmt)
	require.True(t, ok)
	logical, ok := printStmt.Value.(*ast.LogicalExpression)
	require.True(t, ok)
	assert.Equal(t, "and", logical.Operator)
	_, ok = logical.Left.(*ast.InfixExpression)
	assert.True(t, ok)
}

func TestUnexpectedTokenProducesParseError(t *testing.T) {
	l := lexer.New(`let = 1`)
	p := parser.New(l)
	p.ParseProgram()
	assert.Error(t, p.Errors())
}

func TestParsesIndexAssignment(t *testing.T) {
	program := parse(t, `a[0] = 1`)
	require.Len(t, program.Statements, 1)
	assign, ok := program.Statements[0].(*ast.IndexAssignStmt)
	require.True(t, ok)
	assert.Equal(t, "a", assign.Target)
}
