// Package compiler lowers a parsed whispem program into bytecode: a
// <main> chunk plus one chunk per declared function.
package compiler

import (
	"github.com/sirupsen/logrus"

	"whispem/internal/ast"
	"whispem/internal/chunk"
	"whispem/internal/langerr"
	"whispem/internal/value"
)

// loopContext tracks the patch sites for break/continue inside one
// loop nesting level.
type loopContext struct {
	breakJumps     []int
	continueJumps  []int
	continueTarget int
}

// funcCtx holds the per-chunk compilation state: the chunk being
// emitted into and its stack of enclosing loops. Each function (and
// <main>) gets its own funcCtx; there is no lexical nesting beyond
// that, matching the language's flat locals/globals model.
type funcCtx struct {
	chunk    *chunk.Chunk
	loops    []*loopContext
	forDepth int
}

// Compiler lowers an ast.Program into bytecode. It is stateless across
// calls to Compile except for the injected logger.
type Compiler struct {
	log *logrus.Logger
}

func New(log *logrus.Logger) *Compiler {
	if log == nil {
		log = discardLogger()
	}
	return &Compiler{log: log}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(logrusDiscard{})
	return l
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

// Compile performs the two-pass compilation described by the spec:
// function harvesting, then the <main> body.
func (c *Compiler) Compile(program *ast.Program) (*chunk.Chunk, map[string]*chunk.Chunk, error) {
	functions := make(map[string]*chunk.Chunk)

	for _, stmt := range program.Statements {
		decl, ok := stmt.(*ast.FunctionDecl)
		if !ok {
			continue
		}
		fc := chunk.New(decl.Name)
		ctx := &funcCtx{chunk: fc}
		if err := c.compileFunction(ctx, decl); err != nil {
			return nil, nil, err
		}
		functions[decl.Name] = fc
		c.log.WithField("function", decl.Name).Debug("compiled function chunk")
	}

	main := chunk.New("<main>")
	ctx := &funcCtx{chunk: main}
	line := 1
	for _, stmt := range program.Statements {
		if _, ok := stmt.(*ast.FunctionDecl); ok {
			continue
		}
		if err := c.compileStmt(ctx, stmt); err != nil {
			return nil, nil, err
		}
		line = stmtLine(stmt)
	}
	main.WriteOp(chunk.OP_HALT, line)

	return main, functions, nil
}

func (c *Compiler) compileFunction(ctx *funcCtx, decl *ast.FunctionDecl) error {
	line := decl.Token.Line
	for i := len(decl.Params) - 1; i >= 0; i-- {
		idx, err := ctx.chunk.AddConstant(value.NewString(decl.Params[i]))
		if err != nil {
			return tooManyConstants(ctx, line)
		}
		ctx.chunk.WriteOp(chunk.OP_STORE, line)
		ctx.chunk.Write(byte(idx), line)
	}
	for _, stmt := range decl.Body.Statements {
		if err := c.compileStmt(ctx, stmt); err != nil {
			return err
		}
	}
	ctx.chunk.WriteOp(chunk.OP_RETURN_NONE, line)
	return nil
}

func tooManyConstants(ctx *funcCtx, line int) error {
	return langerr.New(langerr.Compile, langerr.TooManyConstants,
		langerr.Span{Line: line}, "chunk %q exceeds %d constants", ctx.chunk.Name, chunk.MaxConstants)
}

func stmtLine(s ast.Statement) int {
	switch n := s.(type) {
	case *ast.LetStmt:
		return n.Token.Line
	case *ast.PrintStmt:
		return n.Token.Line
	case *ast.ExpressionStmt:
		return n.Token.Line
	case *ast.IfStmt:
		return n.Token.Line
	case *ast.WhileStmt:
		return n.Token.Line
	case *ast.ForStmt:
		return n.Token.Line
	case *ast.ReturnStmt:
		return n.Token.Line
	case *ast.BreakStmt:
		return n.Token.Line
	case *ast.ContinueStmt:
		return n.Token.Line
	case *ast.IndexAssignStmt:
		return n.Token.Line
	default:
		return 0
	}
}

// ---- statements ----

func (c *Compiler) compileStmt(ctx *funcCtx, stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		return c.compileLet(ctx, s)
	case *ast.PrintStmt:
		if err := c.compileExpr(ctx, s.Value); err != nil {
			return err
		}
		ctx.chunk.WriteOp(chunk.OP_PRINT, s.Token.Line)
		return nil
	case *ast.ExpressionStmt:
		if err := c.compileExpr(ctx, s.Expression); err != nil {
			return err
		}
		ctx.chunk.WriteOp(chunk.OP_POP, s.Token.Line)
		return nil
	case *ast.IfStmt:
		return c.compileIf(ctx, s)
	case *ast.WhileStmt:
		return c.compileWhile(ctx, s)
	case *ast.ForStmt:
		return c.compileFor(ctx, s)
	case *ast.ReturnStmt:
		if s.Value == nil {
			ctx.chunk.WriteOp(chunk.OP_RETURN_NONE, s.Token.Line)
			return nil
		}
		if err := c.compileExpr(ctx, s.Value); err != nil {
			return err
		}
		ctx.chunk.WriteOp(chunk.OP_RETURN, s.Token.Line)
		return nil
	case *ast.BreakStmt:
		if len(ctx.loops) == 0 {
			return langerr.New(langerr.Compile, langerr.BreakOutsideLoop,
				langerr.Span{Line: s.Token.Line}, "'break' outside of a loop")
		}
		loop := ctx.loops[len(ctx.loops)-1]
		pos := ctx.chunk.EmitJump(chunk.OP_JUMP, s.Token.Line)
		loop.breakJumps = append(loop.breakJumps, pos)
		return nil
	case *ast.ContinueStmt:
		if len(ctx.loops) == 0 {
			return langerr.New(langerr.Compile, langerr.ContinueOutsideLoop,
				langerr.Span{Line: s.Token.Line}, "'continue' outside of a loop")
		}
		loop := ctx.loops[len(ctx.loops)-1]
		pos := ctx.chunk.EmitJump(chunk.OP_JUMP, s.Token.Line)
		loop.continueJumps = append(loop.continueJumps, pos)
		return nil
	case *ast.IndexAssignStmt:
		return c.compileIndexAssign(ctx, s)
	default:
		return langerr.New(langerr.Compile, langerr.UnexpectedToken,
			langerr.Span{}, "unsupported statement %T", s)
	}
}

func (c *Compiler) compileLet(ctx *funcCtx, s *ast.LetStmt) error {
	if err := c.compileExpr(ctx, s.Value); err != nil {
		return err
	}
	return c.emitStore(ctx, s.Name, s.Token.Line)
}

func (c *Compiler) emitStore(ctx *funcCtx, name string, line int) error {
	idx, err := ctx.chunk.AddConstant(value.NewString(name))
	if err != nil {
		return tooManyConstants(ctx, line)
	}
	ctx.chunk.WriteOp(chunk.OP_STORE, line)
	ctx.chunk.Write(byte(idx), line)
	return nil
}

func (c *Compiler) emitLoad(ctx *funcCtx, name string, line int) error {
	idx, err := ctx.chunk.AddConstant(value.NewString(name))
	if err != nil {
		return tooManyConstants(ctx, line)
	}
	ctx.chunk.WriteOp(chunk.OP_LOAD, line)
	ctx.chunk.Write(byte(idx), line)
	return nil
}

func (c *Compiler) compileBlock(ctx *funcCtx, block *ast.BlockStmt) error {
	for _, stmt := range block.Statements {
		if err := c.compileStmt(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileIf(ctx *funcCtx, s *ast.IfStmt) error {
	line := s.Token.Line
	if err := c.compileExpr(ctx, s.Condition); err != nil {
		return err
	}
	elseJump := ctx.chunk.EmitJump(chunk.OP_JUMP_IF_FALSE, line)
	if err := c.compileBlock(ctx, s.Consequence); err != nil {
		return err
	}
	if s.Alternative == nil {
		ctx.chunk.PatchJump(elseJump)
		return nil
	}
	endJump := ctx.chunk.EmitJump(chunk.OP_JUMP, line)
	ctx.chunk.PatchJump(elseJump)
	if err := c.compileBlock(ctx, s.Alternative); err != nil {
		return err
	}
	ctx.chunk.PatchJump(endJump)
	return nil
}

func (c *Compiler) compileWhile(ctx *funcCtx, s *ast.WhileStmt) error {
	line := s.Token.Line
	loopStart := len(ctx.chunk.Code)
	loop := &loopContext{continueTarget: loopStart}
	ctx.loops = append(ctx.loops, loop)

	if err := c.compileExpr(ctx, s.Condition); err != nil {
		return err
	}
	exitJump := ctx.chunk.EmitJump(chunk.OP_JUMP_IF_FALSE, line)
	if err := c.compileBlock(ctx, s.Body); err != nil {
		return err
	}
	ctx.chunk.WriteOp(chunk.OP_JUMP, line)
	ctx.chunk.WriteU16(uint16(loopStart), line)
	ctx.chunk.PatchJump(exitJump)

	ctx.loops = ctx.loops[:len(ctx.loops)-1]
	patchLoopJumps(ctx.chunk, loop, len(ctx.chunk.Code))
	return nil
}

// compileFor desugars `for v in iterable { body }` into an indexed
// array walk over two hidden bindings scoped by nesting depth, per the
// spec: __iter_<depth> / __idx_<depth>. continue targets the increment
// site, not loop_start, so termination is guaranteed even when the
// body contains a continue on every iteration.
func (c *Compiler) compileFor(ctx *funcCtx, s *ast.ForStmt) error {
	line := s.Token.Line
	ctx.forDepth++
	depth := ctx.forDepth
	defer func() { ctx.forDepth-- }()

	iterName := forHiddenName("__iter_", depth)
	idxName := forHiddenName("__idx_", depth)

	if err := c.compileExpr(ctx, s.Iterable); err != nil {
		return err
	}
	if err := c.emitStore(ctx, iterName, line); err != nil {
		return err
	}

	if err := c.emitConstant(ctx, value.NewNumber(0), line); err != nil {
		return err
	}
	if err := c.emitStore(ctx, idxName, line); err != nil {
		return err
	}

	loopStart := len(ctx.chunk.Code)
	loop := &loopContext{}
	ctx.loops = append(ctx.loops, loop)

	// condition: __idx_d < length(__iter_d)
	if err := c.emitLoad(ctx, idxName, line); err != nil {
		return err
	}
	if err := c.emitLoad(ctx, iterName, line); err != nil {
		return err
	}
	if err := c.emitCallByName(ctx, "length", 1, line); err != nil {
		return err
	}
	ctx.chunk.WriteOp(chunk.OP_LT, line)
	exitJump := ctx.chunk.EmitJump(chunk.OP_JUMP_IF_FALSE, line)

	// v = __iter_d[__idx_d]
	if err := c.emitLoad(ctx, iterName, line); err != nil {
		return err
	}
	if err := c.emitLoad(ctx, idxName, line); err != nil {
		return err
	}
	ctx.chunk.WriteOp(chunk.OP_GET_INDEX, line)
	if err := c.emitStore(ctx, s.Var, line); err != nil {
		return err
	}

	if err := c.compileBlock(ctx, s.Body); err != nil {
		return err
	}

	continueTarget := len(ctx.chunk.Code)
	loop.continueTarget = continueTarget

	// __idx_d = __idx_d + 1
	if err := c.emitLoad(ctx, idxName, line); err != nil {
		return err
	}
	if err := c.emitConstant(ctx, value.NewNumber(1), line); err != nil {
		return err
	}
	ctx.chunk.WriteOp(chunk.OP_ADD, line)
	if err := c.emitStore(ctx, idxName, line); err != nil {
		return err
	}

	ctx.chunk.WriteOp(chunk.OP_JUMP, line)
	ctx.chunk.WriteU16(uint16(loopStart), line)
	ctx.chunk.PatchJump(exitJump)

	ctx.loops = ctx.loops[:len(ctx.loops)-1]
	patchLoopJumps(ctx.chunk, loop, len(ctx.chunk.Code))
	return nil
}

func forHiddenName(prefix string, depth int) string {
	return prefix + itoa(depth)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func patchLoopJumps(c *chunk.Chunk, loop *loopContext, exit int) {
	for _, pos := range loop.breakJumps {
		c.PatchJumpTo(pos, exit)
	}
	for _, pos := range loop.continueJumps {
		c.PatchJumpTo(pos, loop.continueTarget)
	}
}

func (c *Compiler) compileIndexAssign(ctx *funcCtx, s *ast.IndexAssignStmt) error {
	line := s.Token.Line
	if err := c.emitLoad(ctx, s.Target, line); err != nil {
		return err
	}
	if err := c.compileExpr(ctx, s.Index); err != nil {
		return err
	}
	if err := c.compileExpr(ctx, s.Value); err != nil {
		return err
	}
	ctx.chunk.WriteOp(chunk.OP_SET_INDEX, line)
	return c.emitStore(ctx, s.Target, line)
}

// ---- expressions ----

func (c *Compiler) emitConstant(ctx *funcCtx, v value.Value, line int) error {
	idx, err := ctx.chunk.AddConstant(v)
	if err != nil {
		return tooManyConstants(ctx, line)
	}
	ctx.chunk.WriteOp(chunk.OP_PUSH_CONST, line)
	ctx.chunk.Write(byte(idx), line)
	return nil
}

func (c *Compiler) emitCallByName(ctx *funcCtx, name string, argc int, line int) error {
	idx, err := ctx.chunk.AddConstant(value.NewString(name))
	if err != nil {
		return tooManyConstants(ctx, line)
	}
	ctx.chunk.WriteOp(chunk.OP_CALL, line)
	ctx.chunk.Write(byte(idx), line)
	ctx.chunk.Write(byte(argc), line)
	return nil
}

func (c *Compiler) compileExpr(ctx *funcCtx, expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		return c.emitConstant(ctx, value.NewNumber(e.Value), e.Token.Line)
	case *ast.StringLiteral:
		return c.emitConstant(ctx, value.NewString(e.Value), e.Token.Line)
	case *ast.BooleanLiteral:
		if e.Value {
			ctx.chunk.WriteOp(chunk.OP_PUSH_TRUE, e.Token.Line)
		} else {
			ctx.chunk.WriteOp(chunk.OP_PUSH_FALSE, e.Token.Line)
		}
		return nil
	case *ast.NoneLiteral:
		ctx.chunk.WriteOp(chunk.OP_PUSH_NONE, e.Token.Line)
		return nil
	case *ast.Identifier:
		return c.emitLoad(ctx, e.Value, e.Token.Line)
	case *ast.ArrayLiteral:
		return c.compileArrayLiteral(ctx, e)
	case *ast.DictLiteral:
		return c.compileDictLiteral(ctx, e)
	case *ast.IndexExpression:
		if err := c.compileExpr(ctx, e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(ctx, e.Index); err != nil {
			return err
		}
		ctx.chunk.WriteOp(chunk.OP_GET_INDEX, e.Token.Line)
		return nil
	case *ast.PrefixExpression:
		if err := c.compileExpr(ctx, e.Right); err != nil {
			return err
		}
		if e.Operator == "not" {
			ctx.chunk.WriteOp(chunk.OP_NOT, e.Token.Line)
		} else {
			ctx.chunk.WriteOp(chunk.OP_NEG, e.Token.Line)
		}
		return nil
	case *ast.InfixExpression:
		return c.compileInfix(ctx, e)
	case *ast.LogicalExpression:
		return c.compileLogical(ctx, e)
	case *ast.CallExpression:
		return c.compileCall(ctx, e)
	default:
		return langerr.New(langerr.Compile, langerr.UnexpectedToken,
			langerr.Span{}, "unsupported expression %T", e)
	}
}

func (c *Compiler) compileArrayLiteral(ctx *funcCtx, e *ast.ArrayLiteral) error {
	if len(e.Elements) > chunk.MaxListArity {
		return langerr.New(langerr.Compile, langerr.ArgumentCount,
			langerr.Span{Line: e.Token.Line}, "array literal has more than %d elements", chunk.MaxListArity)
	}
	for _, el := range e.Elements {
		if err := c.compileExpr(ctx, el); err != nil {
			return err
		}
	}
	ctx.chunk.WriteOp(chunk.OP_MAKE_ARRAY, e.Token.Line)
	ctx.chunk.Write(byte(len(e.Elements)), e.Token.Line)
	return nil
}

func (c *Compiler) compileDictLiteral(ctx *funcCtx, e *ast.DictLiteral) error {
	if len(e.Pairs) > chunk.MaxListArity {
		return langerr.New(langerr.Compile, langerr.ArgumentCount,
			langerr.Span{Line: e.Token.Line}, "dict literal has more than %d pairs", chunk.MaxListArity)
	}
	for _, pair := range e.Pairs {
		if err := c.compileExpr(ctx, pair.Key); err != nil {
			return err
		}
		if err := c.compileExpr(ctx, pair.Value); err != nil {
			return err
		}
	}
	ctx.chunk.WriteOp(chunk.OP_MAKE_DICT, e.Token.Line)
	ctx.chunk.Write(byte(len(e.Pairs)), e.Token.Line)
	return nil
}

var infixOps = map[string]chunk.OpCode{
	"+": chunk.OP_ADD, "-": chunk.OP_SUB, "*": chunk.OP_MUL, "/": chunk.OP_DIV, "%": chunk.OP_MOD,
	"==": chunk.OP_EQ, "!=": chunk.OP_NEQ,
	"<": chunk.OP_LT, "<=": chunk.OP_LTE, ">": chunk.OP_GT, ">=": chunk.OP_GTE,
}

func (c *Compiler) compileInfix(ctx *funcCtx, e *ast.InfixExpression) error {
	if err := c.compileExpr(ctx, e.Left); err != nil {
		return err
	}
	if err := c.compileExpr(ctx, e.Right); err != nil {
		return err
	}
	op, ok := infixOps[e.Operator]
	if !ok {
		return langerr.New(langerr.Compile, langerr.UnexpectedToken,
			langerr.Span{Line: e.Token.Line}, "unknown operator %q", e.Operator)
	}
	ctx.chunk.WriteOp(op, e.Token.Line)
	return nil
}

// compileLogical implements short-circuit and/or via peek-jumps: the
// left value survives on the stack as the expression's result when
// the short-circuit path is taken.
func (c *Compiler) compileLogical(ctx *funcCtx, e *ast.LogicalExpression) error {
	line := e.Token.Line
	if err := c.compileExpr(ctx, e.Left); err != nil {
		return err
	}
	var endJump int
	if e.Operator == "and" {
		endJump = ctx.chunk.EmitJump(chunk.OP_PEEK_JUMP_IF_FALSE, line)
	} else {
		endJump = ctx.chunk.EmitJump(chunk.OP_PEEK_JUMP_IF_TRUE, line)
	}
	ctx.chunk.WriteOp(chunk.OP_POP, line)
	if err := c.compileExpr(ctx, e.Right); err != nil {
		return err
	}
	ctx.chunk.PatchJump(endJump)
	return nil
}

func (c *Compiler) compileCall(ctx *funcCtx, e *ast.CallExpression) error {
	if len(e.Arguments) > chunk.MaxListArity {
		return langerr.New(langerr.Compile, langerr.ArgumentCount,
			langerr.Span{Line: e.Token.Line}, "call to %q has more than %d arguments", e.Function, chunk.MaxListArity)
	}
	for _, arg := range e.Arguments {
		if err := c.compileExpr(ctx, arg); err != nil {
			return err
		}
	}
	return c.emitCallByName(ctx, e.Function, len(e.Arguments), e.Token.Line)
}
