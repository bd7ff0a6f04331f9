// Package parser builds an ast.Program from a token stream using a
// Pratt parser, in the style of the teacher's recursive-descent +
// precedence-climbing expression parser.
package parser

import (
	"strconv"

	"github.com/hashicorp/go-multierror"

	"whispem/internal/ast"
	"whispem/internal/langerr"
	"whispem/internal/lexer"
	"whispem/internal/token"
)

const (
	_ int = iota
	LOWEST
	OR_PREC
	AND_PREC
	EQUALITY
	COMPARISON
	ADDITIVE
	MULTIPLICATIVE
	UNARY
	INDEX
)

var precedences = map[token.Type]int{
	token.OR:       OR_PREC,
	token.AND:      AND_PREC,
	token.EQ:       EQUALITY,
	token.NEQ:      EQUALITY,
	token.LT:       COMPARISON,
	token.LTE:      COMPARISON,
	token.GT:       COMPARISON,
	token.GTE:      COMPARISON,
	token.PLUS:     ADDITIVE,
	token.MINUS:    ADDITIVE,
	token.STAR:     MULTIPLICATIVE,
	token.SLASH:    MULTIPLICATIVE,
	token.PERCENT:  MULTIPLICATIVE,
	token.LBRACKET: INDEX,
}

type Parser struct {
	l *lexer.Lexer

	cur  token.Token
	peek token.Token

	errs *multierror.Error
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	p.next()
	p.next()
	return p
}

// Errors returns every lex/parse error accumulated while parsing, or
// nil if there were none.
func (p *Parser) Errors() error {
	return p.errs.ErrorOrNil()
}

func (p *Parser) next() {
	p.cur = p.peek
	tok, err := p.l.NextToken()
	for err != nil {
		p.errs = multierror.Append(p.errs, err)
		tok, err = p.l.NextToken()
	}
	p.peek = tok
}

func (p *Parser) addErr(kind langerr.Kind, format string, args ...interface{}) {
	p.errs = multierror.Append(p.errs, langerr.New(langerr.Parse, kind,
		langerr.Span{Line: p.cur.Line, Column: p.cur.Column}, format, args...))
}

func (p *Parser) expect(t token.Type) bool {
	if p.peek.Type == t {
		p.next()
		return true
	}
	kind := langerr.UnexpectedToken
	if p.peek.Type == token.EOF {
		kind = langerr.UnexpectedEOF
	}
	p.addErr(kind, "expected %s, found %s", t.Display(), p.peek.Type.Display())
	return false
}

// ParseProgram parses every statement in the input. It keeps going
// after a recoverable error so the caller sees the full error set.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.cur.Type != token.EOF {
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		p.next()
	}
	return prog
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case token.LET:
		return p.parseLetStmt()
	case token.PRINT:
		return p.parsePrintStmt()
	case token.IF:
		return p.parseIfStmt()
	case token.WHILE:
		return p.parseWhileStmt()
	case token.FOR:
		return p.parseForStmt()
	case token.FN:
		return p.parseFunctionDecl()
	case token.RETURN:
		return p.parseReturnStmt()
	case token.BREAK:
		return &ast.BreakStmt{Token: p.cur}
	case token.CONTINUE:
		return &ast.ContinueStmt{Token: p.cur}
	case token.IDENTIFIER:
		if p.peek.Type == token.LBRACKET {
			return p.parseIndexAssignStmt()
		}
		return p.parseExpressionStmt()
	default:
		return p.parseExpressionStmt()
	}
}

func (p *Parser) parseLetStmt() ast.Statement {
	stmt := &ast.LetStmt{Token: p.cur}
	if !p.expect(token.IDENTIFIER) {
		return nil
	}
	stmt.Name = p.cur.Literal
	if !p.expect(token.ASSIGN) {
		return nil
	}
	p.next()
	stmt.Value = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parsePrintStmt() ast.Statement {
	stmt := &ast.PrintStmt{Token: p.cur}
	p.next()
	stmt.Value = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parseExpressionStmt() ast.Statement {
	stmt := &ast.ExpressionStmt{Token: p.cur}
	stmt.Expression = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parseIndexAssignStmt() ast.Statement {
	stmt := &ast.IndexAssignStmt{Token: p.cur, Target: p.cur.Literal}
	if !p.expect(token.LBRACKET) {
		return nil
	}
	p.next()
	stmt.Index = p.parseExpression(LOWEST)
	if !p.expect(token.RBRACKET) {
		return nil
	}
	if !p.expect(token.ASSIGN) {
		return nil
	}
	p.next()
	stmt.Value = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parseBlockStmt() *ast.BlockStmt {
	// Callers leave p.cur on the opening '{'.
	block := &ast.BlockStmt{Token: p.cur}
	p.next()
	for p.cur.Type != token.RBRACE && p.cur.Type != token.EOF {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.next()
	}
	if p.cur.Type != token.RBRACE {
		p.addErr(langerr.UnexpectedEOF, "expected '}', found %s", p.cur.Type.Display())
	}
	return block
}

func (p *Parser) parseIfStmt() ast.Statement {
	stmt := &ast.IfStmt{Token: p.cur}
	p.next()
	stmt.Condition = p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return stmt
	}
	stmt.Consequence = p.parseBlockStmt()
	if p.peek.Type == token.ELSE {
		p.next()
		p.next()
		if p.cur.Type == token.IF {
			stmt.Alternative = &ast.BlockStmt{Statements: []ast.Statement{p.parseIfStmt()}}
		} else if p.cur.Type == token.LBRACE {
			stmt.Alternative = p.parseBlockStmt()
		} else {
			p.addErr(langerr.UnexpectedToken, "expected '{' or 'if' after else, found %s", p.cur.Type.Display())
		}
	}
	return stmt
}

func (p *Parser) parseWhileStmt() ast.Statement {
	stmt := &ast.WhileStmt{Token: p.cur}
	p.next()
	stmt.Condition = p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return stmt
	}
	stmt.Body = p.parseBlockStmt()
	return stmt
}

func (p *Parser) parseForStmt() ast.Statement {
	stmt := &ast.ForStmt{Token: p.cur}
	if !p.expect(token.IDENTIFIER) {
		return stmt
	}
	stmt.Var = p.cur.Literal
	if !p.expect(token.IN) {
		return stmt
	}
	p.next()
	stmt.Iterable = p.parseExpression(LOWEST)
	if !p.expect(token.LBRACE) {
		return stmt
	}
	stmt.Body = p.parseBlockStmt()
	return stmt
}

func (p *Parser) parseReturnStmt() ast.Statement {
	stmt := &ast.ReturnStmt{Token: p.cur}
	if p.peek.Type == token.RBRACE || p.peek.Type == token.EOF {
		return stmt
	}
	p.next()
	stmt.Value = p.parseExpression(LOWEST)
	return stmt
}

func (p *Parser) parseFunctionDecl() ast.Statement {
	decl := &ast.FunctionDecl{Token: p.cur}
	if !p.expect(token.IDENTIFIER) {
		return decl
	}
	decl.Name = p.cur.Literal
	if !p.expect(token.LPAREN) {
		return decl
	}
	for p.peek.Type != token.RPAREN {
		if !p.expect(token.IDENTIFIER) {
			return decl
		}
		decl.Params = append(decl.Params, p.cur.Literal)
		if p.peek.Type == token.COMMA {
			p.next()
		}
	}
	p.next() // consume ')'
	if !p.expect(token.LBRACE) {
		return decl
	}
	decl.Body = p.parseBlockStmt()
	return decl
}

// ---- expression parsing (Pratt) ----

func (p *Parser) peekPrecedence() int {
	if prec, ok := precedences[p.peek.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.cur.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}
	for p.peek.Type != token.EOF && precedence < p.peekPrecedence() {
		switch p.peek.Type {
		case token.LBRACKET:
			p.next()
			left = p.parseIndexExpression(left)
		case token.AND, token.OR:
			p.next()
			left = p.parseLogical(left)
		default:
			p.next()
			left = p.parseInfix(left)
		}
	}
	return left
}

func (p *Parser) parsePrefix() ast.Expression {
	switch p.cur.Type {
	case token.NUMBER:
		return p.parseNumberLiteral()
	case token.STRING:
		return &ast.StringLiteral{Token: p.cur, Value: p.cur.Literal}
	case token.TRUE, token.FALSE:
		return &ast.BooleanLiteral{Token: p.cur, Value: p.cur.Type == token.TRUE}
	case token.NONE:
		return &ast.NoneLiteral{Token: p.cur}
	case token.IDENTIFIER:
		if p.peek.Type == token.LPAREN {
			return p.parseCallExpression()
		}
		return &ast.Identifier{Token: p.cur, Value: p.cur.Literal}
	case token.MINUS, token.NOT:
		return p.parsePrefixExpression()
	case token.LPAREN:
		p.next()
		expr := p.parseExpression(LOWEST)
		if !p.expect(token.RPAREN) {
			return expr
		}
		return expr
	case token.LBRACKET:
		return p.parseArrayLiteral()
	case token.LBRACE:
		return p.parseDictLiteral()
	default:
		p.addErr(langerr.UnexpectedToken, "unexpected token %s in expression", p.cur.Type.Display())
		return nil
	}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	v, err := strconv.ParseFloat(p.cur.Literal, 64)
	if err != nil {
		p.addErr(langerr.UnexpectedToken, "invalid number literal %q", p.cur.Literal)
		return nil
	}
	return &ast.NumberLiteral{Token: p.cur, Value: v}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.PrefixExpression{Token: p.cur, Operator: p.cur.Literal}
	if p.cur.Type == token.NOT {
		expr.Operator = "not"
	}
	p.next()
	expr.Right = p.parseExpression(UNARY)
	return expr
}

func (p *Parser) parseInfix(left ast.Expression) ast.Expression {
	expr := &ast.InfixExpression{Token: p.cur, Operator: p.cur.Literal, Left: left}
	prec := p.curPrecedence()
	p.next()
	expr.Right = p.parseExpression(prec)
	return expr
}

func (p *Parser) parseLogical(left ast.Expression) ast.Expression {
	op := "and"
	if p.cur.Type == token.OR {
		op = "or"
	}
	expr := &ast.LogicalExpression{Token: p.cur, Operator: op, Left: left}
	prec := p.curPrecedence()
	p.next()
	expr.Right = p.parseExpression(prec)
	return expr
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	expr := &ast.IndexExpression{Token: p.cur, Left: left}
	p.next()
	expr.Index = p.parseExpression(LOWEST)
	if !p.expect(token.RBRACKET) {
		return expr
	}
	return expr
}

func (p *Parser) parseCallExpression() ast.Expression {
	expr := &ast.CallExpression{Token: p.cur, Function: p.cur.Literal}
	p.next() // move to '('
	expr.Arguments = p.parseExpressionList(token.RPAREN)
	return expr
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression
	if p.peek.Type == end {
		p.next()
		return list
	}
	p.next()
	list = append(list, p.parseExpression(LOWEST))
	for p.peek.Type == token.COMMA {
		p.next()
		p.next()
		list = append(list, p.parseExpression(LOWEST))
	}
	if !p.expect(end) {
		return list
	}
	return list
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	lit := &ast.ArrayLiteral{Token: p.cur}
	lit.Elements = p.parseExpressionList(token.RBRACKET)
	return lit
}

func (p *Parser) parseDictLiteral() ast.Expression {
	lit := &ast.DictLiteral{Token: p.cur}
	if p.peek.Type == token.RBRACE {
		p.next()
		return lit
	}
	p.next()
	for {
		key := p.parseExpression(LOWEST)
		if !p.expect(token.COLON) {
			return lit
		}
		p.next()
		value := p.parseExpression(LOWEST)
		lit.Pairs = append(lit.Pairs, ast.DictPair{Key: key, Value: value})
		if p.peek.Type == token.COMMA {
			p.next()
			p.next()
			continue
		}
		break
	}
	if !p.expect(token.RBRACE) {
		return lit
	}
	return lit
}
