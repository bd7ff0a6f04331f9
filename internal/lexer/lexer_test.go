package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispem/internal/lexer"
	"whispem/internal/token"
)

func TestNextTokenScansOperatorsAndKeywords(t *testing.T) {
	l := lexer.New(`let x = 1 + 2 == 3 and not false`)

	var types []token.Type
	for {
		tok, err := l.NextToken()
		require.Nil(t, err)
		types = append(types, tok.Type)
		if tok.Type == token.EOF {
			break
		}
	}

	assert.Equal(t, []token.Type{
		token.LET, token.IDENTIFIER, token.ASSIGN, token.NUMBER, token.PLUS,
		token.NUMBER, token.EQ, token.NUMBER, token.AND, token.NOT, token.FALSE,
		token.EOF,
	}, types)
}

func TestUnterminatedStringIsLexError(t *testing.T) {
	l := lexer.New(`"abc`)
	_, err := l.NextToken()
	require.NotNil(t, err)
}

func TestLineAndColumnAdvanceAcrossNewlines(t *testing.T) {
	l := lexer.New("let a = 1\nlet b = 2")
	var last token.Token
	for {
		tok, err := l.NextToken()
		require.Nil(t, err)
		if tok.Type == token.EOF {
			break
		}
		last = tok
	}
	assert.Equal(t, 2, last.Line)
	assert.Equal(t, 9, last.Column)
}

func TestCommentsAreSkipped(t *testing.T) {
	l := lexer.New("let x = 1 # comment here\nlet y = 2")
	var idents []string
	for {
		tok, err := l.NextToken()
		require.Nil(t, err)
		if tok.Type == token.EOF {
			break
		}
		if tok.Type == token.IDENTIFIER {
			idents = append(idents, tok.Literal)
		}
	}
	assert.Equal(t, []string{"x", "y"}, idents)
}
