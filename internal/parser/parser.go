// Package parser turns rule expression text into an ast.Expression.
//
// The grammar is a comma-separated list of terms:
//
//	expression := term { "," term }
//	term       := ident [ "(" arg { "," arg } ")" ]
//	arg        := ident | "." | "_"
//
// A term without an argument list is shorthand for term(.): it constrains
// the implicit subject.
package parser

import (
	"fmt"

	"github.com/funvibe/rulevm/internal/ast"
	"github.com/funvibe/rulevm/internal/lexer"
	"github.com/funvibe/rulevm/internal/token"
)

type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token
}

// Error is a parse failure with the position and expression attached.
type Error struct {
	Expr    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Column, e.Message, e.Expr)
}

func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}
	// Prime curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses an expression. The input must contain at least one term.
func Parse(input string) (*ast.Expression, error) {
	return New(input).Parse(input)
}

func (p *Parser) Parse(text string) (*ast.Expression, error) {
	expr := &ast.Expression{Text: text}

	for {
		term, err := p.parseTerm(text)
		if err != nil {
			return nil, err
		}
		expr.Terms = append(expr.Terms, *term)

		if p.curToken.Type != token.COMMA {
			break
		}
		p.nextToken()
	}

	if p.curToken.Type != token.EOF {
		return nil, p.errorf(text, "unexpected %q after expression", p.curToken.Literal)
	}

	return expr, nil
}

func (p *Parser) parseTerm(text string) (*ast.Term, error) {
	if p.curToken.Type != token.IDENT {
		return nil, p.errorf(text, "expected predicate, got %q", p.curToken.Literal)
	}

	term := &ast.Term{
		Pred:   ast.Identifier{Name: p.curToken.Literal},
		Line:   p.curToken.Line,
		Column: p.curToken.Column,
	}
	p.nextToken()

	if p.curToken.Type != token.LPAREN {
		// Bare predicate constrains the implicit subject
		term.Args = []ast.Identifier{{This: true}}
		return term, nil
	}
	p.nextToken()

	for {
		arg, err := p.parseArg(text)
		if err != nil {
			return nil, err
		}
		term.Args = append(term.Args, arg)

		if p.curToken.Type == token.COMMA {
			p.nextToken()
			continue
		}
		break
	}

	if p.curToken.Type != token.RPAREN {
		return nil, p.errorf(text, "expected ')', got %q", p.curToken.Literal)
	}
	p.nextToken()

	return term, nil
}

func (p *Parser) parseArg(text string) (ast.Identifier, error) {
	switch p.curToken.Type {
	case token.IDENT:
		id := ast.Identifier{Name: p.curToken.Literal}
		p.nextToken()
		return id, nil
	case token.THIS:
		p.nextToken()
		return ast.Identifier{This: true}, nil
	case token.ANON:
		p.nextToken()
		return ast.Identifier{Anon: true}, nil
	default:
		return ast.Identifier{}, p.errorf(text, "expected argument, got %q", p.curToken.Literal)
	}
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) errorf(expr, format string, args ...interface{}) error {
	return &Error{
		Expr:    expr,
		Line:    p.curToken.Line,
		Column:  p.curToken.Column,
		Message: fmt.Sprintf(format, args...),
	}
}
