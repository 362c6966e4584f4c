package lexer

import (
	"testing"

	"github.com/funvibe/rulevm/internal/token"
)

func TestNextToken(t *testing.T) {
	input := "Likes(., X), HomePlanet(Luke, _)"

	expected := []struct {
		typ     token.Type
		literal string
	}{
		{token.IDENT, "Likes"},
		{token.LPAREN, "("},
		{token.THIS, "."},
		{token.COMMA, ","},
		{token.IDENT, "X"},
		{token.RPAREN, ")"},
		{token.COMMA, ","},
		{token.IDENT, "HomePlanet"},
		{token.LPAREN, "("},
		{token.IDENT, "Luke"},
		{token.COMMA, ","},
		{token.ANON, "_"},
		{token.RPAREN, ")"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ {
			t.Fatalf("token %d: expected type %q, got %q (%q)", i, want.typ, tok.Type, tok.Literal)
		}
		if tok.Literal != want.literal {
			t.Fatalf("token %d: expected literal %q, got %q", i, want.literal, tok.Literal)
		}
	}
}

func TestWhitespaceAndNewlines(t *testing.T) {
	l := New("  Jedi \n\t ( Yoda )  ")

	types := []token.Type{token.IDENT, token.LPAREN, token.IDENT, token.RPAREN, token.EOF}
	for i, want := range types {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("token %d: expected %q, got %q", i, want, tok.Type)
		}
	}
}

func TestIllegal(t *testing.T) {
	l := New("Jedi?")
	l.NextToken()
	tok := l.NextToken()
	if tok.Type != token.ILLEGAL {
		t.Fatalf("expected ILLEGAL, got %q", tok.Type)
	}
}

func TestUnderscoreNames(t *testing.T) {
	l := New("_x x_1")
	tok := l.NextToken()
	if tok.Type != token.IDENT || tok.Literal != "_x" {
		t.Fatalf("expected IDENT _x, got %q %q", tok.Type, tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != token.IDENT || tok.Literal != "x_1" {
		t.Fatalf("expected IDENT x_1, got %q %q", tok.Type, tok.Literal)
	}
}
