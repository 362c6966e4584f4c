package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBareTerm(t *testing.T) {
	expr, err := Parse("Jedi")
	require.NoError(t, err)
	require.Len(t, expr.Terms, 1)

	term := &expr.Terms[0]
	assert.Equal(t, "Jedi", term.Pred.Name)
	require.Len(t, term.Args, 1)
	assert.True(t, term.Subject().This, "bare term constrains the implicit subject")
}

func TestParseTwoArgs(t *testing.T) {
	expr, err := Parse("HomePlanet(Luke, Tatooine)")
	require.NoError(t, err)
	require.Len(t, expr.Terms, 1)

	term := &expr.Terms[0]
	assert.Equal(t, "HomePlanet", term.Pred.Name)
	assert.Equal(t, "Luke", term.Subject().Name)
	obj, ok := term.Object()
	require.True(t, ok)
	assert.Equal(t, "Tatooine", obj.Name)
}

func TestParseMultipleTerms(t *testing.T) {
	expr, err := Parse("Likes(., X), Likes(X, .)")
	require.NoError(t, err)
	require.Len(t, expr.Terms, 2)

	assert.True(t, expr.Terms[0].Subject().This)
	obj, ok := expr.Terms[1].Object()
	require.True(t, ok)
	assert.True(t, obj.This)
	assert.Equal(t, "X", expr.Terms[1].Subject().Name)
}

func TestParseAnonymous(t *testing.T) {
	expr, err := Parse("HomePlanet(_, Tatooine)")
	require.NoError(t, err)
	assert.True(t, expr.Terms[0].Subject().Anon)
}

func TestParseThreeArgs(t *testing.T) {
	// The parser accepts >2 arguments; the planner rejects them with a
	// proper diagnostic.
	expr, err := Parse("Likes(a, b, c)")
	require.NoError(t, err)
	assert.Len(t, expr.Terms[0].Args, 3)
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"Jedi(",
		"Jedi(Yoda",
		"Jedi(Yoda))",
		"Jedi(,)",
		"(Yoda)",
		"Jedi(Yoda),",
		".(Yoda)",
	} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestErrorCarriesExpression(t *testing.T) {
	_, err := Parse("Jedi(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Jedi(")
}

func TestString(t *testing.T) {
	expr, err := Parse("Likes( . , X ),Jedi")
	require.NoError(t, err)
	assert.Equal(t, "Likes(., X), Jedi(.)", expr.String())
}
