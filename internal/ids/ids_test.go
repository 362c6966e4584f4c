package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairEncoding(t *testing.T) {
	p := Pair(42, 7)

	assert.True(t, IsPair(p))
	assert.Equal(t, Id(42), Hi(p), "predicate lives in the high half")
	assert.Equal(t, Id(7), Lo(p), "object lives in the low half")
	assert.Equal(t, RolePair, Roles(p))
}

func TestPlainId(t *testing.T) {
	id := Id(99)

	assert.False(t, IsPair(id))
	assert.Equal(t, Id(99), Lo(id))
	assert.Equal(t, Id(0), Hi(id))
	assert.Equal(t, Id(0), Roles(id))
}

func TestPairOrdering(t *testing.T) {
	// The predicate dominates the sort key, so pairs with the same predicate
	// cluster together in a sorted type.
	a := Pair(10, 500)
	b := Pair(10, 501)
	c := Pair(11, 1)

	assert.Less(t, uint64(a), uint64(b))
	assert.Less(t, uint64(b), uint64(c))
}

func TestWildcardHalves(t *testing.T) {
	p := Pair(42, Wildcard)
	assert.Equal(t, Wildcard, Lo(p))
	assert.Equal(t, Id(42), Hi(p))

	q := Pair(Wildcard, 7)
	assert.Equal(t, Wildcard, Hi(q))
	assert.Equal(t, Id(7), Lo(q))
}

func TestString(t *testing.T) {
	assert.Equal(t, "7", Id(7).String())
	assert.Equal(t, "(42,7)", Pair(42, 7).String())
}
