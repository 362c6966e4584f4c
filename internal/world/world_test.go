package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/rulevm/internal/ids"
)

func TestEntityRegistration(t *testing.T) {
	w := New()

	luke := w.Entity("Luke")
	assert.Equal(t, luke, w.Entity("Luke"), "same name resolves to same id")
	assert.Equal(t, "Luke", w.NameOf(luke))

	id, ok := w.Lookup("Luke")
	assert.True(t, ok)
	assert.Equal(t, luke, id)

	_, ok = w.Lookup("Vader")
	assert.False(t, ok)
}

func TestNamedEntityHasTable(t *testing.T) {
	w := New()
	luke := w.Entity("Luke")

	table := w.TableOf(luke)
	require.NotNil(t, table, "named entities carry the Name tag")
	assert.Contains(t, table.Type, ids.Name)
}

func TestRegisterIsTableless(t *testing.T) {
	w := New()
	ghost := w.Register("Ghost")
	assert.Nil(t, w.TableOf(ghost))
}

func TestBootstrapRoles(t *testing.T) {
	w := New()
	assert.True(t, w.HasRole(ids.IsA, ids.Transitive))
	assert.True(t, w.HasRole(ids.IsA, ids.Final))
	assert.False(t, w.HasRole(ids.Name, ids.Transitive))
}

func TestFindOrCreateDeduplicates(t *testing.T) {
	w := New()
	jedi := w.Entity("Jedi")

	luke := w.Entity("Luke")
	yoda := w.Entity("Yoda")
	w.Add(luke, jedi)
	w.Add(yoda, jedi)

	lt := w.TableOf(luke)
	yt := w.TableOf(yoda)
	require.NotNil(t, lt)
	assert.Same(t, lt, yt, "same id set shares one table")
	assert.ElementsMatch(t, []ids.Id{luke, yoda}, lt.Entities)
}

func TestAddMovesEntityBetweenTables(t *testing.T) {
	w := New()
	jedi := w.Entity("Jedi")
	human := w.Entity("Human")

	luke := w.Entity("Luke")
	leia := w.Entity("Leia")
	w.Add(luke, jedi)
	w.Add(leia, jedi)

	before := w.TableOf(luke)
	w.Add(luke, human)
	after := w.TableOf(luke)

	assert.NotSame(t, before, after)
	assert.NotContains(t, before.Entities, luke)

	// The displaced entity's record must still be correct.
	rec, ok := w.RecordOf(leia)
	require.True(t, ok)
	assert.Equal(t, leia, rec.Table.Entities[rec.Row])
}

func TestAddIsIdempotent(t *testing.T) {
	w := New()
	jedi := w.Entity("Jedi")
	luke := w.Entity("Luke")

	w.Add(luke, jedi)
	table := w.TableOf(luke)
	w.Add(luke, jedi)
	assert.Same(t, table, w.TableOf(luke))
}

func TestTypeIsSorted(t *testing.T) {
	w := New()
	a := w.Entity("A")
	b := w.Entity("B")
	e := w.Entity("E")
	w.Add(e, b)
	w.Add(e, a)

	typ := w.TableOf(e).Type
	for i := 1; i < len(typ); i++ {
		assert.Less(t, uint64(typ[i-1]), uint64(typ[i]))
	}
}

func TestTableSetExact(t *testing.T) {
	w := New()
	jedi := w.Entity("Jedi")
	luke := w.Entity("Luke")
	yoda := w.Entity("Yoda")
	w.Add(luke, jedi)
	w.Add(yoda, jedi)
	w.Add(yoda, w.Entity("Creature"))

	set := w.TableSetFor(jedi)
	require.NotNil(t, set)
	assert.Equal(t, 2, set.Len())

	rec := set.Find(w.TableOf(luke).ID)
	require.NotNil(t, rec)
	assert.Equal(t, jedi, rec.Table.Type[rec.Column])

	assert.Nil(t, set.Find(9999))
}

func TestTableSetPairWildcards(t *testing.T) {
	w := New()
	homePlanet := w.Entity("HomePlanet")
	tatooine := w.Entity("Tatooine")
	dagobah := w.Entity("Dagobah")
	luke := w.Entity("Luke")
	yoda := w.Entity("Yoda")
	w.AddFact(luke, homePlanet, tatooine)
	w.AddFact(yoda, homePlanet, dagobah)

	exact := w.TableSetFor(ids.Pair(homePlanet, tatooine))
	require.NotNil(t, exact)
	assert.Equal(t, 1, exact.Len())

	// Wildcard object: every table with a HomePlanet pair.
	anyObj := w.TableSetFor(ids.Pair(homePlanet, ids.Wildcard))
	require.NotNil(t, anyObj)
	assert.Equal(t, 2, anyObj.Len())

	// Wildcard predicate: every table with a pair targeting Tatooine.
	anyPred := w.TableSetFor(ids.Pair(ids.Wildcard, tatooine))
	require.NotNil(t, anyPred)
	assert.Equal(t, 1, anyPred.Len())
}

func TestTableSetPlainWildcardExcludesPairs(t *testing.T) {
	w := New()
	homePlanet := w.Entity("HomePlanet")
	tatooine := w.Entity("Tatooine")
	luke := w.Entity("Luke")
	w.AddFact(luke, homePlanet, tatooine)

	set := w.TableSetFor(ids.Wildcard)
	require.NotNil(t, set)
	for i := 0; i < set.Len(); i++ {
		rec := set.At(i)
		assert.False(t, ids.IsPair(rec.Table.Type[rec.Column]))
	}
}

func TestWildcardLookupInvalidation(t *testing.T) {
	w := New()
	homePlanet := w.Entity("HomePlanet")
	luke := w.Entity("Luke")
	w.AddFact(luke, homePlanet, w.Entity("Tatooine"))

	before := w.TableSetFor(ids.Pair(homePlanet, ids.Wildcard)).Len()

	// A new table invalidates memoized wildcard lookups.
	yoda := w.Entity("Yoda")
	w.AddFact(yoda, homePlanet, w.Entity("Dagobah"))

	after := w.TableSetFor(ids.Pair(homePlanet, ids.Wildcard)).Len()
	assert.Equal(t, before+1, after)
}

func TestMissingTableSet(t *testing.T) {
	w := New()
	assert.Nil(t, w.TableSetFor(ids.Id(12345)))
}

func TestNamesSnapshot(t *testing.T) {
	w := New()
	w.Entity("Luke")

	names := w.Names()
	assert.Contains(t, names, "Luke")
	assert.Contains(t, names, "IsA")

	// Mutating the copy must not affect the world.
	delete(names, "Luke")
	_, ok := w.Lookup("Luke")
	assert.True(t, ok)
}
