package rulevm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd(t *testing.T) {
	w := NewWorld()
	jedi := w.Entity("Jedi")
	yoda := w.Entity("Yoda")
	luke := w.Entity("Luke")
	w.AddFact(yoda, jedi, 0)
	w.AddFact(luke, jedi, 0)

	r, err := Compile(w, "Jedi(.)")
	require.NoError(t, err)

	var names []string
	it := r.Iter()
	for it.Next() {
		for _, e := range it.Entities[:it.Count] {
			names = append(names, w.NameOf(e))
		}
	}
	assert.ElementsMatch(t, []string{"Yoda", "Luke"}, names)
}

func TestCompileError(t *testing.T) {
	w := NewWorld()
	_, err := Compile(w, "Jedi(")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	w := NewWorld()
	w.AddFact(w.Entity("Yoda"), w.Entity("Jedi"), 0)

	path := filepath.Join(t.TempDir(), "w.db")
	require.NoError(t, SaveSnapshot(w, path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)

	r, err := Compile(loaded, "Jedi(.)")
	require.NoError(t, err)

	it := r.Iter()
	require.True(t, it.Next())
	assert.Equal(t, "Yoda", loaded.NameOf(it.Entities[0]))
	assert.False(t, it.Next())
}
