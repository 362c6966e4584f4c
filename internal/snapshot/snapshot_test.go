package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/world"
)

func buildWorld(t *testing.T) *world.World {
	t.Helper()
	w := world.New()

	jedi := w.Entity("Jedi")
	homePlanet := w.Entity("HomePlanet")
	w.Add(homePlanet, ids.Transitive)

	yoda := w.Entity("Yoda")
	luke := w.Entity("Luke")
	tatooine := w.Entity("Tatooine")

	w.AddFact(yoda, jedi, 0)
	w.AddFact(luke, homePlanet, tatooine)
	return w
}

func TestRoundTrip(t *testing.T) {
	w := buildWorld(t)
	path := filepath.Join(t.TempDir(), "world.db")

	require.NoError(t, Save(w, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	yoda, ok := loaded.Lookup("Yoda")
	require.True(t, ok)
	jedi, _ := loaded.Lookup("Jedi")
	assert.True(t, loaded.Has(yoda, jedi))

	luke, _ := loaded.Lookup("Luke")
	homePlanet, _ := loaded.Lookup("HomePlanet")
	tatooine, _ := loaded.Lookup("Tatooine")
	assert.True(t, loaded.Has(luke, ids.Pair(homePlanet, tatooine)))

	// Role tags are ordinary facts and must survive the round trip.
	assert.True(t, loaded.HasRole(homePlanet, ids.Transitive))
}

func TestSaveIsRepeatable(t *testing.T) {
	w := buildWorld(t)
	path := filepath.Join(t.TempDir(), "world.db")

	require.NoError(t, Save(w, path))
	require.NoError(t, Save(w, path), "saving twice overwrites, not appends")

	loaded, err := Load(path)
	require.NoError(t, err)
	_, ok := loaded.Lookup("Yoda")
	assert.True(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	// The driver creates an empty database on open; a missing snapshot just
	// produces a missing schema error.
	_, err := Load(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
