package worldfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funvibe/rulevm/internal/ids"
)

const sample = `
roles:
  transitive: [Reports]
  final: [Jedi]
facts:
  - Jedi(Yoda)
  - HomePlanet(Luke, Tatooine)
  - Reports(Luke, Leia)
`

func TestParse(t *testing.T) {
	w, err := Parse([]byte(sample))
	require.NoError(t, err)

	yoda, ok := w.Lookup("Yoda")
	require.True(t, ok)
	jedi, _ := w.Lookup("Jedi")
	assert.True(t, w.Has(yoda, jedi))

	luke, _ := w.Lookup("Luke")
	homePlanet, _ := w.Lookup("HomePlanet")
	tatooine, _ := w.Lookup("Tatooine")
	assert.True(t, w.Has(luke, ids.Pair(homePlanet, tatooine)))
}

func TestRolesApplied(t *testing.T) {
	w, err := Parse([]byte(sample))
	require.NoError(t, err)

	reports, ok := w.Lookup("Reports")
	require.True(t, ok)
	assert.True(t, w.HasRole(reports, ids.Transitive))

	jedi, _ := w.Lookup("Jedi")
	assert.True(t, w.HasRole(jedi, ids.Final))

	homePlanet, _ := w.Lookup("HomePlanet")
	assert.False(t, w.HasRole(homePlanet, ids.Transitive))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	w, err := Load(path)
	require.NoError(t, err)
	_, ok := w.Lookup("Yoda")
	assert.True(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRejectsNonGroundFacts(t *testing.T) {
	for _, doc := range []string{
		"facts: [\"Jedi(.)\"]",
		"facts: [\"Jedi(_)\"]",
		"facts: [\"HomePlanet(Luke, _)\"]",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("facts: {not a list"))
	assert.Error(t, err)
}

func TestRejectsTooManyArguments(t *testing.T) {
	_, err := Parse([]byte("facts: [\"Likes(a, b, c)\"]"))
	assert.Error(t, err)
}
