// Package worldfile loads world definitions from YAML documents.
//
// A world file declares role tags and ground facts:
//
//	roles:
//	  transitive: [IsA]
//	  final: [Jedi]
//	facts:
//	  - Jedi(Yoda)
//	  - HomePlanet(Luke, Tatooine)
//
// Facts use the query term grammar, restricted to ground terms.
package worldfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/funvibe/rulevm/internal/ast"
	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/parser"
	"github.com/funvibe/rulevm/internal/world"
)

// Document is the YAML shape of a world file.
type Document struct {
	Roles Roles    `yaml:"roles"`
	Facts []string `yaml:"facts"`
}

type Roles struct {
	Transitive []string `yaml:"transitive"`
	Final      []string `yaml:"final"`
}

// Load reads a world file and applies it to a fresh world.
func Load(path string, opts ...world.Option) (*world.World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, opts...)
}

// Parse applies a world document to a fresh world.
func Parse(data []byte, opts ...world.Option) (*world.World, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("worldfile: %w", err)
	}

	w := world.New(opts...)
	if err := Apply(w, &doc); err != nil {
		return nil, err
	}
	return w, nil
}

// Apply loads a document into an existing world. Roles are applied before
// facts so transitivity is visible to rules compiled right after loading.
func Apply(w *world.World, doc *Document) error {
	for _, name := range doc.Roles.Transitive {
		w.Add(w.Entity(name), ids.Transitive)
	}
	for _, name := range doc.Roles.Final {
		w.Add(w.Entity(name), ids.Final)
	}

	for _, fact := range doc.Facts {
		if err := AddFact(w, fact); err != nil {
			return err
		}
	}
	return nil
}

// AddFact parses and applies one ground fact.
func AddFact(w *world.World, fact string) error {
	expr, err := parser.Parse(fact)
	if err != nil {
		return fmt.Errorf("worldfile: fact %q: %w", fact, err)
	}

	for i := range expr.Terms {
		t := &expr.Terms[i]
		if err := checkGround(t); err != nil {
			return fmt.Errorf("worldfile: fact %q: %w", fact, err)
		}
		if len(t.Args) > 2 {
			return fmt.Errorf("worldfile: fact %q: too many arguments", fact)
		}

		pred := w.Entity(t.Pred.Name)
		subj := w.Entity(t.Subject().Name)
		var obj ids.Id
		if o, ok := t.Object(); ok {
			obj = w.Entity(o.Name)
		}
		w.AddFact(subj, pred, obj)
	}
	return nil
}

func checkGround(t *ast.Term) error {
	idents := append([]ast.Identifier{t.Pred}, t.Args...)
	for _, id := range idents {
		if id.This || id.Anon {
			return fmt.Errorf("term %s is not ground", t)
		}
	}
	return nil
}
