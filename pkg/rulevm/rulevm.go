// Package rulevm is the public embedding surface of the rule engine: build
// or load a world, compile rules against it, and stream the satisfying
// variable assignments.
//
//	w := rulevm.NewWorld()
//	w.AddFact(w.Entity("Yoda"), w.Entity("Jedi"), 0)
//
//	r, err := rulevm.Compile(w, "Jedi(.)")
//	it := r.Iter()
//	for it.Next() {
//	    for _, e := range it.Entities[:it.Count] {
//	        fmt.Println(w.NameOf(e))
//	    }
//	}
package rulevm

import (
	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/rule"
	"github.com/funvibe/rulevm/internal/snapshot"
	"github.com/funvibe/rulevm/internal/world"
	"github.com/funvibe/rulevm/internal/worldfile"
)

// Id is a 64-bit entity or pair identifier.
type Id = ids.Id

// World is the entity-component-relationship store.
type World = world.World

// Rule is a compiled, immutable query program.
type Rule = rule.Rule

// Iter streams the results of one rule evaluation.
type Iter = rule.Iter

// WorldOption configures a new world.
type WorldOption = world.Option

// WithLogger attaches a zap logger to a new world.
var WithLogger = world.WithLogger

// NewWorld creates an empty world with the reserved entities bootstrapped.
func NewWorld(opts ...world.Option) *World {
	return world.New(opts...)
}

// Compile parses, plans and compiles an expression against a world.
func Compile(w *World, expr string) (*Rule, error) {
	return rule.New(w, expr)
}

// LoadWorldFile builds a world from a YAML world definition.
func LoadWorldFile(path string, opts ...world.Option) (*World, error) {
	return worldfile.Load(path, opts...)
}

// LoadSnapshot restores a world from a SQLite snapshot.
func LoadSnapshot(path string, opts ...world.Option) (*World, error) {
	return snapshot.Load(path, opts...)
}

// SaveSnapshot writes a world's facts to a SQLite snapshot.
func SaveSnapshot(w *World, path string) error {
	return snapshot.Save(w, path)
}
