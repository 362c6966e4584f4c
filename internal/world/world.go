// Package world implements the entity-component-relationship store the rule
// engine evaluates against.
//
// Entities live in tables. A table owns every entity that carries exactly the
// same set of ids (its type), so matching a query against a table answers it
// for all of the table's entities at once. Tables are created on demand when
// an entity's id set changes, and are indexed by the ids their types contain
// so the engine can find all tables matching an id mask.
package world

import (
	"sort"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/funvibe/rulevm/internal/config"
	"github.com/funvibe/rulevm/internal/ids"
)

// Record maps an entity to its storage location.
type Record struct {
	Table *Table
	Row   int
}

// World is the store. It is not safe for concurrent mutation; readers
// (including rule iterators) may run concurrently as long as nothing writes.
type World struct {
	log *zap.Logger
	id  uuid.UUID

	names   map[string]ids.Id
	byID    map[ids.Id]string
	records map[ids.Id]*Record

	tables   []*Table
	tableMap map[string]*Table

	// index maps every id occurring in some table type to the set of tables
	// containing it. Wildcard-normalized masks are resolved on demand and
	// memoized in wildcards until the table generation changes.
	index     map[ids.Id]*TableSet
	wildcards *lru.Cache[ids.Id, cachedSet]
	gen       uint64

	nextID ids.Id
}

type cachedSet struct {
	gen uint64
	set *TableSet
}

// Option configures a World.
type Option func(*World)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *World) { w.log = log }
}

func New(opts ...Option) *World {
	w := &World{
		log:      zap.NewNop(),
		id:       uuid.New(),
		names:    make(map[string]ids.Id),
		byID:     make(map[ids.Id]string),
		records:  make(map[ids.Id]*Record),
		tableMap: make(map[string]*Table),
		index:    make(map[ids.Id]*TableSet),
		nextID:   ids.FirstUser,
	}
	w.wildcards, _ = lru.New[ids.Id, cachedSet](config.TableSetCacheSize)

	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(zap.String("world", w.id.String()))

	w.bootstrap()
	return w
}

// ID returns the world instance id.
func (w *World) ID() uuid.UUID {
	return w.id
}

// Logger returns the world's logger.
func (w *World) Logger() *zap.Logger {
	return w.log
}

// bootstrap registers the reserved entities. IsA is transitive out of the
// box; everything else is plain.
func (w *World) bootstrap() {
	builtins := []struct {
		id   ids.Id
		name string
	}{
		{ids.Wildcard, "*"},
		{ids.This, "."},
		{ids.IsA, "IsA"},
		{ids.Transitive, "Transitive"},
		{ids.Final, "Final"},
		{ids.Name, "Name"},
	}
	for _, b := range builtins {
		w.names[b.name] = b.id
		w.byID[b.id] = b.name
	}

	w.Add(ids.IsA, ids.Transitive)
	w.Add(ids.IsA, ids.Final)
}

// Lookup resolves a registered name. The second return is false for names the
// world has never seen, which rule compilation treats as variables.
func (w *World) Lookup(name string) (ids.Id, bool) {
	id, ok := w.names[name]
	return id, ok
}

// Register reserves an id for a name without storing the entity anywhere.
// Most callers want Entity instead.
func (w *World) Register(name string) ids.Id {
	if id, ok := w.names[name]; ok {
		return id
	}
	id := w.nextID
	w.nextID++
	w.names[name] = id
	w.byID[id] = name
	return id
}

// Entity returns the id registered for name, creating a fresh entity if the
// name is unknown. New entities carry the Name tag, so every named entity
// has a backing table.
func (w *World) Entity(name string) ids.Id {
	if id, ok := w.names[name]; ok {
		return id
	}
	id := w.Register(name)
	w.Add(id, ids.Name)
	return id
}

// NameOf returns the registered name of id, or "" when anonymous.
func (w *World) NameOf(id ids.Id) string {
	return w.byID[id]
}

// Names returns a copy of the name registry, reserved names included.
func (w *World) Names() map[string]ids.Id {
	out := make(map[string]ids.Id, len(w.names))
	for name, id := range w.names {
		out[name] = id
	}
	return out
}

// RecordOf maps an entity to its table and row.
func (w *World) RecordOf(e ids.Id) (*Record, bool) {
	r, ok := w.records[e]
	if !ok || r.Table == nil {
		return nil, false
	}
	return r, true
}

// TableOf is a convenience over RecordOf.
func (w *World) TableOf(e ids.Id) *Table {
	if r, ok := w.RecordOf(e); ok {
		return r.Table
	}
	return nil
}

// Has reports whether entity e carries the id comp in its type.
func (w *World) Has(e, comp ids.Id) bool {
	t := w.TableOf(e)
	if t == nil {
		return false
	}
	for _, id := range t.Type {
		if id == comp {
			return true
		}
	}
	return false
}

// HasRole reports whether id carries a role tag (Transitive, Final, IsA).
func (w *World) HasRole(id, role ids.Id) bool {
	return w.Has(id, role)
}

// AddFact records pred(subject) or pred(subject, object).
func (w *World) AddFact(subject, pred, obj ids.Id) {
	if obj != 0 {
		w.Add(subject, ids.Pair(pred, obj))
	} else {
		w.Add(subject, pred)
	}
}

// Add inserts comp into e's type, moving e to the matching table.
func (w *World) Add(e, comp ids.Id) {
	rec, ok := w.records[e]
	if !ok {
		rec = &Record{}
		w.records[e] = rec
	}

	var cur []ids.Id
	if rec.Table != nil {
		cur = rec.Table.Type
	}
	for _, id := range cur {
		if id == comp {
			return
		}
	}

	next := make([]ids.Id, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, comp)

	dst := w.findOrCreateTable(next)
	w.moveEntity(e, rec, dst)
}

// moveEntity detaches e from its current table (if any) and appends it to
// dst, fixing up the record of any entity displaced by the swap-remove.
func (w *World) moveEntity(e ids.Id, rec *Record, dst *Table) {
	if src := rec.Table; src != nil {
		last := len(src.Entities) - 1
		moved := src.Entities[last]
		src.Entities[rec.Row] = moved
		src.Entities = src.Entities[:last]
		if moved != e {
			w.records[moved].Row = rec.Row
		}
	}

	rec.Table = dst
	rec.Row = len(dst.Entities)
	dst.Entities = append(dst.Entities, e)
}

// findOrCreateTable returns the table for the given id set, creating and
// indexing it if it does not exist. The input need not be sorted.
func (w *World) findOrCreateTable(typ []ids.Id) *Table {
	norm := normalizeType(typ)
	key := typeKey(norm)
	if t, ok := w.tableMap[key]; ok {
		return t
	}

	t := &Table{
		ID:   int32(len(w.tables) + 1),
		Type: norm,
	}
	w.tables = append(w.tables, t)
	w.tableMap[key] = t
	w.registerTable(t)
	w.gen++

	w.log.Debug("table created",
		zap.Int32("table", t.ID),
		zap.Int("ids", len(norm)))
	return t
}

// normalizeType sorts and deduplicates an id set.
func normalizeType(typ []ids.Id) []ids.Id {
	out := make([]ids.Id, len(typ))
	copy(out, typ)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, id := range out {
		if i > 0 && id == out[i-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

func typeKey(typ []ids.Id) string {
	buf := make([]byte, 0, len(typ)*8)
	for _, id := range typ {
		for shift := 0; shift < 64; shift += 8 {
			buf = append(buf, byte(id>>shift))
		}
	}
	return string(buf)
}
