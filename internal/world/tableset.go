package world

import "github.com/funvibe/rulevm/internal/ids"

// Table owns every entity whose id set equals Type. Type is sorted ascending,
// which places plain ids before pairs and clusters pairs by predicate (the
// predicate sits in the high bits of the pair encoding).
type Table struct {
	ID       int32
	Type     []ids.Id
	Entities []ids.Id
}

// Count returns the number of entities stored in the table.
func (t *Table) Count() int {
	if t == nil {
		return 0
	}
	return len(t.Entities)
}

// TableRecord pairs a table with the first column of its type that matched
// the id the set was built for.
type TableRecord struct {
	Table  *Table
	Column int
}

// TableSet is the collection of tables whose types contain at least one id
// matching some mask. Records keep insertion order; membership by table id is
// O(1).
type TableSet struct {
	records []TableRecord
	byTable map[int32]int
}

func newTableSet() *TableSet {
	return &TableSet{byTable: make(map[int32]int)}
}

func (s *TableSet) add(t *Table, column int) {
	if _, ok := s.byTable[t.ID]; ok {
		return
	}
	s.byTable[t.ID] = len(s.records)
	s.records = append(s.records, TableRecord{Table: t, Column: column})
}

// Len returns the number of tables in the set.
func (s *TableSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// At returns the i-th record in insertion order.
func (s *TableSet) At(i int) TableRecord {
	return s.records[i]
}

// Find returns the record for a table id, or nil when the table is not in
// the set.
func (s *TableSet) Find(tableID int32) *TableRecord {
	if s == nil {
		return nil
	}
	i, ok := s.byTable[tableID]
	if !ok {
		return nil
	}
	return &s.records[i]
}

// registerTable indexes a new table under every distinct id in its type.
func (w *World) registerTable(t *Table) {
	for col, id := range t.Type {
		set, ok := w.index[id]
		if !ok {
			set = newTableSet()
			w.index[id] = set
		}
		set.add(t, col)
	}
}

// TableSetFor returns the set of tables whose type contains at least one id
// matching mask. Wildcard halves of the mask are don't-cares; such lookups
// are resolved by scanning the tables and memoized until a table is created.
// A nil return means no table matches.
func (w *World) TableSetFor(mask ids.Id) *TableSet {
	if !maskHasWildcard(mask) {
		return w.index[mask]
	}

	if c, ok := w.wildcards.Get(mask); ok && c.gen == w.gen {
		return c.set
	}

	var set *TableSet
	for _, t := range w.tables {
		col := firstMatch(t.Type, mask)
		if col == -1 {
			continue
		}
		if set == nil {
			set = newTableSet()
		}
		set.add(t, col)
	}

	w.wildcards.Add(mask, cachedSet{gen: w.gen, set: set})
	return set
}

func maskHasWildcard(mask ids.Id) bool {
	if ids.Lo(mask) == ids.Wildcard {
		return true
	}
	return ids.IsPair(mask) && ids.Hi(mask) == ids.Wildcard
}

// firstMatch returns the first column of typ matching mask, or -1. A column
// matches when its role bits equal the mask's and every non-wildcard half is
// equal.
func firstMatch(typ []ids.Id, mask ids.Id) int {
	lo, hi := ids.Lo(mask), ids.Hi(mask)
	for col, id := range typ {
		if ids.Roles(id) != ids.Roles(mask) {
			continue
		}
		if lo != ids.Wildcard && ids.Lo(id) != lo {
			continue
		}
		if hi != ids.Wildcard && ids.Hi(id) != hi {
			continue
		}
		return col
	}
	return -1
}

// Tables returns all tables in creation order.
func (w *World) Tables() []*Table {
	return w.tables
}
