// Package snapshot persists a world's facts to a SQLite file and restores
// them. A snapshot stores names and facts, not table layout; loading rebuilds
// tables through the ordinary store path.
package snapshot

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/world"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	world_id   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS facts (
	subject INTEGER NOT NULL,
	pred    INTEGER NOT NULL,
	obj     INTEGER NOT NULL
);
`

type factRow struct {
	Subject int64 `db:"subject"`
	Pred    int64 `db:"pred"`
	Obj     int64 `db:"obj"`
}

// Save writes all of the world's entities and facts to path.
func Save(w *world.World, path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM meta", "DELETE FROM entities", "DELETE FROM facts"} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}

	_, err = tx.Exec("INSERT INTO meta (world_id, created_at) VALUES (?, ?)",
		w.ID().String(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	for name, id := range w.Names() {
		if _, err := tx.Exec("INSERT INTO entities (id, name) VALUES (?, ?)", int64(id), name); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}

	for _, t := range w.Tables() {
		for _, e := range t.Entities {
			for _, id := range t.Type {
				row := factRow{Subject: int64(e)}
				if ids.IsPair(id) {
					row.Pred = int64(ids.Hi(id))
					row.Obj = int64(ids.Lo(id))
				} else {
					row.Pred = int64(id)
				}
				_, err := tx.NamedExec(
					"INSERT INTO facts (subject, pred, obj) VALUES (:subject, :pred, :obj)", row)
				if err != nil {
					return fmt.Errorf("snapshot: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// Load restores a world from a snapshot file.
func Load(path string, opts ...world.Option) (*world.World, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer db.Close()

	type entityRow struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	var entities []entityRow
	if err := db.Select(&entities, "SELECT id, name FROM entities"); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	var facts []factRow
	if err := db.Select(&facts, "SELECT subject, pred, obj FROM facts ORDER BY rowid"); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	w := world.New(opts...)

	// Snapshot ids are not stable across worlds; remap through names.
	remap := make(map[int64]ids.Id, len(entities))
	for _, e := range entities {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("e%d", e.ID)
		}
		remap[e.ID] = w.Entity(name)
	}

	resolve := func(old int64) ids.Id {
		if old == 0 {
			return 0
		}
		if id, ok := remap[old]; ok {
			return id
		}
		id := w.Entity(fmt.Sprintf("e%d", old))
		remap[old] = id
		return id
	}

	for _, f := range facts {
		w.AddFact(resolve(f.Subject), resolve(f.Pred), resolve(f.Obj))
	}

	return w, nil
}
