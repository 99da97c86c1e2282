// Package db opens the lightmeter SQLite database and applies its schema.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the shared SQLite handle used by the ledger and the light store.
type DB struct {
	*sql.DB
}

type table struct {
	name string
	ddl  string
}

// schema is applied in order on every open.
var schema = []table{
	{
		// Append-only history of transitions, forced offs and resets.
		name: "event_ledger",
		ddl: `
			CREATE TABLE IF NOT EXISTS event_ledger (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				light_id TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				payload TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON event_ledger(event_type, timestamp);
			CREATE INDEX IF NOT EXISTS idx_ledger_light_ts ON event_ledger(light_id, timestamp);`,
	},
	{
		// Numeric light variables keyed <prefix><field>_<id>.
		name: "kv_store",
		ddl: `
			CREATE TABLE IF NOT EXISTS kv_store (
				bucket TEXT NOT NULL,
				key TEXT NOT NULL,
				value TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (bucket, key)
			);
			CREATE INDEX IF NOT EXISTS idx_kv_bucket ON kv_store(bucket);`,
	},
}

// Open opens (or creates) the database at path in WAL mode and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	for _, t := range schema {
		if _, err := conn.Exec(t.ddl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create %s: %w", t.name, err)
		}
	}

	return &DB{conn}, nil
}
