package store

import (
	"database/sql"
	"fmt"
)

// A migration is applied exactly once, in ascending version order. The
// current schema version lives in sqlite's user_version pragma.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_ledger_items",
		stmts: []string{`
			CREATE TABLE ledger_items (
				tx_id            TEXT PRIMARY KEY,
				tx_datetime      TEXT NOT NULL,
				amount           TEXT NOT NULL,
				currency         TEXT NOT NULL,
				description      TEXT NOT NULL,
				account          TEXT NOT NULL,
				ledger_item_type TEXT NOT NULL,
				to_sync          INTEGER NOT NULL DEFAULT 0
			)`},
	},
	{
		version: 2,
		name:    "create_augmented_data",
		stmts: []string{`
			CREATE TABLE augmented_data (
				tx_id        TEXT PRIMARY KEY REFERENCES ledger_items (tx_id),
				amount_eur   TEXT,
				counterparty TEXT,
				category     TEXT,
				sub_category TEXT,
				event_name   TEXT
			)`},
	},
	{
		version: 3,
		name:    "index_tx_datetime",
		stmts:   []string{`CREATE INDEX idx_ledger_items_tx_datetime ON ledger_items (tx_datetime)`},
	},
}

// migrate brings the database up to the latest schema version. Each pending
// migration runs in its own transaction together with the version bump, so a
// failure leaves the database at the last fully applied version.
func migrate(db *sql.DB) error {
	var current int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d_%s: begin: %w", m.version, m.name, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d_%s: %w", m.version, m.name, err)
			}
		}
		// PRAGMA does not accept bind parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d_%s: bumping version: %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d_%s: commit: %w", m.version, m.name, err)
		}
	}
	return nil
}
