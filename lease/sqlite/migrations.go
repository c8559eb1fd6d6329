package sqlite

import (
	"fmt"
	"strings"
)

func migrations(prefix string) []string {
	table := prefix + "lock"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	region        TEXT NOT NULL,
	lock_key      TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expired_after INTEGER NOT NULL,
	PRIMARY KEY (region, lock_key)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expired ON %s (region, expired_after)`, table, table),
	}
}

// CreateTableSQL returns the DDL for creating the lock table.
// Timestamps are stored as unix nanoseconds.
func CreateTableSQL(prefix string) string {
	return strings.Join(migrations(prefix), ";\n\n") + ";"
}
