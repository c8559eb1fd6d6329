package pgx

import (
	"fmt"
	"strings"
)

func migrations(prefix string) []string {
	table := prefix + "lock"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	region        VARCHAR(100) NOT NULL,
	lock_key      CHAR(36) NOT NULL,
	client_id     VARCHAR(255) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	expired_after TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (region, lock_key)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expired ON %s (region, expired_after)`, table, table),
	}
}

// CreateTableSQL returns the DDL for creating the lock table.
func CreateTableSQL(prefix string) string {
	return strings.Join(migrations(prefix), ";\n\n") + ";"
}
