package sqlstore

import (
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	name  string
	goose goose.Dialect
	dir   string
}

// Supported dialects.
var (
	SQLite   = Dialect{name: "sqlite3", goose: goose.DialectSQLite3, dir: "migrations/sqlite"}
	Postgres = Dialect{name: "postgres", goose: goose.DialectPostgres, dir: "migrations/postgres"}
	MySQL    = Dialect{name: "mysql", goose: goose.DialectMySQL, dir: "migrations/mysql"}
)

// Name returns the database/sql driver name of the dialect.
func (d Dialect) Name() string {
	return d.name
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// insertIgnore builds an INSERT that silently skips rows violating the unique key.
func (d Dialect) insertIgnore(table string, cols []string, conflict string) string {
	values := fmt.Sprintf("(%s) VALUES (%s)", strings.Join(cols, ", "), placeholders(len(cols)))
	switch d.name {
	case SQLite.name:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s %s", table, values)
	case MySQL.name:
		return fmt.Sprintf("INSERT IGNORE INTO %s %s", table, values)
	default:
		return fmt.Sprintf("INSERT INTO %s %s ON CONFLICT (%s) DO NOTHING", table, values, conflict)
	}
}

// upsert builds a single-statement insert-or-update keyed on conflict.
// sets are complete assignments such as "a = " + d.excluded("a").
func (d Dialect) upsert(table string, cols []string, conflict string, sets []string) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	if d.name == MySQL.name {
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insert, strings.Join(sets, ", "))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert, conflict, strings.Join(sets, ", "))
}

// excluded references the value proposed for col by the failed insert.
func (d Dialect) excluded(col string) string {
	if d.name == MySQL.name {
		return fmt.Sprintf("VALUES(%s)", col)
	}
	return "excluded." + col
}
