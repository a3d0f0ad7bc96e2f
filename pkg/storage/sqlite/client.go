// Package sqlite provides SQLite implementation for impression storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-process deployments.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/storage/sqlstore"
)

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeoutMS is how long a writer waits for a lock (default: 5000).
	BusyTimeoutMS int
}

// NewClient opens (creating if needed) the database file and migrates it.
//
// Parameters:
//   - cfg: Configuration containing the database path
//   - logger: Structured logger (nil disables logging)
//
// Returns:
//   - *sqlstore.Store: The store instance
//   - error: Error if the directory, connection or migrations fail
func NewClient(cfg *Config, logger *zap.Logger) (*sqlstore.Store, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	busy := cfg.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.DBPath, busy)

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	store, err := sqlstore.New(db, sqlstore.SQLite, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// A single connection serializes writers under concurrent enrichment.
	db.SetMaxOpenConns(1)
	return store, nil
}
