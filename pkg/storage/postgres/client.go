// Package postgres provides PostgreSQL implementation for impression storage.
package postgres

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/storage/sqlstore"
)

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

// NewClient connects to PostgreSQL and migrates the schema.
func NewClient(cfg *Config, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := sqlstore.New(db, sqlstore.Postgres, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
