// Package oceanbase provides OceanBase implementation for impression storage.
//
// OceanBase is reached through its MySQL-compatible protocol.
package oceanbase

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/oceanbase/impression-go/pkg/storage/sqlstore"
)

// Config contains OceanBase configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// DSN renders the go-sql-driver/mysql connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// NewClient connects to OceanBase and migrates the schema.
func NewClient(cfg *Config, logger *zap.Logger) (*sqlstore.Store, error) {
	db, err := sqlx.Connect("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := sqlstore.New(db, sqlstore.MySQL, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
