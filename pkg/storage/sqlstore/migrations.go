package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

// Migrate applies all pending migrations of dialect to db.
func Migrate(ctx context.Context, db *sqlx.DB, dialect Dialect, logger *zap.Logger) error {
	fsys, err := fs.Sub(embedMigrations, dialect.dir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	// The provider is not closed: Close would close db.
	provider, err := goose.NewProvider(dialect.goose, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		logger.Error("database migrations failed", zap.String("dialect", dialect.name), zap.Error(err))
		return err
	}

	logger.Debug("database migrations completed",
		zap.String("dialect", dialect.name),
		zap.Int("applied", len(results)))
	return nil
}
