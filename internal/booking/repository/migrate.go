package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewMigrator returns a goose provider over the embedded migrations. Its
// Close closes db, so callers that keep db open should not call it.
func NewMigrator(db *sql.DB) (*goose.Provider, error) {
	dir, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, dir, goose.WithDisableGlobalRegistry(true))
}

// Migrate applies pending migrations and returns the files applied by this
// call. Each file runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	m, err := NewMigrator(db)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	results, err := m.Up(ctx)
	applied := make([]string, 0, len(results))
	for _, r := range results {
		if r.Error == nil && r.Source != nil {
			applied = append(applied, r.Source.Path)
		}
	}
	if err != nil {
		return applied, fmt.Errorf("migrate: %w", err)
	}
	return applied, nil
}
