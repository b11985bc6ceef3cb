// Package repositories opens the local SQLite database and groups the
// repositories built on it.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/photocatalog/internal/migrations"
	"github.com/dmitrijs2005/photocatalog/internal/repositories/checkpoints"
	"github.com/dmitrijs2005/photocatalog/internal/repositories/entries"
	"github.com/dmitrijs2005/photocatalog/internal/repositories/metadata"
)

type Repositories struct {
	DB          *sql.DB
	Entries     *entries.SQLiteRepository
	Metadata    *metadata.SQLiteRepository
	Checkpoints *checkpoints.SQLiteRepository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens dsn with the pure-Go SQLite driver and applies all
// migrations. A single connection is used so an in-memory DSN keeps one
// database and writers never contend for the file lock.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dsn, err)
	}
	return db, nil
}

func New(db *sql.DB) *Repositories {
	return &Repositories{
		DB:          db,
		Entries:     entries.NewSQLiteRepository(db),
		Metadata:    metadata.NewSQLiteRepository(db),
		Checkpoints: checkpoints.NewSQLiteRepository(db),
	}
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}
