// Package postgres is a store.Backend over PostgreSQL (pgx stdlib driver).
// All partitions share one records table; unique keys live in a side table
// whose primary key lets the database enforce uniqueness atomically.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/dmitrijs2005/gridstore/internal/store/postgres/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type Backend struct {
	db *sql.DB
}

// NewBackend wraps an already opened database.
func NewBackend(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	b := NewBackend(db)
	if err := b.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return b, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations.
func (b *Backend) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, b.db, ".")
}

func (b *Backend) Partition(_ context.Context, settings store.PartitionSettings) (store.Partition, error) {
	return &Partition{
		db:     b.db,
		name:   settings.Name,
		unique: settings.UniqueKeyNames(),
	}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
