package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"githubie.shikanime.studio/internal/config"
	dbpgx "githubie.shikanime.studio/internal/database/pgx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrator applies the Postgres kv_store schema. SQLite and memory backends
// create their schema on open and need no migration.
type Migrator struct {
	pg *pgxpool.Pool
}

func NewMigrator(pg *pgxpool.Pool) (*Migrator, error) {
	if pg == nil {
		return nil, fmt.Errorf("nil pgx pool")
	}
	return &Migrator{pg: pg}, nil
}

func NewMigratorForConfig(ctx context.Context, cfg *config.Config) (*Migrator, error) {
	pg, err := dbpgx.NewClientForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(pg)
}

func (mg *Migrator) Up() error {
	m, err := mg.migrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up failed: %w", err)
	}
	return nil
}

func (mg *Migrator) Down() error {
	m, err := mg.migrate()
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down failed: %w", err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	if mg.pg != nil {
		mg.pg.Close()
	}
	return nil
}

func (mg *Migrator) migrate() (*migrate.Migrate, error) {
	if mg.pg == nil {
		return nil, fmt.Errorf("migrator not initialized")
	}
	driver, err := pgx.WithInstance(sql.OpenDB(stdlib.GetPoolConnector(mg.pg)), &pgx.Config{})
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithInstance("iofs", src, "pgx", driver)
}
