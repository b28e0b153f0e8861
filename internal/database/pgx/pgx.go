package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"githubie.shikanime.studio/internal/config"
)

const (
	getQuery    = `SELECT value FROM kv_store WHERE key = $1`
	upsertQuery = `
INSERT INTO kv_store (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	deleteQuery = `DELETE FROM kv_store WHERE key = $1`
)

// NewClientForConfig creates a pgxpool.Pool using DSN information from cfg.
func NewClientForConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsnURL, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	if dsnURL.Scheme != "postgres" && dsnURL.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported scheme %q for pgx", dsnURL.Scheme)
	}
	return pgxpool.New(ctx, dsnURL.String())
}

// Store is a key-value store backed by the kv_store table.
type Store struct{ pg *pgxpool.Pool }

// New wraps an existing pool. The kv_store table is created by the migrator.
func New(pg *pgxpool.Pool) *Store { return &Store{pg: pg} }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	if err := s.pg.QueryRow(ctx, getQuery, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %q failed: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.pg.Exec(ctx, upsertQuery, key, value); err != nil {
		return fmt.Errorf("set %q failed: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pg.Exec(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("delete %q failed: %w", key, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pg.Ping(ctx) }

func (s *Store) Close() error {
	s.pg.Close()
	return nil
}
