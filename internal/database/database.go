package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"githubie.shikanime.studio/internal/config"
	"githubie.shikanime.studio/internal/database/memory"
	dbpgx "githubie.shikanime.studio/internal/database/pgx"
	"githubie.shikanime.studio/internal/database/sqlite"
	"githubie.shikanime.studio/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Keys of the persisted values.
const (
	CredentialKey  = "githubApiKey"
	CollectionsKey = "githubCollections"
	CacheKey       = "githubStoredRepositories"
	FavoritesKey   = "githubCollectionFavorites"
	SelectedKey    = "githubSelectedCollection"
)

// KV is a byte-oriented key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Database persists collections, cached results, favorites and the credential
// as JSON documents in a KV.
type Database struct {
	kv KV
}

// NewForConfig opens the KV backend selected by the configured DSN.
func NewForConfig(ctx context.Context, cfg *config.Config) (*Database, error) {
	dsn, err := cfg.GetDsn()
	if err != nil {
		return nil, err
	}
	switch dsn.Scheme {
	case "postgres", "postgresql":
		pg, err := dbpgx.NewClientForConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewClient(dbpgx.New(pg)), nil
	case "sqlite", "sqlite3":
		s, err := sqlite.Open(sqlitePath(dsn))
		if err != nil {
			return nil, err
		}
		return NewClient(s), nil
	case "memory":
		return NewClient(memory.New()), nil
	default:
		return nil, fmt.Errorf("unsupported DSN scheme %q", dsn.Scheme)
	}
}

func sqlitePath(dsn *url.URL) string {
	if dsn.Opaque != "" {
		return dsn.Opaque
	}
	return filepath.FromSlash(dsn.Host + dsn.Path)
}

// NewClient constructs a Database on top of kv.
func NewClient(kv KV) *Database { return &Database{kv: kv} }

// Ping verifies the backend is available.
func (db *Database) Ping(ctx context.Context) error {
	tracer := otel.Tracer("githubie/database")
	ctx, span := tracer.Start(ctx, "Database.Ping")
	defer span.End()
	if db.kv == nil {
		return fmt.Errorf("database connection not available")
	}
	return db.kv.Ping(ctx)
}

func (db *Database) Close() error {
	if db.kv == nil {
		return nil
	}
	return db.kv.Close()
}

// GetCredential returns the stored GitHub token, or "" when none is set.
func (db *Database) GetCredential(ctx context.Context) (string, error) {
	b, ok, err := db.get(ctx, "Database.GetCredential", CredentialKey)
	if err != nil || !ok {
		return "", err
	}
	return string(b), nil
}

// SetCredential stores token; an empty token deletes it.
func (db *Database) SetCredential(ctx context.Context, token string) error {
	if token == "" {
		return db.delete(ctx, "Database.SetCredential", CredentialKey)
	}
	return db.set(ctx, "Database.SetCredential", CredentialKey, []byte(token))
}

// ListCollections returns the stored collections in their saved order.
func (db *Database) ListCollections(ctx context.Context) ([]types.Collection, error) {
	var cols []types.Collection
	if err := db.getJSON(ctx, "Database.ListCollections", CollectionsKey, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// SaveCollections replaces the stored collection list.
func (db *Database) SaveCollections(ctx context.Context, cols []types.Collection) error {
	return db.setJSON(ctx, "Database.SaveCollections", CollectionsKey, cols)
}

// GetCacheEntries returns the cached aggregation results keyed by collection id.
func (db *Database) GetCacheEntries(ctx context.Context) (map[int64]types.CacheEntry, error) {
	entries := make(map[int64]types.CacheEntry)
	if err := db.getJSON(ctx, "Database.GetCacheEntries", CacheKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveCacheEntries replaces the stored cache map.
func (db *Database) SaveCacheEntries(ctx context.Context, entries map[int64]types.CacheEntry) error {
	return db.setJSON(ctx, "Database.SaveCacheEntries", CacheKey, entries)
}

// GetFavorites returns the favorites index keyed by collection id.
func (db *Database) GetFavorites(ctx context.Context) (map[int64][]types.Repository, error) {
	favs := make(map[int64][]types.Repository)
	if err := db.getJSON(ctx, "Database.GetFavorites", FavoritesKey, &favs); err != nil {
		return nil, err
	}
	return favs, nil
}

// SaveFavorites replaces the stored favorites index.
func (db *Database) SaveFavorites(ctx context.Context, favs map[int64][]types.Repository) error {
	return db.setJSON(ctx, "Database.SaveFavorites", FavoritesKey, favs)
}

// GetSelected returns the id of the active collection, or 0 when none is stored.
func (db *Database) GetSelected(ctx context.Context) (int64, error) {
	var id int64
	if err := db.getJSON(ctx, "Database.GetSelected", SelectedKey, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetSelected stores the active collection id; 0 deletes it.
func (db *Database) SetSelected(ctx context.Context, id int64) error {
	if id == 0 {
		return db.delete(ctx, "Database.SetSelected", SelectedKey)
	}
	return db.setJSON(ctx, "Database.SetSelected", SelectedKey, id)
}

func (db *Database) getJSON(ctx context.Context, op, key string, out any) error {
	b, ok, err := db.get(ctx, op, key)
	if err != nil || !ok {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s failed: %w", key, err)
	}
	return nil
}

func (db *Database) setJSON(ctx context.Context, op, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s failed: %w", key, err)
	}
	return db.set(ctx, op, key, b)
}

func (db *Database) get(ctx context.Context, op, key string) ([]byte, bool, error) {
	tracer := otel.Tracer("githubie/database")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.String("key", key))
	defer span.End()
	if db.kv == nil {
		return nil, false, fmt.Errorf("database connection not available")
	}
	b, ok, err := db.kv.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	slog.DebugContext(ctx, "kv get", "key", key, "found", ok, "bytes", len(b))
	return b, ok, nil
}

func (db *Database) set(ctx context.Context, op, key string, value []byte) error {
	tracer := otel.Tracer("githubie/database")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.String("key", key), attribute.Int("bytes", len(value)))
	defer span.End()
	if db.kv == nil {
		return fmt.Errorf("database connection not available")
	}
	if err := db.kv.Set(ctx, key, value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	slog.DebugContext(ctx, "kv set", "key", key, "bytes", len(value))
	return nil
}

func (db *Database) delete(ctx context.Context, op, key string) error {
	tracer := otel.Tracer("githubie/database")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.String("key", key))
	defer span.End()
	if db.kv == nil {
		return fmt.Errorf("database connection not available")
	}
	if err := db.kv.Delete(ctx, key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
