package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"githubie.shikanime.studio/internal/collections/github"
	"githubie.shikanime.studio/internal/config"
	"githubie.shikanime.studio/internal/database"
	"githubie.shikanime.studio/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// maxFetchAttempts bounds how often one load restarts after the collection
// was edited mid-fetch.
const maxFetchAttempts = 3

// PopularSearcher is implemented by gateways that can list popular
// repositories without topics.
type PopularSearcher interface {
	SearchWithoutTopics(ctx context.Context, minStars int, credential string) ([]types.Repository, error)
}

// Collections ties the store, the result cache and the aggregator together.
type Collections struct {
	*Store

	db       *database.Database
	gw       Gateway
	agg      *Aggregator
	n        Notifier
	now      func() time.Time
	pageSize int

	sf singleflight.Group

	mu        sync.Mutex
	selID     int64
	selCtx    context.Context
	selCancel context.CancelFunc
}

// Options holds configuration for initializing Collections.
type Options struct {
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
	pageSize int
	github   []github.GitHubClientOption
}

// Option applies a configuration to Options.
type Option func(*Options)

// WithNotifier sets the service receiving progress and notices.
func WithNotifier(n Notifier) Option { return func(o *Options) { o.notifier = n } }

// WithCacheTTL sets how long aggregation results stay fresh.
func WithCacheTTL(d time.Duration) Option { return func(o *Options) { o.ttl = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Options) { o.now = now } }

// WithPageSize sets how many repositories each page adds.
func WithPageSize(n int) Option { return func(o *Options) { o.pageSize = n } }

// WithGitHubOptions forwards GitHub client options used by NewForConfig.
func WithGitHubOptions(opts ...github.GitHubClientOption) Option {
	return func(o *Options) { o.github = append(o.github, opts...) }
}

// NewForConfig opens the configured database, builds the GitHub gateway and
// loads the persisted state. A configured token seeds the stored credential.
func NewForConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Collections, error) {
	db, err := database.NewForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{
		WithCacheTTL(cfg.GetCollectionCacheTTL()),
		WithPageSize(cfg.GetPageSize()),
	}, opts...)
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	c, err := New(ctx, db, github.NewClient(o.github...), opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if token := cfg.GetGitHubToken(); token != "" && c.Credential() == "" {
		c.SetCredential(ctx, token)
	}
	return c, nil
}

// New constructs Collections on db and gw. A nil db keeps state in memory.
func New(ctx context.Context, db *database.Database, gw Gateway, opts ...Option) (*Collections, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = NopNotifier{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	store, err := NewStore(ctx, db, NewCache(o.ttl), o.notifier, o.now)
	if err != nil {
		return nil, err
	}
	return &Collections{
		Store:    store,
		db:       db,
		gw:       gw,
		agg:      NewAggregator(gw, o.notifier),
		n:        o.notifier,
		now:      o.now,
		pageSize: o.pageSize,
	}, nil
}

// Repositories returns the cached result of a collection when fresh, and
// aggregates it otherwise. Concurrent calls for one collection share a
// single aggregation.
func (c *Collections) Repositories(ctx context.Context, id int64) (types.CacheEntry, error) {
	return c.load(ctx, id, false)
}

// Refresh aggregates a collection regardless of freshness. The previous
// result stays in place unless the new run completes.
func (c *Collections) Refresh(ctx context.Context, id int64) (types.CacheEntry, error) {
	entry, err := c.load(ctx, id, true)
	if err != nil {
		return types.CacheEntry{}, err
	}
	c.n.Notify(ctx, Notice{
		Kind:        NoticeInfo,
		Title:       "Collection Refreshed",
		Description: "The collection has been refreshed with the latest data.",
	})
	return entry, nil
}

// Select makes id the active collection and loads its repositories. A load
// still running for a previously selected collection is cancelled.
func (c *Collections) Select(ctx context.Context, id int64) (types.CacheEntry, error) {
	if err := c.Store.Select(ctx, id); err != nil {
		return types.CacheEntry{}, err
	}
	c.mu.Lock()
	if c.selCtx == nil || c.selID != id {
		if c.selCancel != nil {
			c.selCancel()
		}
		c.selCtx, c.selCancel = context.WithCancel(context.Background())
		c.selID = id
	}
	sel := c.selCtx
	c.mu.Unlock()

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sel, cancel)
	defer stop()
	return c.load(lctx, id, false)
}

// Import stores a shared collection, then selects it and loads its
// repositories. A failed load is reported by the aggregator notices and does
// not undo the import.
func (c *Collections) Import(ctx context.Context, share string) (types.Collection, error) {
	col, err := c.Store.Import(ctx, share)
	if err != nil {
		return types.Collection{}, err
	}
	if _, err := c.Select(ctx, col.ID); err != nil {
		slog.WarnContext(ctx, "Failed to load imported collection", "collection_id", col.ID, "error", err)
	}
	return col, nil
}

// Delete removes a collection, cancelling its in-flight load when selected.
func (c *Collections) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.selID == id && c.selCancel != nil {
		c.selCancel()
		c.selCtx, c.selCancel, c.selID = nil, nil, 0
	}
	c.mu.Unlock()
	return c.Store.Delete(ctx, id)
}

// Page returns the first page of unseen repositories of a cached result and
// whether more remain. It never fetches.
func (c *Collections) Page(id int64, page int) ([]types.Repository, bool) {
	entry, ok := c.Cache().Get(id)
	if !ok {
		return nil, false
	}
	return Page(entry.Unseen, page, c.pageSize)
}

// Discover lists popular repositories without topics, when the gateway supports it.
func (c *Collections) Discover(ctx context.Context, minStars int) ([]types.Repository, error) {
	ps, ok := c.gw.(PopularSearcher)
	if !ok {
		return nil, fmt.Errorf("gateway does not support topic-less search")
	}
	return ps.SearchWithoutTopics(ctx, minStars, c.Credential())
}

// Ping verifies the database is reachable.
func (c *Collections) Ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Ping(ctx); err != nil {
		return fmt.Errorf("datastore ping failed: %w", err)
	}
	return nil
}

func (c *Collections) Close() error {
	c.mu.Lock()
	if c.selCancel != nil {
		c.selCancel()
	}
	c.mu.Unlock()
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Collections) load(ctx context.Context, id int64, force bool) (types.CacheEntry, error) {
	tracer := otel.Tracer("githubie/collections")
	ctx, span := tracer.Start(ctx, "Collections.Repositories")
	span.SetAttributes(attribute.Int64("collection_id", id), attribute.Bool("force", force))
	defer span.End()

	col, ok := c.Get(id)
	if !ok {
		return types.CacheEntry{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if !force {
		if entry, ok := c.Cache().Get(id); ok && c.Cache().IsFresh(id, c.now()) {
			slog.DebugContext(
				ctx,
				"Collection cache fresh; skip GitHub fetch",
				"collection_id", id,
				"unseen", len(entry.Unseen),
				"seen", len(entry.Seen),
				"last_fetched_at", entry.LastFetchedAt,
				"ttl", c.Cache().TTL(),
			)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return entry, nil
		}
	}

	v, err, shared := c.sf.Do(strconv.FormatInt(id, 10), func() (any, error) {
		// A flight that ended between the check above and Do may have filled the cache.
		if entry, ok := c.Cache().Get(id); ok && !force && c.Cache().IsFresh(id, c.now()) {
			return entry, nil
		}
		for attempt := 1; ; attempt++ {
			slog.InfoContext(ctx, "Fetching collection from GitHub API", "collection_id", id, "topics", len(col.Topics), "attempt", attempt)
			res, err := c.agg.Aggregate(ctx, col, c.Credential())
			if err != nil {
				return nil, err
			}
			entry, err := c.commit(ctx, col, types.CacheEntry{
				Unseen:        res.Unseen,
				Seen:          res.Seen,
				LastFetchedAt: c.now(),
			})
			if !errors.Is(err, errStale) || attempt == maxFetchAttempts {
				return entry, err
			}
			// Topics or threshold were edited mid-fetch; search the new ones.
			if col, ok = c.Get(id); !ok {
				return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
			}
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.CacheEntry{}, err
	}
	span.SetAttributes(attribute.Bool("shared", shared))
	return v.(types.CacheEntry).Clone(), nil
}
