package collections

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"githubie.shikanime.studio/internal/database"
	"githubie.shikanime.studio/internal/encoding"
	"githubie.shikanime.studio/internal/types"
)

// Store is the authoritative model of collections, their cached results and
// their favorites. Writes to one collection id are serialized; distinct ids
// proceed independently. Persistence is best-effort and never rolls back
// the in-memory state.
type Store struct {
	db    *database.Database
	cache *Cache
	n     Notifier
	now   func() time.Time

	locks keyedMutex

	mu         sync.RWMutex
	cols       []types.Collection
	favs       map[int64][]types.Repository
	selected   int64
	lastID     int64
	credential string

	// pmu orders snapshots with their writes.
	pmu sync.Mutex
}

// NewStore builds a Store and loads any state persisted in db. A nil db keeps
// everything in memory.
func NewStore(ctx context.Context, db *database.Database, cache *Cache, n Notifier, now func() time.Time) (*Store, error) {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	if n == nil {
		n = NopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	s := &Store{
		db:    db,
		cache: cache,
		n:     n,
		now:   now,
		favs:  make(map[int64][]types.Repository),
	}
	if db == nil {
		return s, nil
	}

	cols, err := db.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	entries, err := db.GetCacheEntries(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load cached repositories; starting cold", "error", err)
		entries = nil
	}
	favs, err := db.GetFavorites(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load favorites", "error", err)
		favs = nil
	}
	cred, err := db.GetCredential(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load credential", "error", err)
	}
	selected, err := db.GetSelected(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load selected collection", "error", err)
	}

	s.cols = cols
	for _, c := range cols {
		s.lastID = max(s.lastID, c.ID)
	}
	if favs != nil {
		s.favs = favs
	}
	cache.load(entries)
	s.credential = cred
	if s.index(selected) >= 0 {
		s.selected = selected
	}
	slog.DebugContext(
		ctx,
		"Loaded persisted state",
		"collections", len(cols),
		"cache_entries", len(entries),
		"favorites", len(s.favs),
	)
	return s, nil
}

// Cache returns the result cache owned by the store.
func (s *Store) Cache() *Cache { return s.cache }

// List returns every collection in creation order.
func (s *Store) List() []types.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Collection, len(s.cols))
	for i, c := range s.cols {
		out[i] = c.Clone()
	}
	return out
}

// Get returns the collection with the given id.
func (s *Store) Get(id int64) (types.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.cols[i].Clone(), true
	}
	return types.Collection{}, false
}

// Create validates draft and stores it under a fresh id with an empty seen set.
func (s *Store) Create(ctx context.Context, draft types.Collection) (types.Collection, error) {
	if err := validate(draft); err != nil {
		return types.Collection{}, err
	}
	col := draft.Clone()
	col.SeenRepoIDs = []int64{}

	s.mu.Lock()
	col.ID = s.nextID()
	s.cols = append(s.cols, col)
	s.mu.Unlock()

	slog.InfoContext(ctx, "Created collection", "collection_id", col.ID, "name", col.Name, "topics", len(col.Topics))
	s.persistCollections(ctx)
	return col.Clone(), nil
}

// Update replaces the collection with col.ID. A nil SeenRepoIDs keeps the
// current seen set. Changing topics or the default threshold drops the cached
// result; replacing the seen set re-partitions it.
func (s *Store) Update(ctx context.Context, col types.Collection) error {
	if err := validate(col); err != nil {
		return err
	}
	unlock := s.locks.Lock(col.ID)
	defer unlock()

	next := col.Clone()
	s.mu.Lock()
	i := s.index(col.ID)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, col.ID)
	}
	prev := s.cols[i]
	seenReplaced := next.SeenRepoIDs != nil
	if !seenReplaced {
		next.SeenRepoIDs = slices.Clone(prev.SeenRepoIDs)
	}
	s.cols[i] = next
	s.mu.Unlock()

	switch {
	case prev.MinStars != next.MinStars || !slices.EqualFunc(prev.Topics, next.Topics, sameTopic):
		s.cache.Invalidate(col.ID)
		s.persistCache(ctx)
	case seenReplaced:
		if s.cache.update(col.ID, func(e *types.CacheEntry) bool {
			repartition(e, next)
			return true
		}) {
			s.persistCache(ctx)
		}
	}
	slog.InfoContext(ctx, "Updated collection", "collection_id", col.ID, "name", next.Name)
	s.persistCollections(ctx)
	return nil
}

// Delete removes the collection with its cached result and favorites. When it
// was selected, the selection moves to the first remaining collection.
func (s *Store) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.cols = slices.Delete(s.cols, i, i+1)
	delete(s.favs, id)
	if s.selected == id {
		s.selected = 0
		if len(s.cols) > 0 {
			s.selected = s.cols[0].ID
		}
	}
	s.cache.Invalidate(id)
	s.mu.Unlock()

	slog.InfoContext(ctx, "Deleted collection", "collection_id", id)
	s.persistCollections(ctx)
	s.persistCache(ctx)
	s.persistFavorites(ctx)
	s.persistSelected(ctx)
	return nil
}

// AddTopic appends a topic using the collection default threshold. It returns
// ErrTopicExists, after notifying, when the exact name is already present.
// The cached result is left as is until the next refresh.
func (s *Store) AddTopic(ctx context.Context, id int64, name string) error {
	if name == "" {
		return fmt.Errorf("%w: topic name is required", ErrValidation)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if s.cols[i].HasTopic(name) {
		s.mu.Unlock()
		s.n.Notify(ctx, Notice{
			Kind:        NoticeTopicExists,
			Title:       "Topic already exists",
			Description: fmt.Sprintf("The topic %q is already in this collection.", name),
		})
		return fmt.Errorf("%w: %s", ErrTopicExists, name)
	}
	s.cols[i].Topics = append(s.cols[i].Topics, types.Topic{Name: name})
	s.mu.Unlock()

	s.n.Notify(ctx, Notice{
		Kind:        NoticeInfo,
		Title:       "Topic added",
		Description: fmt.Sprintf("Added %q to collection. Refresh to load repositories.", name),
	})
	s.persistCollections(ctx)
	return nil
}

// MarkSeen records repoID as seen and moves it from the unseen to the seen
// side of the cached result. Marking twice, or marking a repository that is
// not in the unseen list, changes nothing.
func (s *Store) MarkSeen(ctx context.Context, id, repoID int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if s.cols[i].HasSeen(repoID) {
		s.mu.Unlock()
		return nil
	}
	moved := s.cache.update(id, func(e *types.CacheEntry) bool {
		j := slices.IndexFunc(e.Unseen, func(r types.Repository) bool { return r.ID == repoID })
		if j < 0 {
			return false
		}
		repo := e.Unseen[j]
		e.Unseen = slices.Delete(e.Unseen, j, j+1)
		e.Seen = append(e.Seen, repo)
		types.SortByStars(e.Seen)
		return true
	})
	if !moved {
		s.mu.Unlock()
		slog.DebugContext(ctx, "Repository not in unseen list; ignoring", "collection_id", id, "repo_id", repoID)
		return nil
	}
	s.cols[i].SeenRepoIDs = append(s.cols[i].SeenRepoIDs, repoID)
	s.mu.Unlock()

	s.persistCollections(ctx)
	s.persistCache(ctx)
	return nil
}

// ToggleFavorite removes repoID from the favorites of the collection, or
// appends it when it can be found in the cached result. It reports whether
// the repository is a favorite afterwards.
func (s *Store) ToggleFavorite(ctx context.Context, id, repoID int64) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	if s.index(id) < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	current := s.favs[id]
	if j := slices.IndexFunc(current, func(r types.Repository) bool { return r.ID == repoID }); j >= 0 {
		s.favs[id] = slices.Delete(slices.Clone(current), j, j+1)
		s.mu.Unlock()
		s.n.Notify(ctx, Notice{Kind: NoticeInfo, Title: "Removed from favorites", Description: "Repository removed from favorites"})
		s.persistFavorites(ctx)
		return false, nil
	}
	entry, ok := s.cache.Get(id)
	repo, found := entry.Find(repoID)
	if !ok || !found {
		s.mu.Unlock()
		slog.DebugContext(ctx, "Repository not found; cannot favorite", "collection_id", id, "repo_id", repoID)
		return false, nil
	}
	s.favs[id] = append(slices.Clone(current), repo)
	s.mu.Unlock()

	s.n.Notify(ctx, Notice{Kind: NoticeInfo, Title: "Added to favorites", Description: "Repository added to favorites"})
	s.persistFavorites(ctx)
	return true, nil
}

// Favorites returns the favorites of a collection in insertion order.
func (s *Store) Favorites(id int64) []types.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.favs[id])
}

// Export returns the share string of a collection.
func (s *Store) Export(id int64) (string, error) {
	col, ok := s.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return encoding.MarshalCollection(col)
}

// Import decodes a share string and stores it as a new collection. A name
// already in use gets the smallest free " (N)" suffix.
func (s *Store) Import(ctx context.Context, share string) (types.Collection, error) {
	col, err := encoding.UnmarshalCollection(share)
	if err != nil {
		slog.WarnContext(ctx, "Failed to import collection", "error", err)
		s.n.Notify(ctx, Notice{
			Kind:        NoticeDecodeFailed,
			Title:       "Import Failed",
			Description: "The collection code is invalid or corrupted.",
			Blocking:    true,
		})
		return types.Collection{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	s.mu.Lock()
	col.ID = s.nextID()
	col.Name = s.uniqueName(col.Name)
	s.cols = append(s.cols, col)
	s.mu.Unlock()

	slog.InfoContext(ctx, "Imported collection", "collection_id", col.ID, "name", col.Name)
	s.n.Notify(ctx, Notice{
		Kind:        NoticeInfo,
		Title:       "Collection Imported",
		Description: fmt.Sprintf("Successfully imported %q collection.", col.Name),
	})
	s.persistCollections(ctx)
	return col.Clone(), nil
}

// Select makes id the active collection and stores the choice.
func (s *Store) Select(ctx context.Context, id int64) error {
	s.mu.Lock()
	if s.index(id) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.selected = id
	s.mu.Unlock()
	s.persistSelected(ctx)
	return nil
}

// Selected returns the active collection, if any.
func (s *Store) Selected() (types.Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(s.selected); i >= 0 {
		return s.cols[i].Clone(), true
	}
	return types.Collection{}, false
}

// Credential returns the GitHub token used for searches, or "".
func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential replaces the GitHub token; "" removes it.
func (s *Store) SetCredential(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	s.credential = token
	s.mu.Unlock()
	if s.db == nil {
		return
	}
	if err := s.db.SetCredential(ctx, token); err != nil {
		slog.WarnContext(ctx, "Failed to persist credential", "error", err)
	}
}

// commit stores the aggregation result of a collection that still exists and
// still searches the topics and threshold of from. The partition is recomputed
// against the current seen set, which may have changed while the aggregation
// ran. A result computed for other topics is dropped with errStale.
func (s *Store) commit(ctx context.Context, from types.Collection, entry types.CacheEntry) (types.CacheEntry, error) {
	unlock := s.locks.Lock(from.ID)
	defer unlock()

	col, ok := s.Get(from.ID)
	if !ok {
		return types.CacheEntry{}, fmt.Errorf("%w: %d", ErrNotFound, from.ID)
	}
	if col.MinStars != from.MinStars || !slices.EqualFunc(col.Topics, from.Topics, sameTopic) {
		slog.DebugContext(ctx, "Collection changed during fetch; dropping result", "collection_id", from.ID)
		return types.CacheEntry{}, errStale
	}
	repartition(&entry, col)
	s.cache.Put(from.ID, entry)
	s.persistCache(ctx)
	return entry.Clone(), nil
}

// nextID returns a creation-timestamp id unique within the store. s.mu must be held.
func (s *Store) nextID() int64 {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// uniqueName returns name, or name with the smallest free " (N)" suffix. s.mu must be held.
func (s *Store) uniqueName(name string) string {
	taken := make(map[string]struct{}, len(s.cols))
	for _, c := range s.cols {
		taken[c.Name] = struct{}{}
	}
	if _, ok := taken[name]; !ok {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// index returns the position of id in s.cols or -1. s.mu must be held.
func (s *Store) index(id int64) int {
	if id == 0 {
		return -1
	}
	return slices.IndexFunc(s.cols, func(c types.Collection) bool { return c.ID == id })
}

func (s *Store) persistCollections(ctx context.Context) {
	if s.db == nil {
		return
	}
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if err := s.db.SaveCollections(ctx, s.List()); err != nil {
		slog.WarnContext(ctx, "Failed to persist collections", "error", err)
	}
}

func (s *Store) persistSelected(ctx context.Context) {
	if s.db == nil {
		return
	}
	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.mu.RLock()
	id := s.selected
	s.mu.RUnlock()
	if err := s.db.SetSelected(ctx, id); err != nil {
		slog.WarnContext(ctx, "Failed to persist selected collection", "error", err)
	}
}

func (s *Store) persistCache(ctx context.Context) {
	if s.db == nil {
		return
	}
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if err := s.db.SaveCacheEntries(ctx, s.cache.snapshot()); err != nil {
		slog.WarnContext(ctx, "Failed to persist cached repositories", "error", err)
	}
}

func (s *Store) persistFavorites(ctx context.Context) {
	if s.db == nil {
		return
	}
	s.pmu.Lock()
	defer s.pmu.Unlock()
	s.mu.RLock()
	favs := make(map[int64][]types.Repository, len(s.favs))
	for id, repos := range s.favs {
		favs[id] = slices.Clone(repos)
	}
	s.mu.RUnlock()
	if err := s.db.SaveFavorites(ctx, favs); err != nil {
		slog.WarnContext(ctx, "Failed to persist favorites", "error", err)
	}
}

func validate(col types.Collection) error {
	if strings.TrimSpace(col.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(col.Topics) == 0 {
		return fmt.Errorf("%w: at least one topic is required", ErrValidation)
	}
	for i, t := range col.Topics {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: topic %d has no name", ErrValidation, i+1)
		}
	}
	return nil
}

func sameTopic(a, b types.Topic) bool {
	if a.Name != b.Name || (a.MinStars == nil) != (b.MinStars == nil) {
		return false
	}
	return a.MinStars == nil || *a.MinStars == *b.MinStars
}

// repartition moves repositories between the sides of e to match col's seen set.
func repartition(e *types.CacheEntry, col types.Collection) {
	all := make([]types.Repository, 0, len(e.Unseen)+len(e.Seen))
	all = append(all, e.Unseen...)
	all = append(all, e.Seen...)
	e.Unseen, e.Seen = []types.Repository{}, []types.Repository{}
	for _, r := range all {
		if col.HasSeen(r.ID) {
			e.Seen = append(e.Seen, r)
		} else {
			e.Unseen = append(e.Unseen, r)
		}
	}
	types.SortByStars(e.Unseen)
	types.SortByStars(e.Seen)
}

// keyedMutex hands out one mutex per collection id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock locks id and returns its unlock func.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
