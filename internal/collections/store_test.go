package collections

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"githubie.shikanime.studio/internal/database"
	"githubie.shikanime.studio/internal/database/memory"
	"githubie.shikanime.studio/internal/encoding"
	"githubie.shikanime.studio/internal/types"
)

func newTestStore(t *testing.T) (*Store, *database.Database, *recordingNotifier, *fakeClock) {
	t.Helper()
	db := database.NewClient(memory.New())
	n := &recordingNotifier{}
	clock := newFakeClock()
	s, err := NewStore(context.Background(), db, NewCache(time.Hour), n, clock.Now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, db, n, clock
}

func draft(name string, topics ...string) types.Collection {
	col := types.Collection{Name: name, MinStars: 100}
	for _, tp := range topics {
		col.Topics = append(col.Topics, types.Topic{Name: tp})
	}
	return col
}

func TestStore_CreateValidation(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		draft types.Collection
	}{
		{name: "empty name", draft: draft("", "go")},
		{name: "blank name", draft: draft("   ", "go")},
		{name: "no topics", draft: draft("Go")},
		{name: "empty topic", draft: draft("Go", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tt.draft); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(s.List()) != 0 {
		t.Fatalf("rejected drafts must not be stored")
	}
}

func TestStore_CreateAssignsUniqueIDs(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	in := draft("Go", "go")
	in.SeenRepoIDs = []int64{42}
	a, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(ctx, draft("Rust", "rust"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == 0 || a.ID == b.ID {
		t.Fatalf("expected distinct non-zero ids, got %d and %d", a.ID, b.ID)
	}
	if len(a.SeenRepoIDs) != 0 {
		t.Fatalf("new collections start with an empty seen set, got %v", a.SeenRepoIDs)
	}
	if got := s.List(); len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("expected creation order, got %+v", got)
	}
}

func TestStore_PersistsAndReloads(t *testing.T) {
	s, db, _, clock := newTestStore(t)
	ctx := context.Background()

	col, _ := s.Create(ctx, draft("Go", "go"))
	s.Cache().Put(col.ID, types.CacheEntry{Unseen: []types.Repository{repo(1, 10)}, LastFetchedAt: clock.Now()})
	if _, err := s.ToggleFavorite(ctx, col.ID, 1); err != nil {
		t.Fatalf("ToggleFavorite: %v", err)
	}
	if err := s.MarkSeen(ctx, col.ID, 1); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	s.SetCredential(ctx, " tok ")

	reloaded, err := NewStore(ctx, db, NewCache(time.Hour), nil, clock.Now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, ok := reloaded.Get(col.ID)
	if !ok || !slices.Equal(got.SeenRepoIDs, []int64{1}) {
		t.Fatalf("unexpected reloaded collection: %+v", got)
	}
	entry, ok := reloaded.Cache().Get(col.ID)
	if !ok || len(entry.Unseen) != 0 || len(entry.Seen) != 1 {
		t.Fatalf("unexpected reloaded entry: %+v", entry)
	}
	if favs := reloaded.Favorites(col.ID); len(favs) != 1 {
		t.Fatalf("expected one favorite, got %v", favs)
	}
	if reloaded.Credential() != "tok" {
		t.Fatalf("expected trimmed credential, got %q", reloaded.Credential())
	}
	next, _ := reloaded.Create(ctx, draft("Rust", "rust"))
	if next.ID <= col.ID {
		t.Fatalf("ids must keep increasing across reloads: %d <= %d", next.ID, col.ID)
	}
}

func TestStore_UpdatePreservesSeen(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()

	col, _ := s.Create(ctx, draft("Go", "go"))
	s.Cache().Put(col.ID, types.CacheEntry{Unseen: []types.Repository{repo(1, 10), repo(2, 5)}, LastFetchedAt: clock.Now()})
	if err := s.MarkSeen(ctx, col.ID, 2); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	renamed := col.Clone()
	renamed.Name = "Golang"
	renamed.SeenRepoIDs = nil
	if err := s.Update(ctx, renamed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(col.ID)
	if got.Name != "Golang" || !slices.Equal(got.SeenRepoIDs, []int64{2}) {
		t.Fatalf("unexpected collection after rename: %+v", got)
	}
	if _, ok := s.Cache().Get(col.ID); !ok {
		t.Fatalf("rename must keep the cached result")
	}

	retopic := got.Clone()
	retopic.Topics = append(retopic.Topics, types.Topic{Name: "cli"})
	if err := s.Update(ctx, retopic); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := s.Cache().Get(col.ID); ok {
		t.Fatalf("changing topics must drop the cached result")
	}
}

func TestStore_UpdateReplacingSeenRepartitions(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()

	col, _ := s.Create(ctx, draft("Go", "go"))
	s.Cache().Put(col.ID, types.CacheEntry{Unseen: []types.Repository{repo(1, 10), repo(2, 5)}, LastFetchedAt: clock.Now()})

	next := col.Clone()
	next.SeenRepoIDs = []int64{1}
	if err := s.Update(ctx, next); err != nil {
		t.Fatalf("Update: %v", err)
	}
	entry, _ := s.Cache().Get(col.ID)
	if !slices.Equal(ids(entry.Unseen), []int64{2}) || !slices.Equal(ids(entry.Seen), []int64{1}) {
		t.Fatalf("unexpected partition: %+v", entry)
	}
}

func TestStore_UpdateUnknown(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	c := draft("Go", "go")
	c.ID = 99
	if err := s.Update(context.Background(), c); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteCascadesAndMovesSelection(t *testing.T) {
	s, db, _, clock := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, draft("A", "a"))
	b, _ := s.Create(ctx, draft("B", "b"))
	s.Cache().Put(b.ID, types.CacheEntry{Unseen: []types.Repository{repo(1, 10)}, LastFetchedAt: clock.Now()})
	if fav, _ := s.ToggleFavorite(ctx, b.ID, 1); !fav {
		t.Fatalf("expected repository to become a favorite")
	}
	if err := s.Select(ctx, b.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(b.ID); ok {
		t.Fatalf("collection still present")
	}
	if _, ok := s.Cache().Get(b.ID); ok {
		t.Fatalf("cache entry still present")
	}
	if len(s.Favorites(b.ID)) != 0 {
		t.Fatalf("favorites still present")
	}
	if sel, ok := s.Selected(); !ok || sel.ID != a.ID {
		t.Fatalf("expected selection to fall back to %d, got %+v", a.ID, sel)
	}
	if id, _ := db.GetSelected(ctx); id != a.ID {
		t.Fatalf("expected persisted selection %d, got %d", a.ID, id)
	}
	entries, _ := db.GetCacheEntries(ctx)
	if _, ok := entries[b.ID]; ok {
		t.Fatalf("persisted cache still holds deleted collection")
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Selected(); ok {
		t.Fatalf("expected no selection after deleting the last collection")
	}
	if err := s.Delete(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SelectionSurvivesReload(t *testing.T) {
	s, db, _, clock := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Create(ctx, draft("A", "a"))
	b, _ := s.Create(ctx, draft("B", "b"))
	if err := s.Select(ctx, b.ID); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.Select(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	reloaded, err := NewStore(ctx, db, NewCache(time.Hour), nil, clock.Now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if sel, ok := reloaded.Selected(); !ok || sel.ID != b.ID {
		t.Fatalf("expected selection %d after reload, got %+v", b.ID, sel)
	}

	// A stored id that no longer names a collection is ignored.
	if err := db.SetSelected(ctx, 42); err != nil {
		t.Fatalf("SetSelected: %v", err)
	}
	reloaded, err = NewStore(ctx, db, NewCache(time.Hour), nil, clock.Now)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := reloaded.Selected(); ok {
		t.Fatalf("expected unknown stored selection to be ignored")
	}
}

func TestStore_AddTopic(t *testing.T) {
	s, _, n, _ := newTestStore(t)
	ctx := context.Background()
	col, _ := s.Create(ctx, draft("Go", "go"))

	if err := s.AddTopic(ctx, col.ID, "cli"); err != nil {
		t.Fatalf("AddTopic: %v", err)
	}
	if err := s.AddTopic(ctx, col.ID, "cli"); !errors.Is(err, ErrTopicExists) {
		t.Fatalf("expected ErrTopicExists, got %v", err)
	}
	if err := s.AddTopic(ctx, col.ID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := s.Get(col.ID)
	if len(got.Topics) != 2 || got.Topics[1].Name != "cli" || got.Topics[1].MinStars != nil {
		t.Fatalf("unexpected topics: %+v", got.Topics)
	}
	if n.count(NoticeTopicExists) != 1 {
		t.Fatalf("expected one topic-exists notice, got %v", n.Kinds())
	}
}

func TestStore_MarkSeenIdempotent(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()
	col, _ := s.Create(ctx, draft("Go", "go"))
	s.Cache().Put(col.ID, types.CacheEntry{
		Unseen:        []types.Repository{repo(1, 30), repo(2, 20)},
		Seen:          []types.Repository{repo(3, 25)},
		LastFetchedAt: clock.Now(),
	})

	for range 2 {
		if err := s.MarkSeen(ctx, col.ID, 1); err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
	}
	got, _ := s.Get(col.ID)
	if !slices.Equal(got.SeenRepoIDs, []int64{1}) {
		t.Fatalf("seen set = %v, want [1]", got.SeenRepoIDs)
	}
	entry, _ := s.Cache().Get(col.ID)
	if !slices.Equal(ids(entry.Unseen), []int64{2}) || !slices.Equal(ids(entry.Seen), []int64{1, 3}) {
		t.Fatalf("unexpected partition: unseen=%v seen=%v", ids(entry.Unseen), ids(entry.Seen))
	}

	if err := s.MarkSeen(ctx, col.ID, 404); err != nil {
		t.Fatalf("unknown repository must be ignored, got %v", err)
	}
	if got, _ := s.Get(col.ID); len(got.SeenRepoIDs) != 1 {
		t.Fatalf("unknown repository must not be recorded: %v", got.SeenRepoIDs)
	}
}

func TestStore_ToggleFavorite(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()
	col, _ := s.Create(ctx, draft("Go", "go"))
	s.Cache().Put(col.ID, types.CacheEntry{
		Unseen:        []types.Repository{repo(1, 30)},
		Seen:          []types.Repository{repo(2, 20)},
		LastFetchedAt: clock.Now(),
	})

	for _, id := range []int64{2, 1} {
		fav, err := s.ToggleFavorite(ctx, col.ID, id)
		if err != nil || !fav {
			t.Fatalf("ToggleFavorite(%d) = %v, %v", id, fav, err)
		}
	}
	if got := ids(s.Favorites(col.ID)); !slices.Equal(got, []int64{2, 1}) {
		t.Fatalf("favorites = %v, want insertion order [2 1]", got)
	}
	if fav, _ := s.ToggleFavorite(ctx, col.ID, 2); fav {
		t.Fatalf("second toggle must remove")
	}
	if got := ids(s.Favorites(col.ID)); !slices.Equal(got, []int64{1}) {
		t.Fatalf("favorites = %v, want [1]", got)
	}
	if fav, err := s.ToggleFavorite(ctx, col.ID, 404); fav || err != nil {
		t.Fatalf("unknown repository must be a silent no-op, got %v %v", fav, err)
	}
}

func TestStore_ExportImport(t *testing.T) {
	s, _, n, _ := newTestStore(t)
	ctx := context.Background()
	col, _ := s.Create(ctx, draft("Go", "go", "cli"))
	s.Cache().Put(col.ID, types.CacheEntry{Unseen: []types.Repository{repo(1, 30)}, LastFetchedAt: time.Now()})
	_ = s.MarkSeen(ctx, col.ID, 1)

	share, err := s.Export(col.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	wantNames := []string{"Go (1)", "Go (2)"}
	for _, want := range wantNames {
		imported, err := s.Import(ctx, share)
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if imported.Name != want {
			t.Fatalf("imported name = %q, want %q", imported.Name, want)
		}
		if imported.ID == col.ID || len(imported.SeenRepoIDs) != 0 || len(imported.Topics) != 2 {
			t.Fatalf("unexpected imported collection: %+v", imported)
		}
	}

	if _, err := s.Import(ctx, "!!!"); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	var verr *encoding.ValidationError
	if _, err := s.Import(ctx, "e30="); !errors.As(err, &verr) {
		t.Fatalf("expected a ValidationError for {}, got %v", err)
	}
	if n.count(NoticeDecodeFailed) != 2 {
		t.Fatalf("expected two decode-failed notices, got %v", n.Kinds())
	}
	if len(s.List()) != 3 {
		t.Fatalf("failed imports must not add collections, got %d", len(s.List()))
	}
	if _, err := s.Export(12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MemoryOnly(t *testing.T) {
	s, err := NewStore(context.Background(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	col, err := s.Create(context.Background(), draft("Go", "go"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.SetCredential(context.Background(), "tok")
	if _, ok := s.Get(col.ID); !ok || s.Credential() != "tok" {
		t.Fatalf("memory-only store lost state")
	}
}

func TestStore_Seed(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(created) != len(DefaultCollections) || len(s.List()) != len(DefaultCollections) {
		t.Fatalf("expected %d seeded collections, got %d", len(DefaultCollections), len(created))
	}
	created[0].Topics[0].Name = "mutated"
	if DefaultCollections[0].Topics[0].Name == "mutated" {
		t.Fatalf("seeding must not alias the defaults")
	}
	again, err := s.Seed(ctx)
	if err != nil || len(again) != 0 || len(s.List()) != len(DefaultCollections) {
		t.Fatalf("seeding a non-empty store must do nothing, got %v %v", again, err)
	}
}
