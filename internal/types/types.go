package types

import (
	"slices"
	"time"
)

// DefaultMinStars is the star threshold used when neither a topic nor its collection sets one.
const DefaultMinStars = 500

// Topic is a search facet against the GitHub repository index.
type Topic struct {
	Name     string `json:"name"`
	MinStars *int   `json:"minStars,omitempty"`
}

// Collection is a user-named set of topics with per-user seen state.
type Collection struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	MinStars    int     `json:"minStars"`
	Topics      []Topic `json:"topics"`
	SeenRepoIDs []int64 `json:"seenRepos"`
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := c
	out.Topics = make([]Topic, len(c.Topics))
	for i, t := range c.Topics {
		out.Topics[i] = Topic{Name: t.Name}
		if t.MinStars != nil {
			v := *t.MinStars
			out.Topics[i].MinStars = &v
		}
	}
	if c.SeenRepoIDs != nil {
		out.SeenRepoIDs = slices.Clone(c.SeenRepoIDs)
	}
	return out
}

// HasSeen reports whether repoID was marked seen in this collection.
func (c Collection) HasSeen(repoID int64) bool {
	return slices.Contains(c.SeenRepoIDs, repoID)
}

// HasTopic reports whether a topic with exactly this name is present.
func (c Collection) HasTopic(name string) bool {
	for _, t := range c.Topics {
		if t.Name == name {
			return true
		}
	}
	return false
}

// EffectiveMinStars resolves the threshold for t: the topic override, then
// the collection default, then DefaultMinStars.
func (c Collection) EffectiveMinStars(t Topic) int {
	if t.MinStars != nil && *t.MinStars > 0 {
		return *t.MinStars
	}
	if c.MinStars > 0 {
		return c.MinStars
	}
	return DefaultMinStars
}

// Repository is a normalized GitHub repository record.
type Repository struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Stars       int      `json:"stars"`
	Topics      []string `json:"topics"`
	Image       string   `json:"image,omitempty"`
}

// CacheEntry is the last full aggregation result of a collection.
type CacheEntry struct {
	Unseen        []Repository `json:"repositories"`
	Seen          []Repository `json:"seenRepositories"`
	LastFetchedAt time.Time    `json:"lastFetched"`
}

// Clone returns a copy whose slices can be mutated independently.
func (e CacheEntry) Clone() CacheEntry {
	return CacheEntry{
		Unseen:        slices.Clone(e.Unseen),
		Seen:          slices.Clone(e.Seen),
		LastFetchedAt: e.LastFetchedAt,
	}
}

// Find returns the repository with the given id from either partition.
func (e CacheEntry) Find(repoID int64) (Repository, bool) {
	for _, list := range [][]Repository{e.Unseen, e.Seen} {
		for _, r := range list {
			if r.ID == repoID {
				return r, true
			}
		}
	}
	return Repository{}, false
}

// SortByStars sorts repos by stars descending, keeping encounter order for ties.
func SortByStars(repos []Repository) {
	slices.SortStableFunc(repos, func(a, b Repository) int { return b.Stars - a.Stars })
}
