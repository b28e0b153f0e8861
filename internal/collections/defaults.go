package collections

import (
	"context"
	"log/slog"

	"githubie.shikanime.studio/internal/types"
	"k8s.io/utils/ptr"
)

// DefaultCollections are starter collections offered to an empty store.
var DefaultCollections = []types.Collection{
	{
		Name:     "Go",
		MinStars: 1000,
		Topics:   []types.Topic{{Name: "go"}, {Name: "golang"}, {Name: "cli", MinStars: ptr.To(5000)}},
	},
	{
		Name:     "Elixir",
		MinStars: 500,
		Topics:   []types.Topic{{Name: "elixir"}, {Name: "phoenix"}},
	},
	{
		Name:     "JavaScript",
		MinStars: 5000,
		Topics:   []types.Topic{{Name: "javascript"}, {Name: "nodejs"}},
	},
	{
		Name:     "Go Storage",
		MinStars: 500,
		Topics:   []types.Topic{{Name: "storage"}, {Name: "database", MinStars: ptr.To(2000)}, {Name: "key-value"}},
	},
}

// Seed creates the default collections when none exist yet and returns the
// ones it created.
func (s *Store) Seed(ctx context.Context) ([]types.Collection, error) {
	if len(s.List()) > 0 {
		return nil, nil
	}
	created := make([]types.Collection, 0, len(DefaultCollections))
	for _, d := range DefaultCollections {
		col, err := s.Create(ctx, d)
		if err != nil {
			return created, err
		}
		created = append(created, col)
	}
	slog.InfoContext(ctx, "Seeded default collections", "count", len(created))
	return created, nil
}
