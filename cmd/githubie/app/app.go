package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"githubie.shikanime.studio/internal/collections"
	"githubie.shikanime.studio/internal/config"
	"githubie.shikanime.studio/internal/encoding"
	"githubie.shikanime.studio/internal/types"
	"k8s.io/utils/ptr"
)

// Open builds the engine for cfg with notices reported through slog.
func Open(ctx context.Context, cfg *config.Config) (*collections.Collections, error) {
	return collections.NewForConfig(ctx, cfg, collections.WithNotifier(collections.NewLogNotifier(nil)))
}

// DraftFromFlags builds a new collection from command-line values. A nil
// minStars falls back to defaultMinStars.
func DraftFromFlags(name, rawTopics string, minStars *int, defaultMinStars int) (types.Collection, error) {
	ts, err := ParseTopics(rawTopics)
	if err != nil {
		return types.Collection{}, err
	}
	return types.Collection{Name: name, MinStars: ptr.Deref(minStars, defaultMinStars), Topics: ts}, nil
}

// ParseTopics parses comma-separated topics. A topic may carry its own
// threshold as name:stars.
func ParseTopics(s string) ([]types.Topic, error) {
	var topics []types.Topic
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, stars, ok := strings.Cut(part, ":")
		t := types.Topic{Name: strings.TrimSpace(name)}
		if ok {
			n, err := strconv.Atoi(strings.TrimSpace(stars))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid star threshold for topic %q: %q", t.Name, stars)
			}
			t.MinStars = ptr.To(n)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// FormatTopics is the inverse of ParseTopics.
func FormatTopics(topics []types.Topic) string {
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = t.Name
		if t.MinStars != nil {
			parts[i] += ":" + strconv.Itoa(*t.MinStars)
		}
	}
	return strings.Join(parts, ",")
}

// PrintCollections writes one line per collection, marking the selected one.
func PrintCollections(w io.Writer, cols []types.Collection, selected int64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tMIN STARS\tTOPICS\tSEEN")
	for _, c := range cols {
		mark := ""
		if c.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%d\n", mark, c.ID, c.Name, c.MinStars, FormatTopics(c.Topics), len(c.SeenRepoIDs))
	}
	return tw.Flush()
}

// PrintRepositories writes one line per repository with a plain-text
// description, marking favorites.
func PrintRepositories(w io.Writer, repos []types.Repository, favorites []types.Repository) error {
	fav := make(map[int64]struct{}, len(favorites))
	for _, r := range favorites {
		fav[r.ID] = struct{}{}
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tREPOSITORY\tSTARS\tDESCRIPTION")
	for _, r := range repos {
		mark := ""
		if _, ok := fav[r.ID]; ok {
			mark = "★"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s/%s\t%d\t%s\n", mark, r.ID, r.Owner, r.Name, r.Stars, Truncate(encoding.PlainText(r.Description), 80))
	}
	return tw.Flush()
}

// Truncate shortens s to at most n runes, ending with an ellipsis when cut.
func Truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(rs[:n-1]) + "…"
}
