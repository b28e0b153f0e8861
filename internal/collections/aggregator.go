package collections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"githubie.shikanime.studio/internal/collections/github"
	"githubie.shikanime.studio/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Gateway searches the remote repository index. Implementations classify
// failures with github.ErrRateLimited and github.ErrCredentialRecommended.
type Gateway interface {
	SearchByTopic(ctx context.Context, topic string, minStars int, credential string) ([]types.Repository, error)
}

// Result is the merged output of one aggregation run.
type Result struct {
	Unseen []types.Repository
	Seen   []types.Repository
	// Warnings holds the non-fatal, topic-scoped failures of the run.
	Warnings []error
}

// Aggregator merges the per-topic searches of a collection.
type Aggregator struct {
	gw Gateway
	n  Notifier
}

// NewAggregator constructs an Aggregator reporting progress to n.
func NewAggregator(gw Gateway, n Notifier) *Aggregator {
	if n == nil {
		n = NopNotifier{}
	}
	return &Aggregator{gw: gw, n: n}
}

// Aggregate queries every topic of col in order, one at a time, and returns
// the repositories deduplicated by id and partitioned by col's seen set, each
// side sorted by stars descending.
//
// A rate-limited topic aborts the run and nothing is returned; the caller
// must not commit anything. Other topic failures are reported and skipped.
func (a *Aggregator) Aggregate(ctx context.Context, col types.Collection, credential string) (*Result, error) {
	tracer := otel.Tracer("githubie/collections")
	ctx, span := tracer.Start(ctx, "Aggregator.Aggregate")
	span.SetAttributes(
		attribute.Int64("collection_id", col.ID),
		attribute.Int("topics_len", len(col.Topics)),
	)
	defer span.End()
	defer a.n.Progress(ctx, "")

	seenIDs := make(map[int64]struct{}, len(col.SeenRepoIDs))
	for _, id := range col.SeenRepoIDs {
		seenIDs[id] = struct{}{}
	}
	loaded := make(map[int64]struct{})
	res := &Result{Unseen: []types.Repository{}, Seen: []types.Repository{}}
	advised := false

	for i, topic := range col.Topics {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		minStars := col.EffectiveMinStars(topic)
		a.n.Progress(ctx, fmt.Sprintf("Loading %s (%d/%d)...", topic.Name, i+1, len(col.Topics)))

		repos, err := a.gw.SearchByTopic(ctx, topic.Name, minStars, credential)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.RecordError(ctxErr)
				span.SetStatus(codes.Error, ctxErr.Error())
				return nil, ctxErr
			}
			terr := &TopicError{Topic: topic.Name, Index: i, Err: err}
			switch {
			case errors.Is(err, github.ErrRateLimited):
				slog.WarnContext(
					ctx,
					"Rate limited; aborting aggregation",
					"collection_id", col.ID,
					"topic", topic.Name,
					"error", err,
				)
				a.n.Notify(ctx, Notice{
					Kind:        NoticeRateLimited,
					Title:       "Rate Limit Exceeded",
					Description: err.Error(),
					Blocking:    true,
				})
				span.RecordError(terr)
				span.SetStatus(codes.Error, terr.Error())
				return nil, terr
			case errors.Is(err, github.ErrCredentialRecommended):
				if !advised {
					a.n.Notify(ctx, Notice{
						Kind:        NoticeCredentialRecommended,
						Title:       "API Key Recommended",
						Description: "Adding a GitHub API key will provide better rate limits and reliability.",
					})
					advised = true
				}
			default:
				slog.WarnContext(
					ctx,
					"Failed to load repositories for topic",
					"collection_id", col.ID,
					"topic", topic.Name,
					"error", err,
				)
				a.n.Notify(ctx, Notice{
					Kind:        NoticeTopicFailed,
					Title:       "Error",
					Description: "Failed to load repositories for topic: " + topic.Name,
				})
			}
			res.Warnings = append(res.Warnings, terr)
		}

		for _, r := range repos {
			if _, dup := loaded[r.ID]; dup {
				continue
			}
			loaded[r.ID] = struct{}{}
			if _, seen := seenIDs[r.ID]; seen {
				res.Seen = append(res.Seen, r)
			} else {
				res.Unseen = append(res.Unseen, r)
			}
		}
		slog.DebugContext(
			ctx,
			"Loaded topic",
			"collection_id", col.ID,
			"topic", topic.Name,
			"min_stars", minStars,
			"repos", len(repos),
		)
	}

	types.SortByStars(res.Unseen)
	types.SortByStars(res.Seen)
	span.SetAttributes(
		attribute.Int("unseen_len", len(res.Unseen)),
		attribute.Int("seen_len", len(res.Seen)),
		attribute.Int("warnings_len", len(res.Warnings)),
	)
	return res, nil
}
