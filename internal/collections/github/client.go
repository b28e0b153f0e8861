package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"githubie.shikanime.studio/internal/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"k8s.io/utils/ptr"
)

// PerPage caps the number of repositories returned by one search call.
const PerPage = 100

// DefaultPopularMinStars is the threshold of SearchWithoutTopics.
const DefaultPopularMinStars = 10000

// lowQuota is the remaining anonymous search quota below which callers are
// advised to configure a credential.
const lowQuota = 2

var (
	// ErrRateLimited means GitHub refused the call for quota reasons. It is
	// terminal for the aggregation that issued it.
	ErrRateLimited = errors.New("GitHub API rate limit exceeded")
	// ErrCredentialRecommended is advisory: the call was anonymous and either
	// failed because of that or left the quota nearly exhausted.
	ErrCredentialRecommended = errors.New("consider adding a GitHub API key")
)

// NewGitHubLimiter returns a rate limiter tuned for the authenticated or
// unauthenticated GitHub search API.
func NewGitHubLimiter(authenticated bool) *rate.Limiter {
	if authenticated {
		slog.Info("Created authenticated GitHub rate limiter", "rate", "30 requests/min", "burst", 10)
		return rate.NewLimiter(rate.Every(2*time.Second), 10)
	}
	slog.Info("Created unauthenticated GitHub rate limiter", "rate", "10 requests/min", "burst", 3)
	return rate.NewLimiter(rate.Every(6*time.Second), 3)
}

// Client searches GitHub repositories by topic.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
	authL   *rate.Limiter
	anonL   *rate.Limiter
}

// GitHubClientOptions configures the GitHub client.
type GitHubClientOptions struct {
	httpClient *http.Client
	baseURL    *url.URL
	authL      *rate.Limiter
	anonL      *rate.Limiter
}

// GitHubClientOption applies a configuration to GitHubClientOptions.
type GitHubClientOption func(*GitHubClientOptions)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.httpClient = hc }
}

// WithBaseURL points the client at another API root, such as GitHub Enterprise.
func WithBaseURL(u *url.URL) GitHubClientOption {
	return func(o *GitHubClientOptions) { o.baseURL = u }
}

// WithLimiter sets the rate limiter used for both authenticated and anonymous calls.
func WithLimiter(l *rate.Limiter) GitHubClientOption {
	return func(o *GitHubClientOptions) {
		o.authL = l
		o.anonL = l
	}
}

// NewClient constructs a GitHub Client with the given options.
func NewClient(opts ...GitHubClientOption) *Client {
	var o GitHubClientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}
	if o.authL == nil {
		o.authL = NewGitHubLimiter(true)
	}
	if o.anonL == nil {
		o.anonL = NewGitHubLimiter(false)
	}
	return &Client{hc: o.httpClient, baseURL: o.baseURL, authL: o.authL, anonL: o.anonL}
}

func (c *Client) client(credential string) *github.Client {
	gc := github.NewClient(c.hc)
	if credential != "" {
		gc = gc.WithAuthToken(credential)
	}
	if c.baseURL != nil {
		u := *c.baseURL
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		gc.BaseURL = &u
	}
	return gc
}

// SearchByTopic returns up to PerPage repositories tagged with topic and at
// least minStars stars, most starred first.
//
// A nil error or ErrCredentialRecommended may come with repositories; any
// other error comes with none.
func (c *Client) SearchByTopic(
	ctx context.Context,
	topic string,
	minStars int,
	credential string,
) ([]types.Repository, error) {
	if minStars < 0 {
		minStars = 0
	}
	return c.search(ctx, "Client.SearchByTopic", fmt.Sprintf("topic:%s stars:>=%d", topic, minStars), credential)
}

// SearchWithoutTopics returns popular repositories that carry no topic at all.
func (c *Client) SearchWithoutTopics(
	ctx context.Context,
	minStars int,
	credential string,
) ([]types.Repository, error) {
	if minStars <= 0 {
		minStars = DefaultPopularMinStars
	}
	return c.search(ctx, "Client.SearchWithoutTopics", fmt.Sprintf("stars:>=%d NOT topics:>=1", minStars), credential)
}

func (c *Client) search(ctx context.Context, op, query, credential string) ([]types.Repository, error) {
	tracer := otel.Tracer("githubie/github")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("query", query),
		attribute.Bool("authenticated", credential != ""),
	)
	defer span.End()

	l := c.anonL
	if credential != "" {
		l = c.authL
	}
	if err := l.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	slog.DebugContext(ctx, "Searching GitHub repositories", "query", query)
	res, resp, err := c.client(credential).Search.Repositories(ctx, query, &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: PerPage},
	})
	if err != nil {
		err = classify(err, credential != "")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	repos := normalize(res.Repositories)
	span.SetAttributes(attribute.Int("repos_len", len(repos)))
	if credential == "" && resp != nil && resp.Rate.Limit > 0 && resp.Rate.Remaining <= lowQuota {
		slog.WarnContext(
			ctx,
			"Anonymous GitHub quota nearly exhausted",
			"remaining", resp.Rate.Remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Time,
		)
		return repos, ErrCredentialRecommended
	}
	return repos, nil
}

// classify maps a go-github failure onto ErrRateLimited or
// ErrCredentialRecommended, keeping the original error in the chain.
func classify(err error, authenticated bool) error {
	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		status := er.Response.StatusCode
		if (status == http.StatusForbidden || status == http.StatusTooManyRequests) &&
			strings.Contains(strings.ToLower(er.Message), "rate limit") {
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		if !authenticated && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
			return fmt.Errorf("%w: %w", ErrCredentialRecommended, err)
		}
	}
	return fmt.Errorf("GitHub API error: %w", err)
}

// normalize converts search results, dropping repeated ids.
func normalize(in []*github.Repository) []types.Repository {
	seen := make(map[int64]struct{}, len(in))
	out := make([]types.Repository, 0, len(in))
	for _, r := range in {
		if r == nil {
			continue
		}
		id := ptr.Deref(r.ID, 0)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		topics := r.Topics
		if topics == nil {
			topics = []string{}
		}
		out = append(out, types.Repository{
			ID:          id,
			Name:        ptr.Deref(r.Name, ""),
			Owner:       r.GetOwner().GetLogin(),
			Description: ptr.Deref(r.Description, ""),
			URL:         ptr.Deref(r.HTMLURL, ""),
			Stars:       ptr.Deref(r.StargazersCount, 0),
			Topics:      topics,
			Image:       r.GetOwner().GetAvatarURL(),
		})
	}
	return out
}
