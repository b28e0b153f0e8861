package collections

import (
	"context"
	"sync"
	"time"

	"githubie.shikanime.studio/internal/types"
)

type call struct {
	Topic      string
	MinStars   int
	Credential string
}

type topicResult struct {
	repos []types.Repository
	err   error
	// block makes the search wait until its context is done.
	block bool
}

type fakeGateway struct {
	mu      sync.Mutex
	results map[string]topicResult
	calls   []call
	started chan string
	release chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]topicResult)}
}

func (g *fakeGateway) set(topic string, r topicResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[topic] = r
}

func (g *fakeGateway) SearchByTopic(ctx context.Context, topic string, minStars int, credential string) ([]types.Repository, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call{Topic: topic, MinStars: minStars, Credential: credential})
	r := g.results[topic]
	started, release := g.started, g.release
	g.mu.Unlock()

	if started != nil {
		started <- topic
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return append([]types.Repository(nil), r.repos...), r.err
}

func (g *fakeGateway) Calls() []call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]call(nil), g.calls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []string
	notices  []Notice
}

func (n *recordingNotifier) Progress(_ context.Context, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, status)
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) Kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, len(n.notices))
	for i, x := range n.notices {
		out[i] = x.Kind
	}
	return out
}

func (n *recordingNotifier) count(kind NoticeKind) int {
	c := 0
	for _, k := range n.Kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func repo(id int64, stars int) types.Repository {
	return types.Repository{
		ID:     id,
		Name:   "repo",
		Owner:  "owner",
		URL:    "https://github.com/owner/repo",
		Stars:  stars,
		Topics: []string{},
	}
}

func ids(repos []types.Repository) []int64 {
	out := make([]int64, len(repos))
	for i, r := range repos {
		out[i] = r.ID
	}
	return out
}
