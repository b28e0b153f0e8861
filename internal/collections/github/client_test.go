package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const searchBody = `{
  "total_count": 3,
  "incomplete_results": false,
  "items": [
    {"id": 1, "name": "tokio", "owner": {"login": "tokio-rs", "avatar_url": "https://avatars/1"},
     "html_url": "https://github.com/tokio-rs/tokio", "description": "Async runtime",
     "stargazers_count": 25000, "topics": ["rust", "async"]},
    {"id": 2, "name": "serde", "owner": {"login": "serde-rs"},
     "html_url": "https://github.com/serde-rs/serde", "stargazers_count": 9000},
    {"id": 1, "name": "tokio", "owner": {"login": "tokio-rs"}, "stargazers_count": 25000}
  ]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return NewClient(
		WithHTTPClient(srv.Client()),
		WithBaseURL(u),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
}

func TestClient_SearchByTopic(t *testing.T) {
	var gotQuery, gotAuth, gotPerPage, gotSort string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/repositories" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotPerPage = r.URL.Query().Get("per_page")
		gotSort = r.URL.Query().Get("sort") + "/" + r.URL.Query().Get("order")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, searchBody)
	})

	repos, err := c.SearchByTopic(context.Background(), "rust", 1000, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "topic:rust stars:>=1000" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotPerPage != "100" || gotSort != "stars/desc" {
		t.Fatalf("unexpected paging %q %q", gotPerPage, gotSort)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer credential, got %q", gotAuth)
	}
	if len(repos) != 2 {
		t.Fatalf("expected duplicates dropped, got %d repos", len(repos))
	}
	r := repos[0]
	if r.ID != 1 || r.Owner != "tokio-rs" || r.Stars != 25000 || r.Image != "https://avatars/1" ||
		r.URL != "https://github.com/tokio-rs/tokio" || len(r.Topics) != 2 {
		t.Fatalf("unexpected normalization %+v", r)
	}
	if repos[1].Description != "" || repos[1].Topics == nil {
		t.Fatalf("expected defaulted description and topics, got %+v", repos[1])
	}
}

func TestClient_SearchByTopic_Classification(t *testing.T) {
	reset := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	tests := []struct {
		name       string
		credential string
		status     int
		headers    map[string]string
		body       string
		want       error
	}{
		{
			name:    "primary rate limit",
			status:  http.StatusForbidden,
			headers: map[string]string{"X-RateLimit-Limit": "60", "X-RateLimit-Remaining": "0", "X-RateLimit-Reset": reset},
			body:    `{"message":"API rate limit exceeded for 127.0.0.1."}`,
			want:    ErrRateLimited,
		},
		{
			name:       "too many requests",
			credential: "secret",
			status:     http.StatusTooManyRequests,
			body:       `{"message":"You have exceeded a secondary rate limit."}`,
			want:       ErrRateLimited,
		},
		{
			name:   "anonymous unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"message":"Requires authentication"}`,
			want:   ErrCredentialRecommended,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			repos, err := c.SearchByTopic(context.Background(), "go", 500, tt.credential)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if repos != nil {
				t.Fatalf("expected no repositories on failure, got %d", len(repos))
			}
		})
	}
}

func TestClient_SearchByTopic_GenericFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	})
	_, err := c.SearchByTopic(context.Background(), "go", 500, "secret")
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCredentialRecommended) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestClient_SearchByTopic_LowAnonymousQuota(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "10")
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, searchBody)
	}

	repos, err := newTestClient(t, handler).SearchByTopic(context.Background(), "go", 500, "")
	if !errors.Is(err, ErrCredentialRecommended) {
		t.Fatalf("expected advisory, got %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("expected repositories alongside the advisory, got %d", len(repos))
	}

	if _, err := newTestClient(t, handler).SearchByTopic(context.Background(), "go", 500, "secret"); err != nil {
		t.Fatalf("authenticated call should not be advised, got %v", err)
	}
}

func TestClient_SearchWithoutTopics(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"total_count":0,"items":[]}`)
	})
	if _, err := c.SearchWithoutTopics(context.Background(), 0, "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(gotQuery, "stars:>=10000") || !strings.Contains(gotQuery, "NOT topics:>=1") {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestClient_SearchByTopic_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchBody)
	})
	c.authL = rate.NewLimiter(rate.Every(time.Hour), 1)
	c.authL.Allow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.SearchByTopic(ctx, "go", 500, "secret"); err == nil {
		t.Fatalf("expected limiter wait to fail on cancelled context")
	}
}
