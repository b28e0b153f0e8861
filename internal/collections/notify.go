package collections

import (
	"context"
	"log/slog"
)

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeInfo                  NoticeKind = "info"
	NoticeRateLimited           NoticeKind = "rate-limited"
	NoticeCredentialRecommended NoticeKind = "credential-recommended"
	NoticeTopicFailed           NoticeKind = "topic-failed"
	NoticeTopicExists           NoticeKind = "topic-exists"
	NoticeDecodeFailed          NoticeKind = "decode-failed"
)

// Notice is a message for the user. Blocking notices need acknowledgement;
// the rest are advisory.
type Notice struct {
	Kind        NoticeKind
	Title       string
	Description string
	Blocking    bool
}

// Notifier receives progress updates and notices. It is constructed once by
// the host and shared by every component that reports to the user.
type Notifier interface {
	// Progress replaces the current progress line; an empty status clears it.
	Progress(ctx context.Context, status string)
	Notify(ctx context.Context, n Notice)
}

// LogNotifier reports through a slog.Logger.
type LogNotifier struct{ l *slog.Logger }

// NewLogNotifier returns a Notifier writing to l, or to slog.Default when l is nil.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{l: l}
}

func (n *LogNotifier) Progress(ctx context.Context, status string) {
	if status == "" {
		return
	}
	n.l.InfoContext(ctx, status)
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) {
	level := slog.LevelInfo
	switch {
	case notice.Blocking:
		level = slog.LevelError
	case notice.Kind != NoticeInfo:
		level = slog.LevelWarn
	}
	n.l.Log(ctx, level, notice.Title, "kind", notice.Kind, "description", notice.Description)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) Progress(context.Context, string) {}
func (NopNotifier) Notify(context.Context, Notice)   {}
