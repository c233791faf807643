package store

import (
	"context"
	"strings"
	"time"
)

// AllSources is the source key for statistics aggregated across every subreddit.
const AllSources = "all"

// CanonicalSource lowercases a subreddit name and drops an "r/" prefix, so
// "r/Golang", "/r/golang" and "golang" share one key.
func CanonicalSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "r/")
	return strings.Trim(s, "/")
}

// Store is the main interface for persisting and querying harvested data.
//
// Post and session writes belong to the ingestion engine; word statistic and
// cursor writes belong to the analytics service. Implementations enforce
// (source, post id) uniqueness themselves.
type Store interface {
	Close() error

	// Posts
	KnownPostIDs(ctx context.Context, source string) (map[string]struct{}, error)
	InsertPosts(ctx context.Context, posts []Post) (int, error)
	RefreshPostCounters(ctx context.Context, posts []Post) (int, error)
	PostsAfter(ctx context.Context, source string, afterSeq int64, limit int) ([]Post, error)

	// Sessions
	CreateSession(ctx context.Context, s Session) error
	UpdateSession(ctx context.Context, s Session) error
	Sessions(ctx context.Context, source string, limit int) ([]Session, error)

	// Sources
	AddSource(ctx context.Context, source string) error
	Sources(ctx context.Context) ([]string, error)

	// Word statistics & cursors
	ApplyWordStats(ctx context.Context, batch WordStatBatch) error
	TopWords(ctx context.Context, source string, n int) ([]WordCount, error)
	GetWordStat(ctx context.Context, word, source string) (WordStat, bool, error)
	SearchWords(ctx context.Context, query, source string, limit int) ([]WordStat, error)
	WordTotals(ctx context.Context, source string) (Totals, error)
	GetCursor(ctx context.Context, source string) (Cursor, bool, error)

	// Maintenance
	Stats(ctx context.Context) (Stats, error)
	DeletePosts(ctx context.Context, f DeleteFilter) (DeleteResult, error)
	Reset(ctx context.Context) error
}

// Post is one scraped item.
type Post struct {
	Seq         int64 // assigned by the store, increases with insertion order
	ID          string
	Source      string
	Title       string
	Body        string
	Author      string
	URL         string
	Score       int
	NumComments int
	CreatedUTC  time.Time
	ScrapedAt   time.Time
}

// Text returns the analyzable text of the post.
func (p Post) Text() string {
	if p.Body == "" {
		return p.Title
	}
	return p.Title + "\n" + p.Body
}

// SessionStatus is the lifecycle state of a scrape session.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusSuccess SessionStatus = "success"
	StatusPartial SessionStatus = "partial"
	StatusFailed  SessionStatus = "failed"
)

// Session records one ingestion run for one source.
type Session struct {
	ID         string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	New        int
	Duplicates int
	Malformed  int
	Status     SessionStatus
	Stage      string
	Error      string
}

// WordStat holds cumulative statistics for one (word, source) key.
type WordStat struct {
	Word        string
	Source      string
	Count       int64
	ItemCount   int64
	Contexts    []string
	LastUpdated time.Time
}

// WordCount is a ranked (word, count) pair.
type WordCount struct {
	Word  string
	Count int64
}

// Totals summarizes the statistics stored for a source key.
type Totals struct {
	DistinctWords    int64
	TotalOccurrences int64
}

// Cursor marks the last post folded into a source key's statistics.
type Cursor struct {
	Source    string
	Seq       int64
	PostID    string
	UpdatedAt time.Time
}

// WordStatBatch is written atomically together with its cursor.
//
// When Replace is set every existing statistic for Source is discarded first;
// otherwise counts are added to existing rows and contexts are filled up to
// ContextLimit, keeping the earliest ones.
type WordStatBatch struct {
	Source       string
	Replace      bool
	Stats        []WordStat
	Cursor       Cursor
	ContextLimit int
}

// Stats summarizes the store contents.
type Stats struct {
	TotalPosts    int64
	PostsBySource map[string]int64
	TotalSessions int64
	OldestPost    time.Time
	NewestPost    time.Time
}

// DeleteFilter selects posts (and sessions) to remove. Zero fields match everything.
type DeleteFilter struct {
	Source    string
	OlderThan time.Time
}

// DeleteResult reports how many rows a DeletePosts call removed.
type DeleteResult struct {
	Posts    int64
	Sessions int64
}

// MergeContexts appends add to existing while below limit, skipping repeats.
func MergeContexts(existing, add []string, limit int) []string {
	out := make([]string, 0, min(limit, len(existing)+len(add)))
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, group := range [][]string{existing, add} {
		for _, c := range group {
			if len(out) >= limit {
				return out
			}
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
