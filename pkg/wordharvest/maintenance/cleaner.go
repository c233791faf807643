package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/analytics"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Rebuilder recomputes statistics after posts were removed.
type Rebuilder interface {
	AnalyzeFull(ctx context.Context, source string) (analytics.Outcome, error)
}

// Cleaner prunes stored data and reports on it.
type Cleaner struct {
	Store    store.Store
	Analyzer Rebuilder // optional
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Request selects what Clean removes. An empty Source matches every source;
// OlderThanDays of 0 matches every age.
type Request struct {
	Source        string
	OlderThanDays int
}

// Result summarizes a clean.
type Result struct {
	PostsDeleted    int64
	SessionsDeleted int64
	Rebuilt         bool
}

// Stats returns post and session counts.
func (c *Cleaner) Stats(ctx context.Context) (store.Stats, error) {
	if c.Store == nil {
		return store.Stats{}, fmt.Errorf("cleaner: store is required: %w", internalerr.ErrInvalidConfig)
	}
	return c.Store.Stats(ctx)
}

// Clean deletes posts (by creation time) and sessions (by start time)
// matching req. When posts were removed and an Analyzer is set, statistics
// of every key are rebuilt so they no longer count the deleted posts.
func (c *Cleaner) Clean(ctx context.Context, req Request) (Result, error) {
	var res Result
	if c.Store == nil {
		return res, fmt.Errorf("cleaner: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if req.OlderThanDays < 0 {
		return res, fmt.Errorf("older than %d days: %w", req.OlderThanDays, internalerr.ErrInvalidInput)
	}

	filter := store.DeleteFilter{Source: store.CanonicalSource(req.Source)}
	if req.OlderThanDays > 0 {
		filter.OlderThan = c.now().UTC().AddDate(0, 0, -req.OlderThanDays)
	}

	deleted, err := c.Store.DeletePosts(ctx, filter)
	if err != nil {
		return res, fmt.Errorf("delete posts: %w", err)
	}
	res.PostsDeleted = deleted.Posts
	res.SessionsDeleted = deleted.Sessions

	c.Logger.Info().
		Str("source", filter.Source).
		Int("older_than_days", req.OlderThanDays).
		Int64("posts", res.PostsDeleted).
		Int64("sessions", res.SessionsDeleted).
		Msg("cleaned store")

	if res.PostsDeleted == 0 || c.Analyzer == nil {
		return res, nil
	}
	if _, err := c.Analyzer.AnalyzeFull(ctx, store.AllSources); err != nil {
		return res, fmt.Errorf("rebuild statistics: %w", err)
	}
	res.Rebuilt = true
	return res, nil
}

// Reset removes all posts, sessions, sources, statistics and cursors.
func (c *Cleaner) Reset(ctx context.Context) error {
	if c.Store == nil {
		return fmt.Errorf("cleaner: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if err := c.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	c.Logger.Warn().Msg("store reset")
	return nil
}

func (c *Cleaner) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
