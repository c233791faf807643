// Package wordharvest ties ingestion, analysis, reporting and maintenance
// together behind one handle.
package wordharvest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/analytics"
	"github.com/cognicore/wordharvest/pkg/wordharvest/dedup"
	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/maintenance"
	"github.com/cognicore/wordharvest/pkg/wordharvest/report"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
	"github.com/cognicore/wordharvest/pkg/wordharvest/textnorm"
)

// Harvester is the main facade
type Harvester struct {
	store     store.Store
	engine    *ingest.Engine
	analytics *analytics.Service
	cleaner   *maintenance.Cleaner
}

// Options configures a Harvester. Fetcher may be nil for read-only use.
type Options struct {
	Store        store.Store
	Fetcher      ingest.Fetcher
	Normalizer   textnorm.Config
	Policy       dedup.Policy
	BatchSize    int
	ContextLimit int
	Logger       zerolog.Logger
	Now          func() time.Time
}

// New creates a Harvester with the given dependencies
func New(opts Options) (*Harvester, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("wordharvest: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	svc, err := analytics.NewService(analytics.Options{
		Store:        opts.Store,
		Normalizer:   textnorm.New(opts.Normalizer),
		ContextLimit: opts.ContextLimit,
		Logger:       opts.Logger.With().Str("component", "analytics").Logger(),
		Now:          opts.Now,
	})
	if err != nil {
		return nil, err
	}

	h := &Harvester{
		store:     opts.Store,
		analytics: svc,
		cleaner: &maintenance.Cleaner{
			Store:    opts.Store,
			Analyzer: svc,
			Logger:   opts.Logger.With().Str("component", "maintenance").Logger(),
			Now:      opts.Now,
		},
	}

	if opts.Fetcher != nil {
		h.engine, err = ingest.New(ingest.Options{
			Fetcher:   opts.Fetcher,
			Store:     opts.Store,
			Policy:    opts.Policy,
			BatchSize: opts.BatchSize,
			Logger:    opts.Logger.With().Str("component", "ingest").Logger(),
			Now:       opts.Now,
		})
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Close cleanly shuts down the Harvester
func (h *Harvester) Close() error {
	return h.store.Close()
}

// Scrape runs one ingestion for source.
func (h *Harvester) Scrape(ctx context.Context, source string, limit int) (ingest.Result, error) {
	if h.engine == nil {
		return ingest.Result{}, fmt.Errorf("scrape: no fetcher configured: %w", internalerr.ErrInvalidConfig)
	}
	return h.engine.Run(ctx, source, limit)
}

// Analyze updates statistics for source ("" or "all" for every key).
// full discards existing statistics first.
func (h *Harvester) Analyze(ctx context.Context, source string, full bool) (analytics.Outcome, error) {
	if full {
		return h.analytics.AnalyzeFull(ctx, source)
	}
	return h.analytics.AnalyzeIncremental(ctx, source)
}

// Top returns the ranked top-n words of source.
func (h *Harvester) Top(ctx context.Context, n int, source string) (report.Ranking, error) {
	top, err := h.analytics.Top(ctx, n, source)
	if err != nil {
		return report.Ranking{}, err
	}
	totals, err := h.analytics.Totals(ctx, source)
	if err != nil {
		return report.Ranking{}, err
	}
	return report.Compose(sourceKey(source), top, totals), nil
}

// Word returns the detail view of word in source.
func (h *Harvester) Word(ctx context.Context, word, source string) (report.WordDetail, error) {
	st, err := h.analytics.WordDetail(ctx, word, source)
	if err != nil {
		return report.WordDetail{}, err
	}
	return report.Detail(st), nil
}

// Search returns every word of source containing query.
func (h *Harvester) Search(ctx context.Context, query, source string) ([]report.WordDetail, error) {
	found, err := h.analytics.Search(ctx, query, source)
	if err != nil {
		return nil, err
	}
	return report.Matches(found), nil
}

// Sources lists every subreddit scraped so far.
func (h *Harvester) Sources(ctx context.Context) ([]string, error) {
	return h.store.Sources(ctx)
}

// Sessions lists scrape sessions newest first; source "" lists all.
func (h *Harvester) Sessions(ctx context.Context, source string, limit int) ([]store.Session, error) {
	return h.store.Sessions(ctx, store.CanonicalSource(source), limit)
}

// Stats summarizes stored posts and sessions.
func (h *Harvester) Stats(ctx context.Context) (store.Stats, error) {
	return h.cleaner.Stats(ctx)
}

// Clean removes posts and sessions and rebuilds the statistics.
func (h *Harvester) Clean(ctx context.Context, req maintenance.Request) (maintenance.Result, error) {
	return h.cleaner.Clean(ctx, req)
}

// Reset removes all stored data.
func (h *Harvester) Reset(ctx context.Context) error {
	return h.cleaner.Reset(ctx)
}

func sourceKey(source string) string {
	source = store.CanonicalSource(source)
	if source == "" {
		return store.AllSources
	}
	return source
}
