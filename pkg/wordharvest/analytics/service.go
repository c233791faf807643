package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
	"github.com/cognicore/wordharvest/pkg/wordharvest/textnorm"
)

// DefaultPageSize is the number of posts read and committed per step.
const DefaultPageSize = 500

// Options configures a Service.
type Options struct {
	Store        store.Store
	Normalizer   *textnorm.Normalizer
	ContextLimit int
	PageSize     int
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Outcome reports what an analysis pass did for one source key. When the
// pass covered every source, PerSource holds one entry per key, "all" first.
type Outcome struct {
	Source         string
	ItemsProcessed int
	WordsTouched   int
	Cursor         int64
	PerSource      []Outcome
}

// Service turns stored posts into word statistics and answers queries on
// them. It is the only writer of statistics and analysis cursors.
type Service struct {
	store        store.Store
	norm         *textnorm.Normalizer
	contextLimit int
	pageSize     int
	logger       zerolog.Logger
	now          func() time.Time

	// serializes passes so each cursor has a single writer
	mu sync.Mutex
}

// NewService creates an analysis service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("analytics: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = textnorm.New(textnorm.DefaultConfig())
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = DefaultContextLimit
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:        opts.Store,
		norm:         opts.Normalizer,
		contextLimit: opts.ContextLimit,
		pageSize:     opts.PageSize,
		logger:       opts.Logger,
		now:          opts.Now,
	}, nil
}

// AnalyzeIncremental folds posts stored after the cursor of source into its
// statistics. An empty source or "all" covers the "all" key and every
// subreddit key, each with its own cursor.
//
// Statistics and cursor are committed together page by page, so a failure
// never leaves the cursor past posts that were not counted.
func (s *Service) AnalyzeIncremental(ctx context.Context, source string) (Outcome, error) {
	return s.analyze(ctx, source, false)
}

// AnalyzeFull discards the statistics of source and rebuilds them from every
// stored post.
func (s *Service) AnalyzeFull(ctx context.Context, source string) (Outcome, error) {
	return s.analyze(ctx, source, true)
}

func (s *Service) analyze(ctx context.Context, source string, full bool) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source = canonical(source)
	if source != store.AllSources {
		return s.analyzeKey(ctx, source, full)
	}

	keys, err := s.sourceKeys(ctx)
	if err != nil {
		return Outcome{Source: store.AllSources}, &internalerr.AnalysisReadError{Source: store.AllSources, Err: err}
	}

	total := Outcome{Source: store.AllSources}
	for _, k := range keys {
		out, err := s.analyzeKey(ctx, k, full)
		total.PerSource = append(total.PerSource, out)
		if k == store.AllSources {
			total.ItemsProcessed = out.ItemsProcessed
			total.WordsTouched = out.WordsTouched
			total.Cursor = out.Cursor
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// sourceKeys lists "all" followed by every subreddit that has posts or was
// ever scraped.
func (s *Service) sourceKeys(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	sources, err := s.store.Sources(ctx)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		set[src] = struct{}{}
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for src := range stats.PostsBySource {
		set[src] = struct{}{}
	}
	delete(set, store.AllSources)

	keys := make([]string, 0, len(set)+1)
	for src := range set {
		keys = append(keys, src)
	}
	sort.Strings(keys)
	return append([]string{store.AllSources}, keys...), nil
}

func (s *Service) analyzeKey(ctx context.Context, key string, full bool) (Outcome, error) {
	out := Outcome{Source: key}

	if !full {
		cur, ok, err := s.store.GetCursor(ctx, key)
		if err != nil {
			return out, &internalerr.AnalysisReadError{Source: key, Err: err}
		}
		if ok {
			out.Cursor = cur.Seq
		}
	}

	log := s.logger.With().Str("source", key).Bool("full", full).Logger()
	touched := make(map[string]struct{})
	replace := full

	for {
		page, err := s.store.PostsAfter(ctx, key, out.Cursor, s.pageSize)
		if err != nil {
			log.Error().Err(err).Int64("cursor", out.Cursor).Msg("read posts")
			return out, &internalerr.AnalysisReadError{Source: key, Cursor: out.Cursor, Err: err}
		}
		if len(page) == 0 && !replace {
			break
		}

		agg := NewAggregator(s.contextLimit)
		next := store.Cursor{Source: key, Seq: out.Cursor}
		for _, p := range page {
			text := p.Text()
			tokens := s.norm.Normalize(text)
			agg.Merge(key, p.ID, tokens, func(word string) string {
				return s.norm.Context(text, word)
			})
			next.Seq = p.Seq
			next.PostID = p.ID
		}

		now := s.now().UTC()
		next.UpdatedAt = now
		stats := agg.Snapshot(key, now)
		if err := s.store.ApplyWordStats(ctx, store.WordStatBatch{
			Source:       key,
			Replace:      replace,
			Stats:        stats,
			Cursor:       next,
			ContextLimit: s.contextLimit,
		}); err != nil {
			return out, fmt.Errorf("apply word stats for %s at %d: %w", key, next.Seq, err)
		}
		replace = false

		out.Cursor = next.Seq
		out.ItemsProcessed += len(page)
		for _, st := range stats {
			touched[st.Word] = struct{}{}
		}

		if len(page) < s.pageSize {
			break
		}
	}

	out.WordsTouched = len(touched)
	log.Info().
		Int("items", out.ItemsProcessed).
		Int("words", out.WordsTouched).
		Int64("cursor", out.Cursor).
		Msg("analysis pass finished")
	return out, nil
}

// Top returns the n most frequent words of source, ties broken
// alphabetically. n <= 0 yields an empty result.
func (s *Service) Top(ctx context.Context, n int, source string) ([]store.WordCount, error) {
	if n <= 0 {
		return []store.WordCount{}, nil
	}
	top, err := s.store.TopWords(ctx, canonical(source), n)
	if err != nil {
		return nil, fmt.Errorf("top words: %w", err)
	}
	if top == nil {
		top = []store.WordCount{}
	}
	return top, nil
}

// Search returns the statistics of every word of source containing query,
// ranked like Top.
func (s *Service) Search(ctx context.Context, query, source string) ([]store.WordStat, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, fmt.Errorf("empty search query: %w", internalerr.ErrInvalidInput)
	}
	found, err := s.store.SearchWords(ctx, query, canonical(source), 0)
	if err != nil {
		return nil, fmt.Errorf("search words: %w", err)
	}
	return found, nil
}

// WordDetail returns the full statistic of word in source, or an error
// wrapping internalerr.ErrNotFound.
func (s *Service) WordDetail(ctx context.Context, word, source string) (store.WordStat, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	source = canonical(source)
	st, ok, err := s.store.GetWordStat(ctx, word, source)
	if err != nil {
		return store.WordStat{}, fmt.Errorf("word stat: %w", err)
	}
	if !ok {
		return store.WordStat{}, fmt.Errorf("word %q in %s: %w", word, source, internalerr.ErrNotFound)
	}
	return st, nil
}

// Totals returns the distinct-word and occurrence totals of source.
func (s *Service) Totals(ctx context.Context, source string) (store.Totals, error) {
	t, err := s.store.WordTotals(ctx, canonical(source))
	if err != nil {
		return store.Totals{}, fmt.Errorf("word totals: %w", err)
	}
	return t, nil
}

// Cursor returns the analysis cursor of source; ok is false before the first pass.
func (s *Service) Cursor(ctx context.Context, source string) (store.Cursor, bool, error) {
	return s.store.GetCursor(ctx, canonical(source))
}

func canonical(source string) string {
	source = store.CanonicalSource(source)
	if source == "" {
		return store.AllSources
	}
	return source
}
