package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/dedup"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

const (
	// DefaultLimit is the fetch size used when Run is given limit <= 0.
	DefaultLimit = 100
	// DefaultBatchSize is the number of posts written per store call.
	DefaultBatchSize = 25

	maxSessionErrorLength = 4000
)

// Stage is the last step a run reached.
type Stage string

const (
	StageStarted    Stage = "started"
	StageFetching   Stage = "fetching"
	StageFiltering  Stage = "filtering"
	StagePersisting Stage = "persisting"
	StageFinalized  Stage = "finalized"
)

// Fetcher retrieves the newest items of a source, newest first.
type Fetcher interface {
	FetchLatest(ctx context.Context, source string, limit int) ([]RawItem, error)
}

// Options configures an Engine.
type Options struct {
	Fetcher   Fetcher
	Store     store.Store
	Policy    dedup.Policy
	BatchSize int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Result summarizes one run.
type Result struct {
	SessionID  string
	Source     string
	Fetched    int
	New        int
	Duplicates int
	Malformed  int
	Refreshed  int
	Status     store.SessionStatus
	Stage      Stage

	MalformedItems []*internalerr.MalformedItemError
}

// Engine fetches items for a source, keeps the ones the store has not seen
// and records every run as a session.
//
// Runs for different sources may proceed concurrently. Callers must not run
// the same source twice at once.
type Engine struct {
	fetcher   Fetcher
	store     store.Store
	dedup     *dedup.Adapter
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates an ingestion engine.
func New(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("ingest: fetcher is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("ingest: store is required: %w", internalerr.ErrInvalidConfig)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		fetcher:   opts.Fetcher,
		store:     opts.Store,
		dedup:     dedup.New(opts.Store, opts.Policy),
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		now:       opts.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Run performs one ingestion for source with at most limit items.
//
// A fetch failure yields a failed session and a *internalerr.FetchError.
// A store failure while writing yields a *internalerr.PersistenceError and a
// partial session when some posts were already written, failed otherwise.
// Malformed items are dropped and tallied without failing the run.
func (e *Engine) Run(ctx context.Context, source string, limit int) (Result, error) {
	source = store.CanonicalSource(source)
	if source == "" || source == store.AllSources {
		return Result{}, fmt.Errorf("ingest source %q: %w", source, internalerr.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	startedAt := e.now().UTC()
	sess := store.Session{
		ID:        e.newID(startedAt),
		Source:    source,
		StartedAt: startedAt,
		Status:    store.StatusRunning,
		Stage:     string(StageStarted),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return Result{}, &internalerr.PersistenceError{Source: source, Stage: string(StageStarted), Err: err}
	}

	res := Result{SessionID: sess.ID, Source: source, Stage: StageStarted}
	log := e.logger.With().Str("source", source).Str("session_id", sess.ID).Logger()

	res.Stage = StageFetching
	raw, err := e.fetcher.FetchLatest(ctx, source, limit)
	if err != nil {
		var fe *internalerr.FetchError
		if !errors.As(err, &fe) {
			err = &internalerr.FetchError{Source: source, Err: err}
		}
		return e.finish(ctx, log, sess, res, store.StatusFailed, err)
	}
	res.Fetched = len(raw)

	res.Stage = StageFiltering
	posts, malformed := toPosts(source, raw, e.now())
	res.Malformed = len(malformed)
	res.MalformedItems = malformed
	for _, m := range malformed {
		log.Warn().Int("index", m.Index).Str("post_id", m.ID).Str("reason", m.Reason).Msg("skipping malformed item")
	}

	known, err := e.dedup.KnownIDs(ctx, source)
	if err != nil {
		return e.finish(ctx, log, sess, res, store.StatusFailed,
			&internalerr.PersistenceError{Source: source, Stage: string(StageFiltering), Err: err})
	}
	fresh, dups := dedup.Partition(posts, known)
	res.Duplicates = len(dups)

	res.Stage = StagePersisting
	for start := 0; start < len(fresh); start += e.batchSize {
		batch := fresh[start:min(start+e.batchSize, len(fresh))]
		n, err := e.dedup.InsertNew(ctx, batch)
		res.New += n
		if err != nil {
			return e.finish(ctx, log, sess, res, failureStatus(res),
				&internalerr.PersistenceError{Source: source, Stage: string(StagePersisting), Written: res.New, Err: err})
		}
		// Rows claimed by another writer since KnownIDs.
		res.Duplicates += len(batch) - n
	}

	refreshed, err := e.dedup.Refresh(ctx, dups)
	if err != nil {
		return e.finish(ctx, log, sess, res, failureStatus(res),
			&internalerr.PersistenceError{Source: source, Stage: string(StagePersisting), Written: res.New, Err: err})
	}
	res.Refreshed = refreshed

	if err := e.store.AddSource(ctx, source); err != nil {
		return e.finish(ctx, log, sess, res, failureStatus(res),
			&internalerr.PersistenceError{Source: source, Stage: string(StagePersisting), Written: res.New, Err: err})
	}

	return e.finish(ctx, log, sess, res, store.StatusSuccess, nil)
}

// finish records the final state of the session. The session is written even
// if ctx was cancelled.
func (e *Engine) finish(
	ctx context.Context,
	log zerolog.Logger,
	sess store.Session,
	res Result,
	status store.SessionStatus,
	runErr error,
) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	if status == store.StatusSuccess {
		res.Stage = StageFinalized
	}
	if status == store.StatusPartial {
		if err := e.store.AddSource(ctx, res.Source); err != nil {
			log.Warn().Err(err).Msg("record source after partial run")
		}
	}
	res.Status = status

	sess.FinishedAt = e.now().UTC()
	sess.Fetched = res.Fetched
	sess.New = res.New
	sess.Duplicates = res.Duplicates
	sess.Malformed = res.Malformed
	sess.Status = status
	sess.Stage = string(res.Stage)
	if runErr != nil {
		sess.Error = truncate(strings.TrimSpace(runErr.Error()), maxSessionErrorLength)
	}

	if markErr := e.store.UpdateSession(ctx, sess); markErr != nil {
		markErr = fmt.Errorf("finalize session %s: %w", sess.ID, markErr)
		if runErr == nil {
			runErr = &internalerr.PersistenceError{Source: res.Source, Stage: string(StageFinalized), Written: res.New, Err: markErr}
		} else {
			runErr = errors.Join(runErr, markErr)
		}
	}

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Str("status", string(status)).
		Str("stage", string(res.Stage)).
		Int("fetched", res.Fetched).
		Int("new", res.New).
		Int("duplicates", res.Duplicates).
		Int("malformed", res.Malformed).
		Int("refreshed", res.Refreshed).
		Msg("scrape finished")

	return res, runErr
}

func (e *Engine) newID(t time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), e.entropy).String()
}

func failureStatus(res Result) store.SessionStatus {
	if res.New > 0 {
		return store.StatusPartial
	}
	return store.StatusFailed
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
