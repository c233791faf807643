package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu       sync.RWMutex
	nextSeq  int64
	posts    []store.Post
	postKeys map[postKey]int // index into posts
	sessions []store.Session
	sources  map[string]struct{}
	words    map[wordKey]store.WordStat
	cursors  map[string]store.Cursor

	// FailInsertAfter makes InsertPosts fail once this many posts have been
	// written in total. Zero disables the failure.
	FailInsertAfter int
	// FailReads makes PostsAfter fail.
	FailReads bool
}

type postKey struct {
	source string
	id     string
}

type wordKey struct {
	word   string
	source string
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		postKeys: make(map[postKey]int),
		sources:  make(map[string]struct{}),
		words:    make(map[wordKey]store.WordStat),
		cursors:  make(map[string]store.Cursor),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// KnownPostIDs returns the identifiers stored for source.
func (s *Store) KnownPostIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{})
	for k := range s.postKeys {
		if k.source == source {
			ids[k.id] = struct{}{}
		}
	}
	return ids, nil
}

// InsertPosts stores posts whose (source, id) is not present yet.
func (s *Store) InsertPosts(ctx context.Context, posts []store.Post) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, p := range posts {
		k := postKey{source: p.Source, id: p.ID}
		if _, ok := s.postKeys[k]; ok {
			continue
		}
		if s.FailInsertAfter > 0 && s.nextSeq >= int64(s.FailInsertAfter) {
			return written, internalerr.ErrStoreUnavailable
		}
		s.nextSeq++
		p.Seq = s.nextSeq
		s.postKeys[k] = len(s.posts)
		s.posts = append(s.posts, p)
		written++
	}
	return written, nil
}

// RefreshPostCounters updates score and comment counts of stored posts.
func (s *Store) RefreshPostCounters(ctx context.Context, posts []store.Post) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, p := range posts {
		idx, ok := s.postKeys[postKey{source: p.Source, id: p.ID}]
		if !ok {
			continue
		}
		s.posts[idx].Score = p.Score
		s.posts[idx].NumComments = p.NumComments
		updated++
	}
	return updated, nil
}

// PostsAfter returns posts with Seq > afterSeq in insertion order.
func (s *Store) PostsAfter(ctx context.Context, source string, afterSeq int64, limit int) ([]store.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailReads {
		return nil, internalerr.ErrStoreUnavailable
	}

	var out []store.Post
	for _, p := range s.posts {
		if p.Seq <= afterSeq {
			continue
		}
		if !matchesSource(p.Source, source) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateSession appends a session record.
func (s *Store) CreateSession(ctx context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append(s.sessions, sess)
	return nil
}

// UpdateSession replaces the session with the same ID.
func (s *Store) UpdateSession(ctx context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].ID == sess.ID {
			s.sessions[i] = sess
			return nil
		}
	}
	return internalerr.ErrNotFound
}

// Sessions lists sessions newest first.
func (s *Store) Sessions(ctx context.Context, source string, limit int) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Session
	for i := len(s.sessions) - 1; i >= 0; i-- {
		sess := s.sessions[i]
		if source != "" && sess.Source != source {
			continue
		}
		out = append(out, sess)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AddSource records a source name.
func (s *Store) AddSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[source] = struct{}{}
	return nil
}

// Sources lists recorded source names alphabetically.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sources))
	for src := range s.sources {
		out = append(out, src)
	}
	sort.Strings(out)
	return out, nil
}

// ApplyWordStats writes a batch of statistics and its cursor.
func (s *Store) ApplyWordStats(ctx context.Context, batch store.WordStatBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.Replace {
		for k := range s.words {
			if k.source == batch.Source {
				delete(s.words, k)
			}
		}
	}

	for _, st := range batch.Stats {
		k := wordKey{word: st.Word, source: batch.Source}
		existing, ok := s.words[k]
		if !ok {
			st.Source = batch.Source
			st.Contexts = store.MergeContexts(nil, st.Contexts, batch.ContextLimit)
			s.words[k] = st
			continue
		}
		existing.Count += st.Count
		existing.ItemCount += st.ItemCount
		existing.Contexts = store.MergeContexts(existing.Contexts, st.Contexts, batch.ContextLimit)
		existing.LastUpdated = st.LastUpdated
		s.words[k] = existing
	}

	c := batch.Cursor
	c.Source = batch.Source
	s.cursors[batch.Source] = c
	return nil
}

// TopWords ranks words by count, ties broken alphabetically.
func (s *Store) TopWords(ctx context.Context, source string, n int) ([]store.WordCount, error) {
	if n <= 0 {
		return nil, nil
	}
	stats := s.collect(source, "")
	if len(stats) > n {
		stats = stats[:n]
	}
	out := make([]store.WordCount, len(stats))
	for i, st := range stats {
		out[i] = store.WordCount{Word: st.Word, Count: st.Count}
	}
	return out, nil
}

// GetWordStat returns a single statistic.
func (s *Store) GetWordStat(ctx context.Context, word, source string) (store.WordStat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.words[wordKey{word: word, source: source}]
	if !ok {
		return store.WordStat{}, false, nil
	}
	return copyStat(st), true, nil
}

// SearchWords returns statistics whose word contains query.
func (s *Store) SearchWords(ctx context.Context, query, source string, limit int) ([]store.WordStat, error) {
	stats := s.collect(source, strings.ToLower(query))
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// WordTotals sums the statistics of a source key.
func (s *Store) WordTotals(ctx context.Context, source string) (store.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t store.Totals
	for k, st := range s.words {
		if k.source != source {
			continue
		}
		t.DistinctWords++
		t.TotalOccurrences += st.Count
	}
	return t, nil
}

// GetCursor returns the analysis cursor of a source key.
func (s *Store) GetCursor(ctx context.Context, source string) (store.Cursor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[source]
	return c, ok, nil
}

// Stats summarizes stored posts and sessions.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := store.Stats{
		TotalPosts:    int64(len(s.posts)),
		PostsBySource: make(map[string]int64),
		TotalSessions: int64(len(s.sessions)),
	}
	for _, p := range s.posts {
		st.PostsBySource[p.Source]++
		if st.OldestPost.IsZero() || p.CreatedUTC.Before(st.OldestPost) {
			st.OldestPost = p.CreatedUTC
		}
		if p.CreatedUTC.After(st.NewestPost) {
			st.NewestPost = p.CreatedUTC
		}
	}
	return st, nil
}

// DeletePosts removes posts and sessions matching the filter.
func (s *Store) DeletePosts(ctx context.Context, f store.DeleteFilter) (store.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.DeleteResult
	kept := s.posts[:0]
	for _, p := range s.posts {
		if matchesFilter(p.Source, p.CreatedUTC, f) {
			res.Posts++
			continue
		}
		kept = append(kept, p)
	}
	s.posts = kept
	s.postKeys = make(map[postKey]int, len(s.posts))
	for i, p := range s.posts {
		s.postKeys[postKey{source: p.Source, id: p.ID}] = i
	}

	keptSessions := s.sessions[:0]
	for _, sess := range s.sessions {
		if matchesFilter(sess.Source, sess.StartedAt, f) {
			res.Sessions++
			continue
		}
		keptSessions = append(keptSessions, sess)
	}
	s.sessions = keptSessions
	return res, nil
}

// Reset drops all data.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq = 0
	s.posts = nil
	s.postKeys = make(map[postKey]int)
	s.sessions = nil
	s.sources = make(map[string]struct{})
	s.words = make(map[wordKey]store.WordStat)
	s.cursors = make(map[string]store.Cursor)
	return nil
}

func (s *Store) collect(source, contains string) []store.WordStat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.WordStat
	for k, st := range s.words {
		if k.source != source {
			continue
		}
		if contains != "" && !strings.Contains(k.word, contains) {
			continue
		}
		out = append(out, copyStat(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	return out
}

func matchesSource(postSource, source string) bool {
	return source == "" || source == store.AllSources || postSource == source
}

func matchesFilter(source string, ts time.Time, f store.DeleteFilter) bool {
	if f.Source != "" && source != f.Source {
		return false
	}
	if !f.OlderThan.IsZero() && !ts.Before(f.OlderThan) {
		return false
	}
	return true
}

func copyStat(st store.WordStat) store.WordStat {
	st.Contexts = append([]string(nil), st.Contexts...)
	return st
}
