package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Fixed width so that lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled. The pragmas go
// into the DSN so every pooled connection gets them.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// dsn appends connection pragmas to path. Transactions start IMMEDIATE so
// concurrent writers wait on busy_timeout instead of failing on lock upgrade.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS scraped_posts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	post_id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL DEFAULT 0,
	num_comments INTEGER NOT NULL DEFAULT 0,
	created_utc INTEGER NOT NULL,
	scraped_at TEXT NOT NULL,
	UNIQUE(source, post_id)
);

CREATE INDEX IF NOT EXISTS idx_scraped_posts_source_seq ON scraped_posts(source, seq);

CREATE TABLE IF NOT EXISTS scraping_sessions (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	fetched INTEGER NOT NULL DEFAULT 0,
	new_posts INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	malformed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scraping_sessions_source ON scraping_sessions(source, started_at);

CREATE TABLE IF NOT EXISTS scraped_subreddits (
	subreddit TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS word_frequencies (
	word TEXT NOT NULL,
	source TEXT NOT NULL,
	count INTEGER NOT NULL,
	distinct_item_count INTEGER NOT NULL,
	contexts TEXT NOT NULL DEFAULT '[]',
	last_updated TEXT NOT NULL,
	PRIMARY KEY(word, source)
);

CREATE INDEX IF NOT EXISTS idx_word_frequencies_rank ON word_frequencies(source, count DESC, word);

CREATE TABLE IF NOT EXISTS analysis_cursor (
	source TEXT PRIMARY KEY,
	last_seq INTEGER NOT NULL,
	last_post_id TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// KnownPostIDs returns the identifiers already stored for source.
func (s *sqliteStore) KnownPostIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT post_id FROM scraped_posts WHERE source = ?`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// InsertPosts inserts posts that are not stored yet, in one transaction.
func (s *sqliteStore) InsertPosts(ctx context.Context, posts []store.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO scraped_posts (source, post_id, title, body, author, url, score, num_comments, created_utc, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source, post_id) DO NOTHING;
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for _, p := range posts {
		res, err := stmt.ExecContext(
			ctx,
			p.Source,
			p.ID,
			p.Title,
			p.Body,
			p.Author,
			p.URL,
			p.Score,
			p.NumComments,
			p.CreatedUTC.Unix(),
			formatTime(p.ScrapedAt),
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// RefreshPostCounters updates score and comment counts of already stored posts.
func (s *sqliteStore) RefreshPostCounters(ctx context.Context, posts []store.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	updated := 0
	for _, p := range posts {
		res, err := tx.ExecContext(ctx, `
UPDATE scraped_posts SET score = ?, num_comments = ?
WHERE source = ? AND post_id = ?;
`, p.Score, p.NumComments, p.Source, p.ID)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

// PostsAfter returns posts stored after afterSeq, oldest first.
func (s *sqliteStore) PostsAfter(ctx context.Context, source string, afterSeq int64, limit int) ([]store.Post, error) {
	query := `
SELECT seq, source, post_id, title, body, author, url, score, num_comments, created_utc, scraped_at
FROM scraped_posts
WHERE seq > ?`
	args := []interface{}{afterSeq}
	if source != "" && source != store.AllSources {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []store.Post
	for rows.Next() {
		var (
			p         store.Post
			created   int64
			scrapedAt string
		)
		if err := rows.Scan(
			&p.Seq,
			&p.Source,
			&p.ID,
			&p.Title,
			&p.Body,
			&p.Author,
			&p.URL,
			&p.Score,
			&p.NumComments,
			&created,
			&scrapedAt,
		); err != nil {
			return nil, err
		}
		p.CreatedUTC = time.Unix(created, 0).UTC()
		p.ScrapedAt = parseTime(scrapedAt)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CreateSession inserts a new session record.
func (s *sqliteStore) CreateSession(ctx context.Context, sess store.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scraping_sessions (id, source, started_at, finished_at, fetched, new_posts, duplicates, malformed, status, stage, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		sess.ID,
		sess.Source,
		formatTime(sess.StartedAt),
		formatTime(sess.FinishedAt),
		sess.Fetched,
		sess.New,
		sess.Duplicates,
		sess.Malformed,
		string(sess.Status),
		sess.Stage,
		sess.Error,
	)
	return err
}

// UpdateSession overwrites the mutable columns of a session.
func (s *sqliteStore) UpdateSession(ctx context.Context, sess store.Session) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE scraping_sessions
SET finished_at = ?, fetched = ?, new_posts = ?, duplicates = ?, malformed = ?, status = ?, stage = ?, error = ?
WHERE id = ?;
`,
		formatTime(sess.FinishedAt),
		sess.Fetched,
		sess.New,
		sess.Duplicates,
		sess.Malformed,
		string(sess.Status),
		sess.Stage,
		sess.Error,
		sess.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, internalerr.ErrNotFound)
	}
	return nil
}

// Sessions lists sessions newest first, optionally for one source.
func (s *sqliteStore) Sessions(ctx context.Context, source string, limit int) ([]store.Session, error) {
	query := `
SELECT id, source, started_at, finished_at, fetched, new_posts, duplicates, malformed, status, stage, error
FROM scraping_sessions`
	var args []interface{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var (
			sess              store.Session
			started, finished string
			status            string
		)
		if err := rows.Scan(
			&sess.ID,
			&sess.Source,
			&started,
			&finished,
			&sess.Fetched,
			&sess.New,
			&sess.Duplicates,
			&sess.Malformed,
			&status,
			&sess.Stage,
			&sess.Error,
		); err != nil {
			return nil, err
		}
		sess.StartedAt = parseTime(started)
		sess.FinishedAt = parseTime(finished)
		sess.Status = store.SessionStatus(status)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AddSource records a source name if not present.
func (s *sqliteStore) AddSource(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scraped_subreddits (subreddit) VALUES (?)
ON CONFLICT(subreddit) DO NOTHING;
`, source)
	return err
}

// Sources lists every recorded source alphabetically.
func (s *sqliteStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subreddit FROM scraped_subreddits ORDER BY subreddit ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ApplyWordStats writes a batch of statistics and advances the cursor in one transaction.
func (s *sqliteStore) ApplyWordStats(ctx context.Context, batch store.WordStatBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if batch.Replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM word_frequencies WHERE source = ?`, batch.Source); err != nil {
			return err
		}
	}

	for _, st := range batch.Stats {
		if err := mergeWordStat(ctx, tx, batch.Source, st, batch.ContextLimit); err != nil {
			return fmt.Errorf("merge %q: %w", st.Word, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO analysis_cursor (source, last_seq, last_post_id, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
	last_seq=excluded.last_seq,
	last_post_id=excluded.last_post_id,
	updated_at=excluded.updated_at;
`, batch.Source, batch.Cursor.Seq, batch.Cursor.PostID, formatTime(batch.Cursor.UpdatedAt)); err != nil {
		return err
	}

	return tx.Commit()
}

func mergeWordStat(ctx context.Context, tx *sql.Tx, source string, st store.WordStat, contextLimit int) error {
	var (
		count, items int64
		rawContexts  string
	)
	err := tx.QueryRowContext(ctx, `
SELECT count, distinct_item_count, contexts FROM word_frequencies WHERE word = ? AND source = ?
`, st.Word, source).Scan(&count, &items, &rawContexts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var existing []string
	if rawContexts != "" {
		if err := json.Unmarshal([]byte(rawContexts), &existing); err != nil {
			return fmt.Errorf("decode contexts: %w", err)
		}
	}

	contexts, err := json.Marshal(store.MergeContexts(existing, st.Contexts, contextLimit))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO word_frequencies (word, source, count, distinct_item_count, contexts, last_updated)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(word, source) DO UPDATE SET
	count=excluded.count,
	distinct_item_count=excluded.distinct_item_count,
	contexts=excluded.contexts,
	last_updated=excluded.last_updated;
`, st.Word, source, count+st.Count, items+st.ItemCount, string(contexts), formatTime(st.LastUpdated))
	return err
}

// TopWords ranks words by count descending, then word ascending.
func (s *sqliteStore) TopWords(ctx context.Context, source string, n int) ([]store.WordCount, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT word, count FROM word_frequencies
WHERE source = ?
ORDER BY count DESC, word ASC
LIMIT ?;
`, source, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WordCount
	for rows.Next() {
		var wc store.WordCount
		if err := rows.Scan(&wc.Word, &wc.Count); err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}

// GetWordStat returns the statistic for one (word, source) key.
func (s *sqliteStore) GetWordStat(ctx context.Context, word, source string) (store.WordStat, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT word, source, count, distinct_item_count, contexts, last_updated
FROM word_frequencies WHERE word = ? AND source = ?
`, word, source)

	st, err := scanWordStat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WordStat{}, false, nil
	}
	if err != nil {
		return store.WordStat{}, false, err
	}
	return st, true, nil
}

// SearchWords returns statistics whose word contains query as a substring.
func (s *sqliteStore) SearchWords(ctx context.Context, query, source string, limit int) ([]store.WordStat, error) {
	q := `
SELECT word, source, count, distinct_item_count, contexts, last_updated
FROM word_frequencies
WHERE source = ? AND word LIKE ? ESCAPE '\'
ORDER BY count DESC, word ASC`
	args := []interface{}{source, "%" + escapeLike(strings.ToLower(query)) + "%"}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WordStat
	for rows.Next() {
		st, err := scanWordStat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// WordTotals counts distinct words and total occurrences for a source key.
func (s *sqliteStore) WordTotals(ctx context.Context, source string) (store.Totals, error) {
	var t store.Totals
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(count), 0) FROM word_frequencies WHERE source = ?
`, source).Scan(&t.DistinctWords, &t.TotalOccurrences)
	return t, err
}

// GetCursor returns the analysis cursor for a source key.
func (s *sqliteStore) GetCursor(ctx context.Context, source string) (store.Cursor, bool, error) {
	var (
		c       store.Cursor
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT source, last_seq, last_post_id, updated_at FROM analysis_cursor WHERE source = ?
`, source).Scan(&c.Source, &c.Seq, &c.PostID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Cursor{}, false, nil
	}
	if err != nil {
		return store.Cursor{}, false, err
	}
	c.UpdatedAt = parseTime(updated)
	return c, true, nil
}

// Stats summarizes stored posts and sessions.
func (s *sqliteStore) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{PostsBySource: make(map[string]int64)}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), MIN(created_utc), MAX(created_utc) FROM scraped_posts
`).Scan(&st.TotalPosts, &oldest, &newest); err != nil {
		return store.Stats{}, err
	}
	if oldest.Valid {
		st.OldestPost = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		st.NewestPost = time.Unix(newest.Int64, 0).UTC()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraping_sessions`).Scan(&st.TotalSessions); err != nil {
		return store.Stats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM scraped_posts GROUP BY source`)
	if err != nil {
		return store.Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src string
			n   int64
		)
		if err := rows.Scan(&src, &n); err != nil {
			return store.Stats{}, err
		}
		st.PostsBySource[src] = n
	}
	return st, rows.Err()
}

// DeletePosts removes posts and sessions matching the filter.
func (s *sqliteStore) DeletePosts(ctx context.Context, f store.DeleteFilter) (store.DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DeleteResult{}, err
	}
	defer tx.Rollback()

	var res store.DeleteResult

	postWhere, postArgs := deleteClause(f, "created_utc", f.OlderThan.Unix())
	r, err := tx.ExecContext(ctx, `DELETE FROM scraped_posts WHERE `+postWhere, postArgs...)
	if err != nil {
		return store.DeleteResult{}, err
	}
	if res.Posts, err = r.RowsAffected(); err != nil {
		return store.DeleteResult{}, err
	}

	sessWhere, sessArgs := deleteClause(f, "started_at", formatTime(f.OlderThan))
	r, err = tx.ExecContext(ctx, `DELETE FROM scraping_sessions WHERE `+sessWhere, sessArgs...)
	if err != nil {
		return store.DeleteResult{}, err
	}
	if res.Sessions, err = r.RowsAffected(); err != nil {
		return store.DeleteResult{}, err
	}

	return res, tx.Commit()
}

// Reset deletes every row of every table.
func (s *sqliteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"scraped_posts", "scraping_sessions", "scraped_subreddits", "word_frequencies", "analysis_cursor"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func deleteClause(f store.DeleteFilter, timeColumn string, cutoff interface{}) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if !f.OlderThan.IsZero() {
		conds = append(conds, timeColumn+" < ?")
		args = append(args, cutoff)
	}
	if len(conds) == 0 {
		return "1=1", nil
	}
	return strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWordStat(row scanner) (store.WordStat, error) {
	var (
		st          store.WordStat
		rawContexts string
		updated     string
	)
	if err := row.Scan(&st.Word, &st.Source, &st.Count, &st.ItemCount, &rawContexts, &updated); err != nil {
		return store.WordStat{}, err
	}
	if rawContexts != "" {
		if err := json.Unmarshal([]byte(rawContexts), &st.Contexts); err != nil {
			return store.WordStat{}, fmt.Errorf("decode contexts for %q: %w", st.Word, err)
		}
	}
	st.LastUpdated = parseTime(updated)
	return st, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
