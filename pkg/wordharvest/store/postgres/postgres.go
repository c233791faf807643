package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Options configures the connection pool.
type Options struct {
	DSN      string
	MaxConns int
	MinConns int
	LogLevel string
}

// pgStore implements store.Store on PostgreSQL through gorm.
type pgStore struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

// Open connects to PostgreSQL, verifies the connection and migrates the schema.
func Open(ctx context.Context, opts Options) (store.Store, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("postgres: dsn is required: %w", internalerr.ErrInvalidConfig)
	}

	gdb, err := gorm.Open(pgdriver.Open(opts.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(opts.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := opts.MaxConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(opts.MinConns, maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w: %w", internalerr.ErrStoreUnavailable, err)
	}

	if err := gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}

	return &pgStore{gdb: gdb, sqlDB: sqlDB}, nil
}

func (s *pgStore) Close() error {
	return s.sqlDB.Close()
}

func (s *pgStore) KnownPostIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	var ids []string
	if err := s.gdb.WithContext(ctx).Model(&postRow{}).Where("source = ?", source).Pluck("post_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// InsertPosts inserts new posts in one transaction. The table lock keeps
// concurrent writers serialized so seq order matches commit order.
func (s *pgStore) InsertPosts(ctx context.Context, posts []store.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	rows := make([]postRow, len(posts))
	for i, p := range posts {
		rows[i] = postRow{
			Source:      p.Source,
			PostID:      p.ID,
			Title:       p.Title,
			Body:        p.Body,
			Author:      p.Author,
			URL:         p.URL,
			Score:       p.Score,
			NumComments: p.NumComments,
			CreatedUTC:  p.CreatedUTC.UTC(),
			ScrapedAt:   p.ScrapedAt.UTC(),
		}
	}

	var written int64
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("LOCK TABLE scraped_posts IN SHARE ROW EXCLUSIVE MODE").Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "post_id"}},
			DoNothing: true,
		}).Omit("seq").Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		written = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(written), nil
}

func (s *pgStore) RefreshPostCounters(ctx context.Context, posts []store.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}

	var updated int64
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range posts {
			res := tx.Model(&postRow{}).
				Where("source = ? AND post_id = ?", p.Source, p.ID).
				Updates(map[string]any{"score": p.Score, "num_comments": p.NumComments})
			if res.Error != nil {
				return res.Error
			}
			updated += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(updated), nil
}

func (s *pgStore) PostsAfter(ctx context.Context, source string, afterSeq int64, limit int) ([]store.Post, error) {
	q := s.gdb.WithContext(ctx).Where("seq > ?", afterSeq)
	if source != "" && source != store.AllSources {
		q = q.Where("source = ?", source)
	}
	q = q.Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []postRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	posts := make([]store.Post, len(rows))
	for i, r := range rows {
		posts[i] = store.Post{
			Seq:         r.Seq,
			ID:          r.PostID,
			Source:      r.Source,
			Title:       r.Title,
			Body:        r.Body,
			Author:      r.Author,
			URL:         r.URL,
			Score:       r.Score,
			NumComments: r.NumComments,
			CreatedUTC:  r.CreatedUTC.UTC(),
			ScrapedAt:   r.ScrapedAt.UTC(),
		}
	}
	return posts, nil
}

func (s *pgStore) CreateSession(ctx context.Context, sess store.Session) error {
	row := sessionRowFrom(sess)
	return s.gdb.WithContext(ctx).Create(&row).Error
}

func (s *pgStore) UpdateSession(ctx context.Context, sess store.Session) error {
	row := sessionRowFrom(sess)
	res := s.gdb.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sess.ID).Updates(map[string]any{
		"finished_at": row.FinishedAt,
		"fetched":     row.Fetched,
		"new_posts":   row.NewPosts,
		"duplicates":  row.Duplicates,
		"malformed":   row.Malformed,
		"status":      row.Status,
		"stage":       row.Stage,
		"error":       row.Error,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, internalerr.ErrNotFound)
	}
	return nil
}

func (s *pgStore) Sessions(ctx context.Context, source string, limit int) ([]store.Session, error) {
	q := s.gdb.WithContext(ctx).Model(&sessionRow{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	q = q.Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Session, len(rows))
	for i, r := range rows {
		out[i] = r.toSession()
	}
	return out, nil
}

func (s *pgStore) AddSource(ctx context.Context, source string) error {
	return s.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sourceRow{Subreddit: source}).Error
}

func (s *pgStore) Sources(ctx context.Context) ([]string, error) {
	var out []string
	err := s.gdb.WithContext(ctx).Model(&sourceRow{}).Order("subreddit ASC").Pluck("subreddit", &out).Error
	return out, err
}

// ApplyWordStats writes statistics and the cursor in one transaction. Rows
// being merged are locked so a concurrent writer cannot lose an increment.
func (s *pgStore) ApplyWordStats(ctx context.Context, batch store.WordStatBatch) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if batch.Replace {
			if err := tx.Where("source = ?", batch.Source).Delete(&wordRow{}).Error; err != nil {
				return err
			}
		}

		for _, st := range batch.Stats {
			if err := mergeWordStat(tx, batch.Source, st, batch.ContextLimit); err != nil {
				return fmt.Errorf("merge %q: %w", st.Word, err)
			}
		}

		cur := cursorRow{
			Source:     batch.Source,
			LastSeq:    batch.Cursor.Seq,
			LastPostID: batch.Cursor.PostID,
			AdvancedAt: batch.Cursor.UpdatedAt.UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_seq", "last_post_id", "updated_at"}),
		}).Create(&cur).Error
	})
}

func mergeWordStat(tx *gorm.DB, source string, st store.WordStat, contextLimit int) error {
	var existing wordRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("word = ? AND source = ?", st.Word, source).
		Take(&existing).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var contexts []string
	if found && len(existing.Contexts) > 0 {
		if err := json.Unmarshal(existing.Contexts, &contexts); err != nil {
			return fmt.Errorf("decode contexts: %w", err)
		}
	}
	raw, err := json.Marshal(store.MergeContexts(contexts, st.Contexts, contextLimit))
	if err != nil {
		return err
	}

	row := wordRow{
		Word:              st.Word,
		Source:            source,
		Count:             existing.Count + st.Count,
		DistinctItemCount: existing.DistinctItemCount + st.ItemCount,
		Contexts:          raw,
		LastUpdated:       st.LastUpdated.UTC(),
	}
	if found {
		return tx.Model(&wordRow{}).
			Where("word = ? AND source = ?", st.Word, source).
			Updates(map[string]any{
				"count":               row.Count,
				"distinct_item_count": row.DistinctItemCount,
				"contexts":            row.Contexts,
				"last_updated":        row.LastUpdated,
			}).Error
	}
	return tx.Create(&row).Error
}

// wordOrder ranks by count and breaks ties by byte order, independent of the
// database collation.
const wordOrder = `count DESC, word COLLATE "C" ASC`

func (s *pgStore) TopWords(ctx context.Context, source string, n int) ([]store.WordCount, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []store.WordCount
	err := s.gdb.WithContext(ctx).Model(&wordRow{}).
		Select("word, count").
		Where("source = ?", source).
		Order(wordOrder).
		Limit(n).
		Scan(&out).Error
	return out, err
}

func (s *pgStore) GetWordStat(ctx context.Context, word, source string) (store.WordStat, bool, error) {
	var row wordRow
	err := s.gdb.WithContext(ctx).Where("word = ? AND source = ?", word, source).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.WordStat{}, false, nil
	}
	if err != nil {
		return store.WordStat{}, false, err
	}
	st, err := row.toWordStat()
	if err != nil {
		return store.WordStat{}, false, err
	}
	return st, true, nil
}

func (s *pgStore) SearchWords(ctx context.Context, query, source string, limit int) ([]store.WordStat, error) {
	q := s.gdb.WithContext(ctx).
		Where(`source = ? AND word LIKE ? ESCAPE '\'`, source, "%"+escapeLike(strings.ToLower(query))+"%").
		Order(wordOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []wordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.WordStat, 0, len(rows))
	for _, r := range rows {
		st, err := r.toWordStat()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *pgStore) WordTotals(ctx context.Context, source string) (store.Totals, error) {
	var t store.Totals
	err := s.gdb.WithContext(ctx).
		Raw(`SELECT COUNT(*), COALESCE(SUM(count), 0) FROM word_frequencies WHERE source = ?`, source).
		Row().
		Scan(&t.DistinctWords, &t.TotalOccurrences)
	return t, err
}

func (s *pgStore) GetCursor(ctx context.Context, source string) (store.Cursor, bool, error) {
	var row cursorRow
	err := s.gdb.WithContext(ctx).Where("source = ?", source).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Cursor{}, false, nil
	}
	if err != nil {
		return store.Cursor{}, false, err
	}
	return store.Cursor{
		Source:    row.Source,
		Seq:       row.LastSeq,
		PostID:    row.LastPostID,
		UpdatedAt: row.AdvancedAt.UTC(),
	}, true, nil
}

func (s *pgStore) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{PostsBySource: make(map[string]int64)}
	db := s.gdb.WithContext(ctx)

	var oldest, newest sql.NullTime
	if err := db.Raw(`SELECT COUNT(*), MIN(created_utc), MAX(created_utc) FROM scraped_posts`).
		Row().
		Scan(&st.TotalPosts, &oldest, &newest); err != nil {
		return store.Stats{}, err
	}
	if oldest.Valid {
		st.OldestPost = oldest.Time.UTC()
	}
	if newest.Valid {
		st.NewestPost = newest.Time.UTC()
	}

	if err := db.Model(&sessionRow{}).Count(&st.TotalSessions).Error; err != nil {
		return store.Stats{}, err
	}

	var perSource []struct {
		Source string
		Posts  int64
	}
	if err := db.Model(&postRow{}).
		Select("source, COUNT(*) AS posts").
		Group("source").
		Scan(&perSource).Error; err != nil {
		return store.Stats{}, err
	}
	for _, ps := range perSource {
		st.PostsBySource[ps.Source] = ps.Posts
	}
	return st, nil
}

func (s *pgStore) DeletePosts(ctx context.Context, f store.DeleteFilter) (store.DeleteResult, error) {
	var res store.DeleteResult
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		where, args := deleteClause(f, "created_utc")
		r := tx.Where(where, args...).Delete(&postRow{})
		if r.Error != nil {
			return r.Error
		}
		res.Posts = r.RowsAffected

		where, args = deleteClause(f, "started_at")
		r = tx.Where(where, args...).Delete(&sessionRow{})
		if r.Error != nil {
			return r.Error
		}
		res.Sessions = r.RowsAffected
		return nil
	})
	if err != nil {
		return store.DeleteResult{}, err
	}
	return res, nil
}

// Reset truncates every table and restarts the post sequence.
func (s *pgStore) Reset(ctx context.Context) error {
	return s.gdb.WithContext(ctx).
		Exec(`TRUNCATE ` + strings.Join(tableNames(), ", ") + ` RESTART IDENTITY`).
		Error
}

func sessionRowFrom(sess store.Session) sessionRow {
	row := sessionRow{
		ID:         sess.ID,
		Source:     sess.Source,
		StartedAt:  sess.StartedAt.UTC(),
		Fetched:    sess.Fetched,
		NewPosts:   sess.New,
		Duplicates: sess.Duplicates,
		Malformed:  sess.Malformed,
		Status:     string(sess.Status),
		Stage:      sess.Stage,
		Error:      sess.Error,
	}
	if !sess.FinishedAt.IsZero() {
		finished := sess.FinishedAt.UTC()
		row.FinishedAt = &finished
	}
	return row
}

func (r sessionRow) toSession() store.Session {
	sess := store.Session{
		ID:         r.ID,
		Source:     r.Source,
		StartedAt:  r.StartedAt.UTC(),
		Fetched:    r.Fetched,
		New:        r.NewPosts,
		Duplicates: r.Duplicates,
		Malformed:  r.Malformed,
		Status:     store.SessionStatus(r.Status),
		Stage:      r.Stage,
		Error:      r.Error,
	}
	if r.FinishedAt != nil {
		sess.FinishedAt = r.FinishedAt.UTC()
	}
	return sess
}

func (r wordRow) toWordStat() (store.WordStat, error) {
	st := store.WordStat{
		Word:        r.Word,
		Source:      r.Source,
		Count:       r.Count,
		ItemCount:   r.DistinctItemCount,
		LastUpdated: r.LastUpdated.UTC(),
	}
	if len(r.Contexts) > 0 {
		if err := json.Unmarshal(r.Contexts, &st.Contexts); err != nil {
			return store.WordStat{}, fmt.Errorf("decode contexts for %q: %w", r.Word, err)
		}
	}
	return st, nil
}

// deleteClause always yields a condition; gorm refuses unconditioned deletes.
func deleteClause(f store.DeleteFilter, timeColumn string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if !f.OlderThan.IsZero() {
		conds = append(conds, timeColumn+" < ?")
		args = append(args, f.OlderThan.UTC())
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent", "disabled":
		return logger.Silent
	default:
		return logger.Error
	}
}
