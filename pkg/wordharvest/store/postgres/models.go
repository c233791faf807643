package postgres

import (
	"encoding/json"
	"time"
)

// postRow maps scraped_posts. Seq is the global insertion order used by
// analysis cursors.
type postRow struct {
	Seq         int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	Source      string    `gorm:"column:source;type:text;not null;uniqueIndex:uq_scraped_posts_source_post,priority:1"`
	PostID      string    `gorm:"column:post_id;type:text;not null;uniqueIndex:uq_scraped_posts_source_post,priority:2"`
	Title       string    `gorm:"column:title;type:text;not null"`
	Body        string    `gorm:"column:body;type:text;not null"`
	Author      string    `gorm:"column:author;type:text;not null"`
	URL         string    `gorm:"column:url;type:text;not null"`
	Score       int       `gorm:"column:score;type:integer;not null"`
	NumComments int       `gorm:"column:num_comments;type:integer;not null"`
	CreatedUTC  time.Time `gorm:"column:created_utc;type:timestamptz;not null;index:idx_scraped_posts_created"`
	ScrapedAt   time.Time `gorm:"column:scraped_at;type:timestamptz;not null"`
}

func (postRow) TableName() string { return "scraped_posts" }

// sessionRow maps scraping_sessions.
type sessionRow struct {
	ID         string     `gorm:"column:id;type:text;primaryKey"`
	Source     string     `gorm:"column:source;type:text;not null;index:idx_scraping_sessions_source"`
	StartedAt  time.Time  `gorm:"column:started_at;type:timestamptz;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Fetched    int        `gorm:"column:fetched;type:integer;not null"`
	NewPosts   int        `gorm:"column:new_posts;type:integer;not null"`
	Duplicates int        `gorm:"column:duplicates;type:integer;not null"`
	Malformed  int        `gorm:"column:malformed;type:integer;not null"`
	Status     string     `gorm:"column:status;type:text;not null"`
	Stage      string     `gorm:"column:stage;type:text;not null"`
	Error      string     `gorm:"column:error;type:text;not null"`
}

func (sessionRow) TableName() string { return "scraping_sessions" }

// sourceRow maps scraped_subreddits.
type sourceRow struct {
	Subreddit string `gorm:"column:subreddit;type:text;primaryKey"`
}

func (sourceRow) TableName() string { return "scraped_subreddits" }

// wordRow maps word_frequencies.
type wordRow struct {
	Word              string          `gorm:"column:word;type:text;primaryKey"`
	Source            string          `gorm:"column:source;type:text;primaryKey;index:idx_word_frequencies_source_count,priority:1"`
	Count             int64           `gorm:"column:count;type:bigint;not null;index:idx_word_frequencies_source_count,priority:2,sort:desc"`
	DistinctItemCount int64           `gorm:"column:distinct_item_count;type:bigint;not null"`
	Contexts          json.RawMessage `gorm:"column:contexts;type:jsonb;not null"`
	LastUpdated       time.Time       `gorm:"column:last_updated;type:timestamptz;not null"`
}

func (wordRow) TableName() string { return "word_frequencies" }

// cursorRow maps analysis_cursor.
type cursorRow struct {
	Source     string    `gorm:"column:source;type:text;primaryKey"`
	LastSeq    int64     `gorm:"column:last_seq;type:bigint;not null"`
	LastPostID string    `gorm:"column:last_post_id;type:text;not null"`
	AdvancedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null"`
}

func (cursorRow) TableName() string { return "analysis_cursor" }

func autoMigrateModels() []any {
	return []any{
		&postRow{},
		&sessionRow{},
		&sourceRow{},
		&wordRow{},
		&cursorRow{},
	}
}

func tableNames() []string {
	return []string{
		postRow{}.TableName(),
		sessionRow{}.TableName(),
		sourceRow{}.TableName(),
		wordRow{}.TableName(),
		cursorRow{}.TableName(),
	}
}
