package ingest

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// RawItem is one listing entry as delivered by a Fetcher. Field names follow
// the Reddit listing payload so JSON dumps of it decode directly.
type RawItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	URL         string  `json:"url"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
	IsSelf      bool    `json:"is_self"`
	SelfText    string  `json:"selftext"`
}

// ToPost validates a raw item and converts it into a post for source.
// index is the item's position in the fetch, used in error reports.
func ToPost(index int, source string, raw RawItem, scrapedAt time.Time) (store.Post, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return store.Post{}, &internalerr.MalformedItemError{Index: index, Reason: "missing id"}
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return store.Post{}, &internalerr.MalformedItemError{Index: index, ID: id, Reason: "missing title"}
	}
	if math.IsNaN(raw.CreatedUTC) || math.IsInf(raw.CreatedUTC, 0) || raw.CreatedUTC < 0 {
		return store.Post{}, &internalerr.MalformedItemError{Index: index, ID: id, Reason: "invalid created_utc"}
	}

	// Stores keep whole seconds.
	created := time.Unix(int64(raw.CreatedUTC), 0).UTC()

	return store.Post{
		ID:          id,
		Source:      source,
		Title:       title,
		Body:        strings.TrimSpace(raw.SelfText),
		Author:      strings.TrimSpace(raw.Author),
		URL:         strings.TrimSpace(raw.URL),
		Score:       raw.Score,
		NumComments: max(raw.NumComments, 0),
		CreatedUTC:  created,
		ScrapedAt:   scrapedAt.UTC(),
	}, nil
}

// toPosts converts a fetch into posts, collecting per-item failures.
func toPosts(source string, raw []RawItem, scrapedAt time.Time) ([]store.Post, []*internalerr.MalformedItemError) {
	posts := make([]store.Post, 0, len(raw))
	var malformed []*internalerr.MalformedItemError
	for i, item := range raw {
		p, err := ToPost(i, source, item, scrapedAt)
		var bad *internalerr.MalformedItemError
		if errors.As(err, &bad) {
			malformed = append(malformed, bad)
			continue
		}
		posts = append(posts, p)
	}
	return posts, malformed
}
