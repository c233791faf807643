// Package report turns stored statistics into ranked views and renders them
// as text, JSON or CSV. Everything here is pure: no store access.
package report

import (
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Totals summarizes a source key.
type Totals struct {
	DistinctWords    int64 `json:"distinct_words"`
	TotalOccurrences int64 `json:"total_occurrences"`
}

// Row is one ranked word.
type Row struct {
	Rank  int     `json:"rank"`
	Word  string  `json:"word"`
	Count int64   `json:"count"`
	Share float64 `json:"share"` // fraction of all occurrences in the source
}

// Ranking is a top-N view of a source key.
type Ranking struct {
	Source string `json:"source"`
	Totals Totals `json:"totals"`
	Rows   []Row  `json:"rows"`
}

// WordDetail is the full view of one word.
type WordDetail struct {
	Word        string    `json:"word"`
	Source      string    `json:"source"`
	Count       int64     `json:"count"`
	ItemCount   int64     `json:"item_count"`
	PerItem     float64   `json:"per_item"`
	Contexts    []string  `json:"contexts"`
	LastUpdated time.Time `json:"last_updated"`
}

// Compose ranks top in the order given, numbering from 1.
func Compose(source string, top []store.WordCount, totals store.Totals) Ranking {
	r := Ranking{
		Source: source,
		Totals: Totals{DistinctWords: totals.DistinctWords, TotalOccurrences: totals.TotalOccurrences},
		Rows:   make([]Row, 0, len(top)),
	}
	for i, wc := range top {
		row := Row{Rank: i + 1, Word: wc.Word, Count: wc.Count}
		if totals.TotalOccurrences > 0 {
			row.Share = float64(wc.Count) / float64(totals.TotalOccurrences)
		}
		r.Rows = append(r.Rows, row)
	}
	return r
}

// Detail builds the view of a single statistic.
func Detail(st store.WordStat) WordDetail {
	d := WordDetail{
		Word:        st.Word,
		Source:      st.Source,
		Count:       st.Count,
		ItemCount:   st.ItemCount,
		Contexts:    append([]string{}, st.Contexts...),
		LastUpdated: st.LastUpdated,
	}
	if st.ItemCount > 0 {
		d.PerItem = float64(st.Count) / float64(st.ItemCount)
	}
	return d
}

// Matches builds detail views for search results, keeping their order.
func Matches(stats []store.WordStat) []WordDetail {
	out := make([]WordDetail, len(stats))
	for i, st := range stats {
		out[i] = Detail(st)
	}
	return out
}
