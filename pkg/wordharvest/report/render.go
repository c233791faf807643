package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// WriteText renders a ranking as an aligned table.
func WriteText(w io.Writer, r Ranking) error {
	fmt.Fprintf(w, "Top words in %s (%s distinct, %s occurrences)\n\n",
		label(r.Source), humanize.Comma(r.Totals.DistinctWords), humanize.Comma(r.Totals.TotalOccurrences))
	if len(r.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No words analyzed yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tWORD\tCOUNT\tSHARE\t")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f%%\t\n", row.Rank, row.Word, humanize.Comma(row.Count), row.Share*100)
	}
	return tw.Flush()
}

// WriteDetailText renders one word with its contexts.
func WriteDetailText(w io.Writer, d WordDetail) error {
	fmt.Fprintf(w, "%s in %s\n", d.Word, label(d.Source))
	fmt.Fprintf(w, "  occurrences: %s\n", humanize.Comma(d.Count))
	fmt.Fprintf(w, "  posts:       %s (%.2f per post)\n", humanize.Comma(d.ItemCount), d.PerItem)
	if !d.LastUpdated.IsZero() {
		fmt.Fprintf(w, "  updated:     %s\n", d.LastUpdated.UTC().Format(time.RFC3339))
	}
	for i, c := range d.Contexts {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, c)
	}
	return nil
}

// WriteMatchesText renders search results one per line.
func WriteMatchesText(w io.Writer, matches []WordDetail) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "No matching words.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORD\tCOUNT\tPOSTS")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Word, humanize.Comma(m.Count), humanize.Comma(m.ItemCount))
	}
	return tw.Flush()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteCSV writes a ranking as rank,word,count,share rows with a header.
func WriteCSV(w io.Writer, r Ranking) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "word", "count", "share"}); err != nil {
		return err
	}
	for _, row := range r.Rows {
		rec := []string{
			strconv.Itoa(row.Rank),
			row.Word,
			strconv.FormatInt(row.Count, 10),
			strconv.FormatFloat(row.Share, 'f', 6, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSessions renders scrape sessions newest first.
func WriteSessions(w io.Writer, sessions []store.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No scraping sessions recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSOURCE\tSTATUS\tFETCHED\tNEW\tDUPLICATES\tMALFORMED\tDURATION")
	for _, s := range sessions {
		duration := "-"
		if !s.FinishedAt.IsZero() {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			s.StartedAt.UTC().Format("2006-01-02 15:04:05"), label(s.Source), s.Status,
			s.Fetched, s.New, s.Duplicates, s.Malformed, duration)
	}
	return tw.Flush()
}

// WriteStats renders store statistics; now anchors relative times.
func WriteStats(w io.Writer, st store.Stats, now time.Time) error {
	fmt.Fprintf(w, "Total posts:    %s\n", humanize.Comma(st.TotalPosts))
	fmt.Fprintf(w, "Total sessions: %s\n", humanize.Comma(st.TotalSessions))

	if len(st.PostsBySource) > 0 {
		fmt.Fprintln(w, "\nPosts by subreddit:")
		sources := make([]string, 0, len(st.PostsBySource))
		for src := range st.PostsBySource {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(w, "  %s: %s\n", label(src), humanize.Comma(st.PostsBySource[src]))
		}
	}

	if !st.OldestPost.IsZero() {
		fmt.Fprintf(w, "\nOldest post: %s (%s)\n", st.OldestPost.UTC().Format(time.DateTime), humanize.RelTime(st.OldestPost, now, "ago", "from now"))
	}
	if !st.NewestPost.IsZero() {
		fmt.Fprintf(w, "Newest post: %s (%s)\n", st.NewestPost.UTC().Format(time.DateTime), humanize.RelTime(st.NewestPost, now, "ago", "from now"))
	}
	return nil
}

func label(source string) string {
	if source == "" || source == store.AllSources {
		return "all subreddits"
	}
	return "r/" + source
}
