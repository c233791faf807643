package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

func sampleRanking() Ranking {
	top := []store.WordCount{{Word: "gopher", Count: 1500}, {Word: "channel", Count: 500}}
	return Compose("golang", top, store.Totals{DistinctWords: 40, TotalOccurrences: 4000})
}

func TestCompose(t *testing.T) {
	r := sampleRanking()
	if len(r.Rows) != 2 {
		t.Fatalf("rows = %+v", r.Rows)
	}
	if r.Rows[0].Rank != 1 || r.Rows[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", r.Rows[0].Rank, r.Rows[1].Rank)
	}
	if r.Rows[0].Share != 0.375 || r.Rows[1].Share != 0.125 {
		t.Errorf("shares = %v, %v", r.Rows[0].Share, r.Rows[1].Share)
	}

	empty := Compose("golang", nil, store.Totals{})
	if empty.Rows == nil || len(empty.Rows) != 0 {
		t.Errorf("empty ranking rows = %#v", empty.Rows)
	}
}

func TestDetail(t *testing.T) {
	d := Detail(store.WordStat{Word: "gopher", Source: "golang", Count: 9, ItemCount: 3, Contexts: []string{"a"}})
	if d.PerItem != 3 {
		t.Errorf("per item = %v", d.PerItem)
	}
	zero := Detail(store.WordStat{Word: "x"})
	if zero.PerItem != 0 || zero.Contexts == nil {
		t.Errorf("zero detail = %+v", zero)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleRanking()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"r/golang", "4,000 occurrences", "gopher", "1,500", "37.50%"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	WriteText(&buf, Compose("all", nil, store.Totals{}))
	if !strings.Contains(buf.String(), "all subreddits") || !strings.Contains(buf.String(), "No words") {
		t.Errorf("empty output:\n%s", buf.String())
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRanking()); err != nil {
		t.Fatal(err)
	}
	want := "rank,word,count,share\n1,gopher,1500,0.375000\n2,channel,500,0.125000\n"
	if buf.String() != want {
		t.Errorf("csv =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleRanking()); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Source string `json:"source"`
		Rows   []struct {
			Word string `json:"word"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.Source != "golang" || len(decoded.Rows) != 2 || decoded.Rows[0].Word != "gopher" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteStats(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	st := store.Stats{
		TotalPosts:    1200,
		TotalSessions: 3,
		PostsBySource: map[string]int64{"rust": 200, "golang": 1000},
		OldestPost:    now.Add(-72 * time.Hour),
		NewestPost:    now.Add(-time.Hour),
	}
	var buf bytes.Buffer
	WriteStats(&buf, st, now)
	out := buf.String()
	if !strings.Contains(out, "1,200") || !strings.Contains(out, "3 days ago") {
		t.Errorf("stats output:\n%s", out)
	}
	if strings.Index(out, "r/golang") > strings.Index(out, "r/rust") {
		t.Error("sources should be sorted")
	}
}

func TestWriteSessions(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	WriteSessions(&buf, []store.Session{{
		ID: "s", Source: "golang", StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		Fetched: 10, New: 4, Duplicates: 6, Status: store.StatusSuccess,
	}})
	out := buf.String()
	if !strings.Contains(out, "success") || !strings.Contains(out, "1.5s") {
		t.Errorf("sessions output:\n%s", out)
	}
}
