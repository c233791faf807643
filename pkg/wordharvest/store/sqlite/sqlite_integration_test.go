package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testPost(source, id string, created time.Time) store.Post {
	return store.Post{
		ID:          id,
		Source:      source,
		Title:       "title " + id,
		Body:        "body " + id,
		Author:      "alice",
		Score:       10,
		NumComments: 2,
		CreatedUTC:  created,
		ScrapedAt:   created.Add(time.Minute),
	}
}

// TestSchemaCreationIdempotent tests that running initSchema multiple times is safe
func TestSchemaCreationIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Open database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := initSchema(ctx, db); err != nil {
			t.Fatalf("initSchema iteration %d: %v", i, err)
		}
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&count)
	if err != nil {
		t.Fatalf("Count tables: %v", err)
	}

	expected := 5 // scraped_posts, scraping_sessions, scraped_subreddits, word_frequencies, analysis_cursor
	if count != expected {
		t.Errorf("Expected %d tables, got %d", expected, count)
	}
}

func TestInsertPostsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	posts := []store.Post{
		testPost("golang", "a1", now),
		testPost("golang", "a2", now),
	}

	n, err := st.InsertPosts(ctx, posts)
	if err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}
	if n != 2 {
		t.Fatalf("first insert wrote %d, want 2", n)
	}

	n, err = st.InsertPosts(ctx, posts)
	if err != nil {
		t.Fatalf("InsertPosts again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second insert wrote %d, want 0", n)
	}

	// Same id under another source is a different post.
	n, err = st.InsertPosts(ctx, []store.Post{testPost("rust", "a1", now)})
	if err != nil {
		t.Fatalf("InsertPosts rust: %v", err)
	}
	if n != 1 {
		t.Fatalf("insert under other source wrote %d, want 1", n)
	}

	ids, err := st.KnownPostIDs(ctx, "golang")
	if err != nil {
		t.Fatalf("KnownPostIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 known ids, got %d", len(ids))
	}
	if _, ok := ids["a1"]; !ok {
		t.Error("a1 should be known")
	}
}

func TestPostsAfterOrdersBySeq(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := st.InsertPosts(ctx, []store.Post{
		testPost("golang", "1", now),
		testPost("rust", "2", now),
		testPost("golang", "3", now),
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	all, err := st.PostsAfter(ctx, store.AllSources, 0, 0)
	if err != nil {
		t.Fatalf("PostsAfter: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", all[i-1].Seq, all[i].Seq)
		}
	}
	if !all[0].CreatedUTC.Equal(now) {
		t.Errorf("CreatedUTC round trip: got %v want %v", all[0].CreatedUTC, now)
	}
	if all[0].Body != "body 1" {
		t.Errorf("Body round trip: got %q", all[0].Body)
	}

	golang, err := st.PostsAfter(ctx, "golang", all[0].Seq, 0)
	if err != nil {
		t.Fatalf("PostsAfter golang: %v", err)
	}
	if len(golang) != 1 || golang[0].ID != "3" {
		t.Fatalf("expected only post 3 after cursor, got %+v", golang)
	}

	limited, err := st.PostsAfter(ctx, store.AllSources, 0, 2)
	if err != nil {
		t.Fatalf("PostsAfter limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d posts", len(limited))
	}
}

func TestRefreshPostCounters(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().UTC()

	if _, err := st.InsertPosts(ctx, []store.Post{testPost("golang", "x", now)}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}

	p := testPost("golang", "x", now)
	p.Score = 99
	p.NumComments = 7
	n, err := st.RefreshPostCounters(ctx, []store.Post{p, testPost("golang", "missing", now)})
	if err != nil {
		t.Fatalf("RefreshPostCounters: %v", err)
	}
	if n != 1 {
		t.Errorf("updated %d rows, want 1", n)
	}

	posts, _ := st.PostsAfter(ctx, "golang", 0, 0)
	if posts[0].Score != 99 || posts[0].NumComments != 7 {
		t.Errorf("counters not refreshed: %+v", posts[0])
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := store.Session{ID: "s1", Source: "golang", StartedAt: start, Status: store.StatusRunning, Stage: "started"}
	second := store.Session{ID: "s2", Source: "golang", StartedAt: start.Add(time.Hour), Status: store.StatusRunning, Stage: "started"}
	for _, s := range []store.Session{first, second} {
		if err := st.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession %s: %v", s.ID, err)
		}
	}

	first.Status = store.StatusSuccess
	first.Stage = "finalized"
	first.Fetched = 3
	first.New = 3
	first.FinishedAt = start.Add(time.Second)
	if err := st.UpdateSession(ctx, first); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	err := st.UpdateSession(ctx, store.Session{ID: "nope"})
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown session, got %v", err)
	}

	sessions, err := st.Sessions(ctx, "golang", 0)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s2" {
		t.Errorf("expected newest first, got %s", sessions[0].ID)
	}
	got := sessions[1]
	if got.Status != store.StatusSuccess || got.New != 3 || !got.FinishedAt.Equal(first.FinishedAt) {
		t.Errorf("session not updated: %+v", got)
	}
}

func TestApplyWordStatsMergesAndReplaces(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().UTC()

	batch := store.WordStatBatch{
		Source: "golang",
		Stats: []store.WordStat{
			{Word: "gopher", Count: 3, ItemCount: 2, Contexts: []string{"a", "b"}, LastUpdated: now},
			{Word: "channel", Count: 1, ItemCount: 1, Contexts: []string{"c"}, LastUpdated: now},
		},
		Cursor:       store.Cursor{Seq: 2, PostID: "p2", UpdatedAt: now},
		ContextLimit: 3,
	}
	if err := st.ApplyWordStats(ctx, batch); err != nil {
		t.Fatalf("ApplyWordStats: %v", err)
	}

	batch.Stats = []store.WordStat{
		{Word: "gopher", Count: 2, ItemCount: 1, Contexts: []string{"b", "d", "e"}, LastUpdated: now},
	}
	batch.Cursor = store.Cursor{Seq: 5, PostID: "p5", UpdatedAt: now}
	if err := st.ApplyWordStats(ctx, batch); err != nil {
		t.Fatalf("ApplyWordStats merge: %v", err)
	}

	stat, found, err := st.GetWordStat(ctx, "gopher", "golang")
	if err != nil || !found {
		t.Fatalf("GetWordStat: found=%v err=%v", found, err)
	}
	if stat.Count != 5 || stat.ItemCount != 3 {
		t.Errorf("merged counts = %d/%d, want 5/3", stat.Count, stat.ItemCount)
	}
	want := []string{"a", "b", "d"}
	if len(stat.Contexts) != len(want) {
		t.Fatalf("contexts = %v, want %v", stat.Contexts, want)
	}
	for i := range want {
		if stat.Contexts[i] != want[i] {
			t.Errorf("context[%d] = %q, want %q", i, stat.Contexts[i], want[i])
		}
	}

	cur, found, err := st.GetCursor(ctx, "golang")
	if err != nil || !found {
		t.Fatalf("GetCursor: found=%v err=%v", found, err)
	}
	if cur.Seq != 5 || cur.PostID != "p5" {
		t.Errorf("cursor = %+v", cur)
	}

	totals, err := st.WordTotals(ctx, "golang")
	if err != nil {
		t.Fatalf("WordTotals: %v", err)
	}
	if totals.DistinctWords != 2 || totals.TotalOccurrences != 6 {
		t.Errorf("totals = %+v", totals)
	}

	if err := st.ApplyWordStats(ctx, store.WordStatBatch{
		Source:       "golang",
		Replace:      true,
		Stats:        []store.WordStat{{Word: "module", Count: 1, ItemCount: 1, LastUpdated: now}},
		Cursor:       store.Cursor{Seq: 6, UpdatedAt: now},
		ContextLimit: 3,
	}); err != nil {
		t.Fatalf("ApplyWordStats replace: %v", err)
	}
	if _, found, _ := st.GetWordStat(ctx, "gopher", "golang"); found {
		t.Error("replace should drop previous statistics")
	}
}

func TestTopWordsAndSearch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().UTC()

	if err := st.ApplyWordStats(ctx, store.WordStatBatch{
		Source: store.AllSources,
		Stats: []store.WordStat{
			{Word: "beta", Count: 4, ItemCount: 1, LastUpdated: now},
			{Word: "alpha", Count: 4, ItemCount: 1, LastUpdated: now},
			{Word: "gamma", Count: 9, ItemCount: 3, LastUpdated: now},
			{Word: "alphabet", Count: 1, ItemCount: 1, LastUpdated: now},
			{Word: "under_score", Count: 1, ItemCount: 1, LastUpdated: now},
		},
		Cursor:       store.Cursor{Seq: 1, UpdatedAt: now},
		ContextLimit: 5,
	}); err != nil {
		t.Fatalf("ApplyWordStats: %v", err)
	}

	top, err := st.TopWords(ctx, store.AllSources, 3)
	if err != nil {
		t.Fatalf("TopWords: %v", err)
	}
	want := []string{"gamma", "alpha", "beta"}
	if len(top) != len(want) {
		t.Fatalf("top = %v", top)
	}
	for i, w := range want {
		if top[i].Word != w {
			t.Errorf("top[%d] = %s, want %s", i, top[i].Word, w)
		}
	}

	none, err := st.TopWords(ctx, store.AllSources, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("TopWords(0) = %v, %v", none, err)
	}

	found, err := st.SearchWords(ctx, "ALPHA", store.AllSources, 0)
	if err != nil {
		t.Fatalf("SearchWords: %v", err)
	}
	if len(found) != 2 || found[0].Word != "alpha" || found[1].Word != "alphabet" {
		t.Errorf("search alpha = %+v", found)
	}

	// LIKE wildcards in the query are matched literally.
	found, err = st.SearchWords(ctx, "_", store.AllSources, 0)
	if err != nil {
		t.Fatalf("SearchWords underscore: %v", err)
	}
	if len(found) != 1 || found[0].Word != "under_score" {
		t.Errorf("search _ = %+v", found)
	}
}

func TestStatsDeleteAndReset(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if _, err := st.InsertPosts(ctx, []store.Post{
		testPost("golang", "1", old),
		testPost("golang", "2", recent),
		testPost("rust", "3", old),
	}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}
	if err := st.CreateSession(ctx, store.Session{ID: "s", Source: "golang", StartedAt: old, Status: store.StatusSuccess}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.AddSource(ctx, "golang"); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if err := st.AddSource(ctx, "golang"); err != nil {
		t.Fatalf("AddSource twice: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalPosts != 3 || stats.PostsBySource["golang"] != 2 || stats.TotalSessions != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.OldestPost.Equal(old) || !stats.NewestPost.Equal(recent) {
		t.Errorf("oldest/newest = %v/%v", stats.OldestPost, stats.NewestPost)
	}

	res, err := st.DeletePosts(ctx, store.DeleteFilter{Source: "golang", OlderThan: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("DeletePosts: %v", err)
	}
	if res.Posts != 1 || res.Sessions != 1 {
		t.Errorf("delete result = %+v", res)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	stats, _ = st.Stats(ctx)
	if stats.TotalPosts != 0 {
		t.Errorf("posts after reset = %d", stats.TotalPosts)
	}
	sources, _ := st.Sources(ctx)
	if len(sources) != 0 {
		t.Errorf("sources after reset = %v", sources)
	}
}

func TestReopenPreservesData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := st.InsertPosts(ctx, []store.Post{testPost("golang", "1", time.Now())}); err != nil {
		t.Fatalf("InsertPosts: %v", err)
	}
	st.Close()

	st2, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	ids, err := st2.KnownPostIDs(ctx, "golang")
	if err != nil {
		t.Fatalf("KnownPostIDs: %v", err)
	}
	if _, ok := ids["1"]; !ok {
		t.Error("post lost after reopen")
	}
}

func TestConcurrentSourcesInsert(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const workers, batches, perBatch = 8, 20, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*batches)
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			source := fmt.Sprintf("s%d", g)
			for b := 0; b < batches; b++ {
				posts := make([]store.Post, perBatch)
				for i := range posts {
					posts[i] = testPost(source, fmt.Sprintf("%d-%d", b, i), created)
				}
				if _, err := st.InsertPosts(ctx, posts); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent InsertPosts: %v", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if want := int64(workers * batches * perBatch); int64(stats.TotalPosts) != want {
		t.Errorf("total posts = %d, want %d", stats.TotalPosts, want)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"data.db", "data.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"file:data.db?cache=shared", "file:data.db?cache=shared&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
