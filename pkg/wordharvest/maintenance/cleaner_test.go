package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognicore/wordharvest/pkg/wordharvest/analytics"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store/memstore"
)

var now = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

type fakeRebuilder struct {
	calls []string
	err   error
}

func (f *fakeRebuilder) AnalyzeFull(ctx context.Context, source string) (analytics.Outcome, error) {
	f.calls = append(f.calls, source)
	return analytics.Outcome{Source: source}, f.err
}

func seed(t *testing.T) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	st.InsertPosts(ctx, []store.Post{
		{ID: "1", Source: "golang", Title: "old", CreatedUTC: now.AddDate(0, 0, -30)},
		{ID: "2", Source: "golang", Title: "new", CreatedUTC: now.AddDate(0, 0, -1)},
		{ID: "3", Source: "rust", Title: "old", CreatedUTC: now.AddDate(0, 0, -30)},
	})
	st.CreateSession(ctx, store.Session{ID: "s1", Source: "golang", StartedAt: now.AddDate(0, 0, -30)})
	st.CreateSession(ctx, store.Session{ID: "s2", Source: "rust", StartedAt: now.AddDate(0, 0, -1)})
	return st
}

func TestCleanBySourceAndAge(t *testing.T) {
	ctx := context.Background()
	st := seed(t)
	rb := &fakeRebuilder{}
	c := &Cleaner{Store: st, Analyzer: rb, Logger: zerolog.Nop(), Now: func() time.Time { return now }}

	res, err := c.Clean(ctx, Request{Source: "r/Golang", OlderThanDays: 7})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.PostsDeleted != 1 || res.SessionsDeleted != 1 || !res.Rebuilt {
		t.Errorf("result = %+v", res)
	}
	if len(rb.calls) != 1 || rb.calls[0] != store.AllSources {
		t.Errorf("rebuild calls = %v", rb.calls)
	}

	stats, _ := c.Stats(ctx)
	if stats.TotalPosts != 2 || stats.PostsBySource["golang"] != 1 || stats.PostsBySource["rust"] != 1 {
		t.Errorf("stats after clean = %+v", stats)
	}
}

func TestCleanNothingSkipsRebuild(t *testing.T) {
	ctx := context.Background()
	rb := &fakeRebuilder{}
	c := &Cleaner{Store: seed(t), Analyzer: rb, Now: func() time.Time { return now }}

	res, err := c.Clean(ctx, Request{OlderThanDays: 365})
	if err != nil {
		t.Fatal(err)
	}
	if res.PostsDeleted != 0 || res.Rebuilt || len(rb.calls) != 0 {
		t.Errorf("result = %+v, calls = %v", res, rb.calls)
	}
}

func TestCleanErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := (&Cleaner{}).Clean(ctx, Request{}); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	c := &Cleaner{Store: seed(t)}
	if _, err := c.Clean(ctx, Request{OlderThanDays: -1}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	rb := &fakeRebuilder{err: errors.New("boom")}
	c = &Cleaner{Store: seed(t), Analyzer: rb}
	res, err := c.Clean(ctx, Request{Source: "rust"})
	if err == nil || res.PostsDeleted != 1 || res.Rebuilt {
		t.Errorf("rebuild failure: res=%+v err=%v", res, err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	c := &Cleaner{Store: seed(t)}
	if err := c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ := c.Stats(ctx)
	if stats.TotalPosts != 0 || stats.TotalSessions != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}
