package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store/memstore"
)

func posts(source string, ids ...string) []store.Post {
	out := make([]store.Post, len(ids))
	for i, id := range ids {
		out[i] = store.Post{ID: id, Source: source, Title: "post " + id}
	}
	return out
}

func ids(ps []store.Post) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestPartitionIsSetDifference(t *testing.T) {
	tests := []struct {
		name      string
		fetched   []string
		known     []string
		wantFresh []string
		wantDups  int
	}{
		{"all new", []string{"1", "2"}, nil, []string{"1", "2"}, 0},
		{"all known", []string{"1", "2"}, []string{"1", "2", "3"}, nil, 2},
		{"overlap", []string{"2", "3", "4"}, []string{"1", "2", "3"}, []string{"4"}, 2},
		{"repeat in fetch", []string{"5", "5", "6"}, nil, []string{"5", "6"}, 1},
		{"empty fetch", nil, []string{"1"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			known := make(map[string]struct{})
			for _, id := range tt.known {
				known[id] = struct{}{}
			}

			fresh, dups := Partition(posts("go", tt.fetched...), known)
			got := ids(fresh)
			if len(got) != len(tt.wantFresh) {
				t.Fatalf("fresh = %v, want %v", got, tt.wantFresh)
			}
			for i := range got {
				if got[i] != tt.wantFresh[i] {
					t.Errorf("fresh[%d] = %s, want %s", i, got[i], tt.wantFresh[i])
				}
			}
			if len(dups) != tt.wantDups {
				t.Errorf("dups = %d, want %d", len(dups), tt.wantDups)
			}
		})
	}
}

func TestAdapterInsertNew(t *testing.T) {
	ctx := context.Background()
	a := New(memstore.New(), "")

	known, err := a.KnownIDs(ctx, "go")
	if err != nil {
		t.Fatalf("KnownIDs: %v", err)
	}
	if len(known) != 0 {
		t.Fatalf("unseen source should have no ids, got %v", known)
	}

	n, err := a.InsertNew(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("empty insert = %d, %v", n, err)
	}

	n, err = a.InsertNew(ctx, posts("go", "1", "2"))
	if err != nil || n != 2 {
		t.Fatalf("insert = %d, %v", n, err)
	}
	n, err = a.InsertNew(ctx, posts("go", "2", "3"))
	if err != nil || n != 1 {
		t.Fatalf("second insert = %d, %v", n, err)
	}

	known, _ = a.KnownIDs(ctx, "go")
	if len(known) != 3 {
		t.Errorf("expected 3 known ids, got %d", len(known))
	}
}

func TestAdapterRefreshPolicy(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.InsertPosts(ctx, posts("go", "1"))

	updated := posts("go", "1")
	updated[0].Score = 42

	insertOnly := New(st, PolicyInsertOnly)
	if n, _ := insertOnly.Refresh(ctx, updated); n != 0 {
		t.Errorf("insert-only refreshed %d posts", n)
	}

	refresh := New(st, PolicyRefresh)
	if n, err := refresh.Refresh(ctx, updated); err != nil || n != 1 {
		t.Fatalf("refresh = %d, %v", n, err)
	}
	stored, _ := st.PostsAfter(ctx, "go", 0, 0)
	if stored[0].Score != 42 {
		t.Errorf("score not refreshed: %d", stored[0].Score)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyInsertOnly, "Refresh": PolicyRefresh, "insert-only": PolicyInsertOnly} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("upsert"); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
