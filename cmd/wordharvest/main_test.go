package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/wordharvest/internal/jsonl"
	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
)

type harness struct {
	t      *testing.T
	dbPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("WORDHARVEST_ENV_FILE", "")
	t.Setenv("WH_STORE", "sqlite")
	t.Setenv("WH_REFRESH_POLICY", "insert-only")
	t.Setenv("WH_NORMALIZER_CONFIG", "")
	t.Setenv("ENVIRONMENT", "test")
	return &harness{t: t, dbPath: filepath.Join(t.TempDir(), "wordharvest.db")}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", h.dbPath, "--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "golang.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	items := []ingest.RawItem{
		{ID: "p1", Subreddit: "golang", Title: "Gopher generics land", CreatedUTC: 1717000000},
		{ID: "p2", Subreddit: "golang", Title: "Generics again", CreatedUTC: 1717000100},
		{ID: "p3", Subreddit: "golang", Title: "Channels and gopher generics", CreatedUTC: 1717000200},
		{ID: "r1", Subreddit: "rust", Title: "Borrow checker", CreatedUTC: 1717000300},
	}
	if err := jsonl.Encode(f, items); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScrapeAnalyzeTopFlow(t *testing.T) {
	h := newHarness(t)
	fixture := writeFixture(t)

	out, err := h.run("", "scrape", "r/Golang", "--from-file", fixture, "--analyze")
	if err != nil {
		t.Fatalf("scrape: %v\n%s", err, out)
	}
	if !strings.Contains(out, "r/golang: success, fetched 3, new 3, duplicates 0") {
		t.Errorf("first scrape output:\n%s", out)
	}
	if !strings.Contains(out, "analyzed 3 new posts") {
		t.Errorf("analysis output:\n%s", out)
	}

	out, err = h.run("", "scrape", "golang", "--from-file", fixture)
	if err != nil {
		t.Fatalf("second scrape: %v", err)
	}
	if !strings.Contains(out, "new 0, duplicates 3") {
		t.Errorf("second scrape output:\n%s", out)
	}

	out, err = h.run("", "top", "golang", "-n", "2", "--format", "csv")
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if !strings.HasPrefix(out, "rank,word,count,share\n1,generics,3,") || !strings.Contains(out, "\n2,gopher,2,") {
		t.Errorf("top csv:\n%s", out)
	}

	out, err = h.run("", "word", "Gopher", "golang")
	if err != nil || !strings.Contains(out, "occurrences: 2") {
		t.Errorf("word: %v\n%s", err, out)
	}

	out, err = h.run("", "sources")
	if err != nil || strings.TrimSpace(out) != "r/golang" {
		t.Errorf("sources: %v\n%s", err, out)
	}

	exportPath := filepath.Join(t.TempDir(), "top.json")
	if _, err := h.run("", "export", "golang", "-o", exportPath); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil || !strings.Contains(string(data), `"word": "generics"`) {
		t.Errorf("export file: %v\n%s", err, data)
	}
}

func TestResetAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	fixture := writeFixture(t)
	if _, err := h.run("", "scrape", "golang", "--from-file", fixture); err != nil {
		t.Fatal(err)
	}

	out, err := h.run("n\n", "reset")
	if err != nil || !strings.Contains(out, "Aborted.") {
		t.Fatalf("declined reset: %v\n%s", err, out)
	}
	out, _ = h.run("", "stats")
	if !strings.Contains(out, "Total posts:    3") {
		t.Errorf("data lost after declined reset:\n%s", out)
	}

	if out, err := h.run("", "reset", "--force"); err != nil || !strings.Contains(out, "All data deleted.") {
		t.Fatalf("reset: %v\n%s", err, out)
	}
	out, _ = h.run("", "stats")
	if !strings.Contains(out, "Total posts:    0") {
		t.Errorf("stats after reset:\n%s", out)
	}
}

func TestCleanRequiresFilterOrForce(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "clean")
	if !errors.Is(err, internalerr.ErrInvalidInput) || exitCode(err) != 2 {
		t.Errorf("clean without filter: %v", err)
	}

	fixture := writeFixture(t)
	if _, err := h.run("", "scrape", "golang", "rust", "--from-file", fixture, "--analyze"); err != nil {
		t.Fatal(err)
	}
	out, err := h.run("y\n", "clean", "--subreddit", "golang")
	if err != nil || !strings.Contains(out, "Deleted 3 posts and 1 sessions; statistics rebuilt") {
		t.Errorf("clean: %v\n%s", err, out)
	}
}

func TestBadFormatIsUsageError(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "top", "--format", "xml")
	if !errors.Is(err, internalerr.ErrInvalidInput) || exitCode(err) != 2 {
		t.Errorf("expected usage error, got %v", err)
	}
	if exitCode(errors.New("boom")) != 1 {
		t.Error("generic errors exit 1")
	}
}
