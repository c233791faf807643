// Package jsonl replays listing dumps stored as JSON lines, one raw item per
// line. It lets ingestion run offline against captured data.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cognicore/wordharvest/pkg/wordharvest/ingest"
	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

const maxLineBytes = 4 * 1024 * 1024

// Fetcher serves FetchLatest from a JSONL file.
type Fetcher struct {
	Path string
}

var _ ingest.Fetcher = (*Fetcher)(nil)

// FetchLatest returns up to limit items whose subreddit matches source,
// newest first. Items without a subreddit match every source. A line that is
// not valid JSON yields an empty item, which ingestion counts as malformed.
func (f *Fetcher) FetchLatest(ctx context.Context, source string, limit int) ([]ingest.RawItem, error) {
	items, err := LoadFromJSONL(f.Path)
	if err != nil {
		return nil, &internalerr.FetchError{Source: source, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &internalerr.FetchError{Source: source, Err: err}
	}

	want := store.CanonicalSource(source)
	var out []ingest.RawItem
	for _, item := range items {
		if item.Subreddit != "" && store.CanonicalSource(item.Subreddit) != want {
			continue
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedUTC > out[j].CreatedUTC
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LoadFromJSONL reads every line of path as a raw item.
func LoadFromJSONL(path string) ([]ingest.RawItem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return Decode(file)
}

// Decode reads raw items from r, one JSON object per line.
func Decode(r io.Reader) ([]ingest.RawItem, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var items []ingest.RawItem
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ingest.RawItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			items = append(items, ingest.RawItem{})
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}
	return items, nil
}

// Encode writes items to w as JSON lines.
func Encode(w io.Writer, items []ingest.RawItem) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}
