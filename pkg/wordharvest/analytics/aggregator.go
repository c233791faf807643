package analytics

import (
	"sort"
	"time"

	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// DefaultContextLimit is the number of example snippets kept per word.
const DefaultContextLimit = 5

type key struct {
	word   string
	source string
}

type itemKey struct {
	source string
	id     string
}

// Aggregator accumulates word statistics in memory.
type Aggregator struct {
	contextLimit int
	stats        map[key]*store.WordStat
	contextSeen  map[key]map[string]struct{}
	items        map[itemKey]struct{}
}

// NewAggregator creates an empty aggregator keeping at most contextLimit
// distinct snippets per word.
func NewAggregator(contextLimit int) *Aggregator {
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	return &Aggregator{
		contextLimit: contextLimit,
		stats:        make(map[key]*store.WordStat),
		contextSeen:  make(map[key]map[string]struct{}),
		items:        make(map[itemKey]struct{}),
	}
}

// Merge folds one item's tokens into the statistics of source.
//
// Count grows by each token's multiplicity and ItemCount by one per distinct
// token. snippet is asked for a context only while the word still has room
// for one; it may be nil. Merging the same item id twice for a source is a
// no-op. Merge reports whether the item was counted.
func (a *Aggregator) Merge(source, itemID string, tokens []string, snippet func(word string) string) bool {
	ik := itemKey{source: source, id: itemID}
	if _, ok := a.items[ik]; ok {
		return false
	}
	a.items[ik] = struct{}{}

	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		k := key{word: tok, source: source}
		st, ok := a.stats[k]
		if !ok {
			st = &store.WordStat{Word: tok, Source: source}
			a.stats[k] = st
		}
		st.Count++

		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		st.ItemCount++

		if snippet != nil && len(st.Contexts) < a.contextLimit {
			a.addContext(k, st, snippet(tok))
		}
	}
	return true
}

func (a *Aggregator) addContext(k key, st *store.WordStat, c string) {
	if c == "" {
		return
	}
	seen := a.contextSeen[k]
	if seen == nil {
		seen = make(map[string]struct{})
		a.contextSeen[k] = seen
	}
	if _, ok := seen[c]; ok {
		return
	}
	seen[c] = struct{}{}
	st.Contexts = append(st.Contexts, c)
}

// Snapshot returns the statistics of source sorted by word, stamped with at.
func (a *Aggregator) Snapshot(source string, at time.Time) []store.WordStat {
	var out []store.WordStat
	for k, st := range a.stats {
		if k.source != source {
			continue
		}
		cp := *st
		cp.Contexts = append([]string(nil), st.Contexts...)
		cp.LastUpdated = at
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	return out
}

// Len returns the number of (word, source) keys held.
func (a *Aggregator) Len() int {
	return len(a.stats)
}
