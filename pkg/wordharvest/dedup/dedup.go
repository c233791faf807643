// Package dedup decides which fetched posts are new relative to the store.
//
// Identity is the (source, post id) pair and nothing else: two posts with the
// same id are the same post even when their title or score changed.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/wordharvest/pkg/wordharvest/internalerr"
	"github.com/cognicore/wordharvest/pkg/wordharvest/store"
)

// Policy controls what happens to posts that are already stored.
type Policy string

const (
	// PolicyInsertOnly leaves stored posts untouched.
	PolicyInsertOnly Policy = "insert-only"
	// PolicyRefresh updates score and comment counts of stored posts.
	PolicyRefresh Policy = "refresh"
)

// ParsePolicy parses a policy name; "" selects PolicyInsertOnly.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyInsertOnly:
		return PolicyInsertOnly, nil
	case PolicyRefresh:
		return PolicyRefresh, nil
	default:
		return "", fmt.Errorf("dedup policy %q: %w", s, internalerr.ErrInvalidConfig)
	}
}

// Adapter wraps the post side of a store.Store.
type Adapter struct {
	store  store.Store
	policy Policy
}

// New creates an adapter. An empty policy means PolicyInsertOnly.
func New(st store.Store, policy Policy) *Adapter {
	if policy == "" {
		policy = PolicyInsertOnly
	}
	return &Adapter{store: st, policy: policy}
}

// Policy returns the refresh policy in effect.
func (a *Adapter) Policy() Policy { return a.policy }

// KnownIDs returns the ids already stored for source. An unseen source
// yields an empty set.
func (a *Adapter) KnownIDs(ctx context.Context, source string) (map[string]struct{}, error) {
	ids, err := a.store.KnownPostIDs(ctx, source)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = make(map[string]struct{})
	}
	return ids, nil
}

// InsertNew writes posts that are not stored yet and returns how many were
// written. Posts already present are skipped by the store.
func (a *Adapter) InsertNew(ctx context.Context, posts []store.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	return a.store.InsertPosts(ctx, posts)
}

// Refresh applies the policy to posts that were already stored. It returns
// the number of rows updated, always 0 under PolicyInsertOnly.
func (a *Adapter) Refresh(ctx context.Context, posts []store.Post) (int, error) {
	if a.policy != PolicyRefresh || len(posts) == 0 {
		return 0, nil
	}
	return a.store.RefreshPostCounters(ctx, posts)
}

// Partition splits posts into fresh ones (id not in known) and duplicates.
// Repeats inside posts keep their first occurrence; later copies are
// duplicates. Order is preserved.
func Partition(posts []store.Post, known map[string]struct{}) (fresh, dups []store.Post) {
	seen := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			dups = append(dups, p)
			continue
		}
		seen[p.ID] = struct{}{}

		if _, ok := known[p.ID]; ok {
			dups = append(dups, p)
			continue
		}
		fresh = append(fresh, p)
	}
	return fresh, dups
}
