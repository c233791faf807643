package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// FetchError reports a network or listing-format failure from the upstream API.
// The session that produced it is marked failed; nothing is retried.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports a store failure during ingestion.
// Written is the number of posts confirmed written before the failure.
type PersistenceError struct {
	Source  string
	Stage   string
	Written int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (stage %s, %d written): %v", e.Source, e.Stage, e.Written, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedItemError describes a single raw item that could not become a post.
// It is tallied by the ingestion engine and never returned from a run.
type MalformedItemError struct {
	Index  int
	ID     string
	Reason string
}

func (e *MalformedItemError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed item %d (%s): %s", e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("malformed item %d: %s", e.Index, e.Reason)
}

// AnalysisReadError reports a store read failure during analysis.
// Cursor is the position that was NOT advanced past.
type AnalysisReadError struct {
	Source string
	Cursor int64
	Err    error
}

func (e *AnalysisReadError) Error() string {
	return fmt.Sprintf("analysis read %s after %d: %v", e.Source, e.Cursor, e.Err)
}

func (e *AnalysisReadError) Unwrap() error { return e.Err }
