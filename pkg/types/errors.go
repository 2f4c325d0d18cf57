// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyDocument reports that normalization produced zero sections.
	// Retrying with the same input cannot succeed.
	ErrEmptyDocument = errors.New("document produced no sections")

	// ErrFetchTimeout matches fetch failures caused by a deadline.
	ErrFetchTimeout = errors.New("fetch timed out")

	// ErrFetchFailed matches every other upstream fetch failure.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrIndexUnavailable reports a failed connectivity or schema check.
	ErrIndexUnavailable = errors.New("search index unavailable")

	// ErrTimeout matches any external call that ran past its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// FetchError describes a failed upstream metadata, HTML, or PDF fetch.
// It matches ErrFetchTimeout (and ErrTimeout) when Timeout is set,
// ErrFetchFailed otherwise.
type FetchError struct {
	Op         string
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.URL, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	if e.Timeout {
		return target == ErrFetchTimeout || target == ErrTimeout
	}
	return target == ErrFetchFailed
}

// TimeoutError reports an index or embedding call that exceeded its deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// DegradedRetrievalError is a non-fatal signal: one leg of a hybrid query
// failed and results come from the other leg only. It is returned as a
// value on results, never as the call's error.
type DegradedRetrievalError struct {
	// Leg is the failed leg: "vector" or "keyword".
	Leg   string `json:"leg"`
	Cause string `json:"cause"`
}

func (e *DegradedRetrievalError) Error() string {
	return fmt.Sprintf("degraded retrieval: %s leg failed: %s", e.Leg, e.Cause)
}

// MalformedGenerationPayloadError reports generated JSON that could not be
// parsed against the evidence it was produced from.
type MalformedGenerationPayloadError struct {
	Reason string
	Err    error
}

func (e *MalformedGenerationPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed generation payload: %s: %v", e.Reason, e.Err)
	}
	return "malformed generation payload: " + e.Reason
}

func (e *MalformedGenerationPayloadError) Unwrap() error { return e.Err }
