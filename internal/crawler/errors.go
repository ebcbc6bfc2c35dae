package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors returned across package boundaries.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrSequenceConsumed  = errors.New("result sequence already consumed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrQueueClosed       = errors.New("queue closed")
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchHTTPError  FetchErrorKind = "http_error"
	FetchBadPayload FetchErrorKind = "bad_payload"
)

// FetchError reports a failed page retrieval, carrying the provider's status
// and body when one was returned.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractErrorReason classifies extraction failures.
type ExtractErrorReason string

// ReasonMissingRequiredField means the page lacks an element every detail page has.
const ReasonMissingRequiredField ExtractErrorReason = "missing_required_field"

// ExtractError reports a page that is not a valid detail page.
type ExtractError struct {
	Reason ExtractErrorReason
	Field  string
	URL    string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %s %q", e.URL, e.Reason, e.Field)
}

// Stage names the pipeline step that failed.
type Stage string

// Pipeline stages.
const (
	StageSearch  Stage = "search"
	StageExtract Stage = "extract"
)

// PipelineError terminates a scrape run.
type PipelineError struct {
	Stage Stage
	Cause error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s stage failed: %v", e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// StoreError reports a KVStore operation that could not be completed.
// It matches ErrStoreUnavailable under errors.Is.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets callers test for ErrStoreUnavailable without unwrapping.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// StageOf returns the failing stage if err wraps a PipelineError.
func StageOf(err error) (Stage, bool) {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Stage, true
	}
	return "", false
}
