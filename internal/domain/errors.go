package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSiteExists   = errors.New("site already registered")
	ErrSiteNotFound = errors.New("site not found")
)

// ErrorKind classifies a failed poll tick. All kinds are recoverable.
type ErrorKind string

const (
	ErrNetwork          ErrorKind = "network_error"
	ErrHTTP             ErrorKind = "http_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrMalformedPayload ErrorKind = "malformed_payload"
)

// FetchError is the single error type produced by the backend client and the
// payload validator.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int // set for ErrHTTP only
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == ErrHTTP && e.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.Kind == ErrHTTP:
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with the given kind.
func NewFetchError(kind ErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// AsFetchError extracts a *FetchError from err. Errors that are not already
// classified are reported as network errors.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: ErrNetwork, Err: err}
}

// PollResult is the tagged outcome of one poll tick: exactly one of
// Updates (success) or Err (failure) is meaningful.
type PollResult struct {
	Updates []SiteUpdate
	Err     *FetchError
	At      time.Time
}

// Success builds a successful poll result.
func Success(updates []SiteUpdate, at time.Time) PollResult {
	return PollResult{Updates: updates, At: at}
}

// Failure builds a failed poll result.
func Failure(err *FetchError, at time.Time) PollResult {
	return PollResult{Err: err, At: at}
}

// OK reports whether the tick succeeded.
func (r PollResult) OK() bool { return r.Err == nil }
