package novel

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a chapter number that has never been saved.
var ErrNotFound = errors.New("chapter not found")

// ErrCycleDetected signals a frontier URL that is already in the visited set.
// It is a termination condition for the run, not a failure: the worker stops
// without appending to the error log.
var ErrCycleDetected = errors.New("frontier url already visited")

// FetchError covers network failures, timeouts, and non-2xx responses from
// the source site.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ContentNotFoundError means the page was retrieved but the fixed content
// selector matched nothing: the layout changed or the URL is not a chapter.
type ContentNotFoundError struct {
	URL      string
	Selector string
}

func (e *ContentNotFoundError) Error() string {
	return fmt.Sprintf("no content at %s (selector %q)", e.URL, e.Selector)
}

// TranslationError covers a failed model call or a response with no content.
type TranslationError struct {
	Err error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate: %v", e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// StorageError covers persistence failures in the chapter store or the state
// documents.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
