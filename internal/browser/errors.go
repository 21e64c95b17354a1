package browser

import (
	"errors"
	"fmt"
	"time"
)

// LaunchError means the browser process could not be started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("browser launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ElementTimeoutError means a selector did not match within its budget.
type ElementTimeoutError struct {
	Selector string
	Timeout  time.Duration
}

func (e *ElementTimeoutError) Error() string {
	return fmt.Sprintf("element %q did not appear within %s", e.Selector, e.Timeout)
}

var (
	// ErrStaleMatch is returned by Activate when the matched element was
	// re-rendered away between Find and Activate.
	ErrStaleMatch = errors.New("matched element is no longer in the document")
	// ErrNoTarget is returned by Activate when the required ancestor is missing.
	ErrNoTarget = errors.New("matched element has no clickable target")
	// ErrElementGone is returned when an element that was waited for has been
	// removed before a script could act on it.
	ErrElementGone = errors.New("element is no longer in the document")
	// ErrSessionClosed is returned by primitives used after Close.
	ErrSessionClosed = errors.New("browser session is closed")
)
