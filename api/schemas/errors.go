package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies harness failures. Codes are stable strings so that
// reports and exit handling can switch on them.
type ErrorCode string

const (
	// ErrCodeEngineUnavailable means the automation engine could not be started.
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	// ErrCodeLaunch means the browser (or a context or page in it) could not be created.
	ErrCodeLaunch ErrorCode = "LAUNCH_ERROR"
	// ErrCodeNavigationTimeout means a navigation did not reach its wait condition in time.
	ErrCodeNavigationTimeout ErrorCode = "NAVIGATION_TIMEOUT"
	// ErrCodeElementNotFound means a locator matched nothing before the step timed out.
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	// ErrCodeElementTimeout means the element existed but never became actionable.
	ErrCodeElementTimeout ErrorCode = "ELEMENT_TIMEOUT"
	// ErrCodeAssertionFailed means one or more visibility assertions did not hold.
	ErrCodeAssertionFailed ErrorCode = "ASSERTION_FAILED"
	// ErrCodeInvalidScenario means the scenario definition was rejected before running.
	ErrCodeInvalidScenario ErrorCode = "INVALID_SCENARIO"
)

// Error lets a code act as a sentinel for errors.Is.
func (c ErrorCode) Error() string { return string(c) }

// ErrClosed is returned by engines for operations on a page, context or
// browser that has already been closed.
var ErrClosed = errors.New("target closed")

// HarnessError is the typed error carried through a run.
type HarnessError struct {
	Code     ErrorCode
	Op       string
	Locator  string
	Expected string
	Actual   string
	Timeout  time.Duration
	Err      error
}

// NewError wraps err under code for operation op.
func NewError(code ErrorCode, op string, err error) *HarnessError {
	return &HarnessError{Code: code, Op: op, Err: err}
}

func (e *HarnessError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Locator != "" {
		fmt.Fprintf(&b, " %s", e.Locator)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, " (expected %s, got %s)", e.Expected, e.Actual)
	}
	if e.Timeout > 0 {
		fmt.Fprintf(&b, " after %s", e.Timeout)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *HarnessError) Unwrap() error { return e.Err }

// Is matches a bare ErrorCode target against the error's code.
func (e *HarnessError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

// CodeOf extracts the outermost HarnessError code from err, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var he *HarnessError
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// EnsureCode returns err unchanged when it already carries a code, and wraps
// it under code otherwise.
func EnsureCode(err error, code ErrorCode, op string) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return NewError(code, op, err)
}
