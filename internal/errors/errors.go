// Package errors provides the structured error type and retry policy used
// across the indexing engine. An IndexError pairs a stable code with a
// human message, an optional cause, and free-form detail fields, so
// callers can branch on the code while logs keep the full story.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// IndexError is a structured error with a stable code.
type IndexError struct {
	// Code identifies the failure class (see codes.go).
	Code string

	// Message describes this specific failure.
	Message string

	// Cause is the wrapped underlying error, if any.
	Cause error

	// Details carries extra key/value context for logs.
	Details map[string]string

	// Suggestion, when set, tells the operator how to recover.
	Suggestion string
}

func (e *IndexError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Details[k])
		}
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is matches two IndexErrors by code, so stdlib errors.Is works against a
// bare &IndexError{Code: ...} sentinel.
func (e *IndexError) Is(target error) bool {
	t, ok := target.(*IndexError)
	return ok && t.Code == e.Code
}

// WithDetail attaches one key/value pair and returns the error for
// chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a recovery hint.
func (e *IndexError) WithSuggestion(s string) *IndexError {
	e.Suggestion = s
	return e
}

// New creates an IndexError wrapping cause (which may be nil).
func New(code, message string, cause error) *IndexError {
	return &IndexError{Code: code, Message: message, Cause: cause}
}

// Wrap creates an IndexError whose message is taken from err.
func Wrap(code string, err error) *IndexError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &IndexError{Code: code, Message: msg, Cause: err}
}

// CodeOf returns err's IndexError code, or "" when err carries none
// anywhere in its chain.
func CodeOf(err error) string {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
