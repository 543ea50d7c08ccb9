// Package errs defines the error taxonomy surfaced to command callers.
// Per-item failures are recorded and the surrounding walk continues; only
// fatal kinds abort a command.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit codes and machine-readable output.
type Kind string

const (
	NoProjectFound       Kind = "no_project_found"
	AlreadyInitialized   Kind = "already_initialized"
	UnsupportedLanguage  Kind = "unsupported_language"
	ParseError           Kind = "parse_error"
	IoError              Kind = "io_error"
	ModelHostUnreachable Kind = "model_host_unreachable"
	ModelNotFound        Kind = "model_not_found"
	ModelError           Kind = "model_error"
	IndexEmpty           Kind = "index_empty"
	SchemaIncompatible   Kind = "schema_incompatible"
	InvalidTemplate      Kind = "invalid_template"
	ContextOverflow      Kind = "context_overflow"
)

// Error carries a kind plus remediation hints for structured output.
type Error struct {
	Kind      Kind
	Message   string
	Remedy    string
	NextSteps []string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a taxonomy error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithRemedy attaches a remediation hint.
func (e *Error) WithRemedy(remedy string, nextSteps ...string) *Error {
	e.Remedy = remedy
	e.NextSteps = nextSteps
	return e
}

// KindOf returns the taxonomy kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal reports whether an error must abort the whole command rather
// than fail a single item.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case NoProjectFound, SchemaIncompatible, InvalidTemplate:
		return true
	}
	return false
}
