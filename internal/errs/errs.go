// Package errs defines the failure kinds a jointist run can end with.
//
// Every kind is fatal: nothing in the pipeline retries or degrades. Callers
// match kinds with errors.Is and read the offending option, variant, or
// parameter name from (*Error).Subject.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers every missing or malformed configuration input.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingTemplate means the named base template could not be found.
	ErrMissingTemplate = fmt.Errorf("%w: missing template", ErrConfiguration)
	// ErrMalformedOverride means an override is unparsable or names a path the
	// template does not define.
	ErrMalformedOverride = fmt.Errorf("%w: malformed override", ErrConfiguration)
	// ErrMissingOption means a component read an option that is not in the tree.
	ErrMissingOption = fmt.Errorf("%w: missing option", ErrConfiguration)

	ErrUnsupportedDatasetShape = errors.New("unsupported dataset shape")
	ErrUnrecognizedVariant     = errors.New("unrecognized variant")
	ErrCheckpointShapeMismatch = errors.New("checkpoint shape mismatch")
	ErrInferenceFailure        = errors.New("inference failure")
)

// Error is a failure of a given Kind about a named Subject.
type Error struct {
	Kind    error
	Subject string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Subject != "" {
		s += fmt.Sprintf(" %q", e.Subject)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind.
func New(kind error, subject, format string, args ...any) error {
	return &Error{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind around err. A nil err yields nil.
func Wrap(kind error, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// SubjectOf returns the Subject of the first *Error in err's chain.
func SubjectOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subject
	}
	return ""
}
