// Package errs provides structured error types and helpers for the tracker
// services.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category from the tracker's taxonomy.
type Code string

const (
	// CodeTransient indicates a retryable I/O failure (stream probe timeout,
	// transient store error).
	CodeTransient Code = "transient"
	// CodeMalformed indicates an unparseable input payload.
	CodeMalformed Code = "malformed"
	// CodeNotFound indicates a missing resource or record.
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates a backing service that cannot be reached.
	CodeUnavailable Code = "unavailable"
	// CodeConfig indicates invalid or incomplete configuration.
	CodeConfig Code = "config"
)

// E captures structured error information produced across the tracker stack.
type E struct {
	Component string
	Code      Code
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = value
	}
}

// WithFields merges the provided metadata into the error envelope.
func WithFields(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			e.Fields[key] = v
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the taxonomy code from err, walking the unwrap chain.
// Errors outside the envelope report an empty code.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeTransient, CodeUnavailable:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err indicates a missing resource or record.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
