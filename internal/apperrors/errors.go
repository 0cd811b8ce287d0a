// Package apperrors provides structured error handling for the indexing
// and search engine. Every user-visible failure is returned as a *Error
// carrying a taxonomy Kind, a human-readable message, and an optional cause.
package apperrors

import "fmt"

// Kind classifies an error into the taxonomy from the error handling design.
type Kind string

const (
	// KindConfig is invalid or incompatible configuration (e.g. model not
	// found, dimension mismatch without force).
	KindConfig Kind = "CONFIG"
	// KindBackend is an embedding backend init/operational failure after retries.
	KindBackend Kind = "BACKEND"
	// KindTransport is a network/timeout failure the caller chose not to retry.
	KindTransport Kind = "TRANSPORT"
	// KindQuota is a terminal 429/quota-exhausted failure, distinct from
	// transient rate limiting.
	KindQuota Kind = "QUOTA"
	// KindParse is a per-file recoverable chunker parse failure.
	KindParse Kind = "PARSE"
	// KindStorage is a vector-store read/write failure.
	KindStorage Kind = "STORAGE"
	// KindCorruption is a manifest/store divergence, recoverable by rebuild.
	KindCorruption Kind = "CORRUPTION"
	// KindNotIndexed is a query issued before any index exists.
	KindNotIndexed Kind = "NOT_INDEXED"
	// KindBusy is a concurrent indexing attempt.
	KindBusy Kind = "BUSY"
	// KindValidation is malformed caller input.
	KindValidation Kind = "VALIDATION"
)

// Error is the structured error type returned by every package in this module.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind so errors.Is(err, apperrors.New(KindBusy, ...)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches an actionable suggestion for the caller.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// defaultRetryable reports whether a Kind is retryable by default.
func defaultRetryable(k Kind) bool {
	switch k {
	case KindTransport, KindStorage:
		return true
	default:
		return false
	}
}

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable(kind)}
}

// Wrap creates an *Error of the given kind from an existing error.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err, Retryable: defaultRetryable(kind)}
}

// Wrapf creates an *Error of the given kind with a formatted message and cause.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err, Retryable: defaultRetryable(kind)}
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if ok := asError(err, &ae); ok {
		return ae.Kind
	}
	return ""
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if ok := asError(err, &ae); ok {
		return ae.Retryable
	}
	return false
}

// asError is a small errors.As shim kept local to avoid importing errors
// just for this one call site pattern used throughout the package.
func asError(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
