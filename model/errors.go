package model

import "fmt"

// Kind distinguishes the error categories spec.md §7 assigns distinct
// propagation policies: validation is surfaced immediately as a 400,
// not-found on the query path collapses into an empty 200, store errors
// become a 500, and so on.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindStoreError
	KindTypeMismatch
	KindIdentifierTooLong
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStoreError:
		return "store_error"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindIdentifierTooLong:
		return "identifier_too_long"
	default:
		return "unknown"
	}
}

// Error is the typed error every model operation returns for an expected
// failure mode, as opposed to an unhandled internal error that maps to a
// bare 500. Source and Keys are populated only on validation errors raised
// against the HTTP surface, carrying the `{source, keys}` body spec.md §6/§7
// requires alongside every 400.
type Error struct {
	Kind    Kind
	Message string
	Source  string
	Keys    []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// NewValidationError builds a KindValidation error with no structured
// source/keys; callers with a known request-surface origin should prefer
// NewValidationErrorWithKeys.
func NewValidationError(msg string) *Error { return newError(KindValidation, msg) }

// NewValidationErrorWithKeys builds a KindValidation error carrying the
// `source` ("headers"|"query"|"payload") and the failing `keys` the HTTP
// layer echoes back verbatim in the 400 response body.
func NewValidationErrorWithKeys(source string, keys []string, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Source: source, Keys: keys}
}

// NewNotFoundError builds a KindNotFound error. On the query path this is
// not surfaced to the caller as an error at all; the planner rewrites it to
// an empty envelope per spec.md §7.
func NewNotFoundError(msg string) *Error { return newError(KindNotFound, msg) }

// NewStoreError wraps a document-store failure.
func NewStoreError(msg string) *Error { return newError(KindStoreError, msg) }

// NewTypeMismatchError builds a KindTypeMismatch error, returned when an
// aggregate method is incompatible with the attribute's numeric/string
// kind.
func NewTypeMismatchError(msg string) *Error { return newError(KindTypeMismatch, msg) }

// NewIdentifierTooLongError builds a KindIdentifierTooLong error, returned
// by the Namespace Resolver when path-mode naming would exceed the store's
// identifier-length limit and hash mode is not the configured fallback.
func NewIdentifierTooLongError(msg string) *Error { return newError(KindIdentifierTooLong, msg) }

// IsNotFound reports whether err is (or wraps) a KindNotFound Error.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsValidation reports whether err is (or wraps) a KindValidation Error.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

// IsTypeMismatch reports whether err is (or wraps) a KindTypeMismatch Error.
func IsTypeMismatch(err error) bool { return hasKind(err, KindTypeMismatch) }

// IsIdentifierTooLong reports whether err is (or wraps) a KindIdentifierTooLong Error.
func IsIdentifierTooLong(err error) bool { return hasKind(err, KindIdentifierTooLong) }

// ValidationDetails extracts the source/keys pair off a validation Error
// built with NewValidationErrorWithKeys. ok is false if err is not a
// validation Error or carries no structured source.
func ValidationDetails(err error) (source string, keys []string, ok bool) {
	for err != nil {
		if e, isErr := err.(*Error); isErr {
			if e.Kind != KindValidation || e.Source == "" {
				return "", nil, false
			}
			return e.Source, e.Keys, true
		}
		u, isUnwrap := err.(interface{ Unwrap() error })
		if !isUnwrap {
			return "", nil, false
		}
		err = u.Unwrap()
	}
	return "", nil, false
}

func hasKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == k
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
