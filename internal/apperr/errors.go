// Package apperr classifies data-layer failures so callers can branch on
// the kind of failure without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind string

const (
	KindConnection         Kind = "connection_error"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation_error"
	KindEmbedding          Kind = "embedding_error"
	KindIndex              Kind = "index_error"
	KindStorage            Kind = "storage_error"
	KindStaleSession       Kind = "stale_session"
)

// Sentinels usable with errors.Is.
var (
	ErrConnection         = &Error{Kind: KindConnection}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrEmbedding          = &Error{Kind: KindEmbedding}
	ErrIndex              = &Error{Kind: KindIndex}
	ErrStorage            = &Error{Kind: KindStorage}
	ErrStaleSession       = &Error{Kind: KindStaleSession}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels above work
// with errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err unless it already carries a kind, in which case the
// existing classification is kept. Returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return New(kind, op, err)
}

// Validation builds a validation failure from a message.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// KindOf reports the kind of err, or "" if it is unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
