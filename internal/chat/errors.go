package chat

import (
	"errors"

	"internship-chat/internal/repositories"
)

// Kind classifies failures for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the only error shape that leaves this package.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden)
// holds for every forbidden error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
)

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the taxonomy kind of err; unknown errors are internal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// translate maps repository errors onto the taxonomy without exposing
// storage details in the message.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrEmptyBody):
		return newError(KindValidation, "message text must not be empty", err)
	case errors.Is(err, repositories.ErrSelfBinding):
		return newError(KindValidation, "counterpart cannot be the conversation initiator", err)
	case errors.Is(err, repositories.ErrConversationNotFound):
		return newError(KindNotFound, "conversation not found", err)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return newError(KindNotFound, "message not found", err)
	case errors.Is(err, repositories.ErrNotSender):
		return newError(KindForbidden, "only the sender may change this message", err)
	case errors.Is(err, repositories.ErrMessageDeleted):
		return newError(KindConflict, "message already deleted", err)
	default:
		return newError(KindInternal, "internal error", err)
	}
}
