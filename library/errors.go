package library

import (
	"errors"
	"fmt"
)

// Kind classifies an error for reporting purposes.
type Kind int

const (
	KindUpstream Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	default:
		return "upstream"
	}
}

// Error is a domain error. Two errors match under errors.Is when their codes
// are equal, so copies carrying extra detail still match the sentinel.
type Error struct {
	Kind   Kind
	Code   string
	Msg    string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Msg + ": " + e.Detail
	}
	return e.Msg
}

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e with a formatted detail attached.
func (e *Error) With(format string, args ...any) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

var (
	ErrInvalidPhone    = &Error{Kind: KindValidation, Code: "invalid_phone", Msg: "invalid phone number"}
	ErrEmptyName       = &Error{Kind: KindValidation, Code: "empty_name", Msg: "name is empty"}
	ErrMalformedEntry  = &Error{Kind: KindValidation, Code: "malformed_entry", Msg: "malformed book entry"}
	ErrMissingArgument = &Error{Kind: KindValidation, Code: "missing_argument", Msg: "missing argument"}
	ErrInvalidBookID   = &Error{Kind: KindValidation, Code: "invalid_book_id", Msg: "invalid book id"}

	ErrNotRegistered       = &Error{Kind: KindNotFound, Code: "not_registered", Msg: "user is not registered"}
	ErrBookNotFound        = &Error{Kind: KindNotFound, Code: "book_not_found", Msg: "book not found"}
	ErrReservationNotFound = &Error{Kind: KindNotFound, Code: "reservation_not_found", Msg: "reservation not found"}
	ErrCorruptProfile      = &Error{Kind: KindNotFound, Code: "corrupt_profile", Msg: "profile is missing phone material"}

	ErrBookUnavailable = &Error{Kind: KindConflict, Code: "book_unavailable", Msg: "book is not available"}
	ErrDuplicateBookID = &Error{Kind: KindConflict, Code: "duplicate_book_id", Msg: "book id already exists"}
	ErrDuplicatePhone  = &Error{Kind: KindConflict, Code: "duplicate_phone", Msg: "phone number already registered"}
	ErrAlreadyExists   = &Error{Kind: KindConflict, Code: "user_exists", Msg: "user already registered"}
	ErrBookReserved    = &Error{Kind: KindConflict, Code: "book_reserved", Msg: "book has an active reservation"}

	ErrUnauthorized = &Error{Kind: KindAuthorization, Code: "unauthorized", Msg: "permission denied"}
)

// KindOf returns the kind of err. Anything that is not a *Error is upstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}
