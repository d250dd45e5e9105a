// Package apperr is the error taxonomy shown to users of the messaging client.
// Every failure degrades to a visible message; none is fatal to the session.
package apperr

import (
	"github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	NetworkFailure
	PermissionDenied
	DuplicateRequest
	InvalidResponse
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network failure"
	case PermissionDenied:
		return "permission denied"
	case DuplicateRequest:
		return "duplicate request"
	case InvalidResponse:
		return "invalid response"
	}
	return "unknown"
}

// generic texts used when the backend gave none
var defaultMessages = map[Kind]string{
	NetworkFailure:   "Something went wrong. Please try again.",
	PermissionDenied: "Permission denied",
	DuplicateRequest: "Request already sent",
	InvalidResponse:  "Unexpected response from server",
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.UserMessage()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// UserMessage is the toast text: the backend's own wording when available.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if msg, ok := defaultMessages[e.Kind]; ok {
		return msg
	}
	return "Something went wrong"
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Cause() error { return e.Err }

// KindOf finds the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing text for any error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return defaultMessages[NetworkFailure]
}
