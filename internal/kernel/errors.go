package kernel

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a primitive failure.
type Code uint8

const (
	CodeTimedOut Code = iota + 1
	CodeWouldBlock
	CodeFull
	CodeEmpty
	CodeAlreadyAtMax
	CodeWrongContext
	CodeAlreadyMember
	CodeNotAMember
	CodeAlreadyWaiting
	CodeDestroyed
	CodeCanceled
	CodeInvalidArgument
)

var codeNames = [...]string{
	CodeTimedOut:        "timed out",
	CodeWouldBlock:      "would block",
	CodeFull:            "full",
	CodeEmpty:           "empty",
	CodeAlreadyAtMax:    "already at max",
	CodeWrongContext:    "wrong context",
	CodeAlreadyMember:   "already a member",
	CodeNotAMember:      "not a member",
	CodeAlreadyWaiting:  "already waiting",
	CodeDestroyed:       "destroyed",
	CodeCanceled:        "canceled",
	CodeInvalidArgument: "invalid argument",
}

func (c Code) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error is returned by every primitive operation. Op and Object name the
// failing call; Err carries the context error for CodeCanceled.
type Error struct {
	Code   Code
	Op     string
	Object string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Object != "" {
			b.WriteString(" ")
			b.WriteString(e.Object)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code against the bare sentinels below. Full and Empty both
// also match ErrWouldBlock.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Object != "" {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code == CodeWouldBlock && (e.Code == CodeFull || e.Code == CodeEmpty)
}

var (
	ErrTimedOut        = &Error{Code: CodeTimedOut}
	ErrWouldBlock      = &Error{Code: CodeWouldBlock}
	ErrFull            = &Error{Code: CodeFull}
	ErrEmpty           = &Error{Code: CodeEmpty}
	ErrAlreadyAtMax    = &Error{Code: CodeAlreadyAtMax}
	ErrWrongContext    = &Error{Code: CodeWrongContext}
	ErrAlreadyMember   = &Error{Code: CodeAlreadyMember}
	ErrNotAMember      = &Error{Code: CodeNotAMember}
	ErrAlreadyWaiting  = &Error{Code: CodeAlreadyWaiting}
	ErrDestroyed       = &Error{Code: CodeDestroyed}
	ErrCanceled        = &Error{Code: CodeCanceled}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
)

// NewError builds an operation error.
func NewError(code Code, op, object string) *Error {
	return &Error{Code: code, Op: op, Object: object}
}

// Canceled wraps a context error.
func Canceled(op, object string, cause error) *Error {
	return &Error{Code: CodeCanceled, Op: op, Object: object, Err: cause}
}

// CodeOf extracts the Code of err, 0 when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if err == nil {
		return 0
	}
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
