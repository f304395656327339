package fserr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error conditions understood by the
// dispatch layer. The zero value is not a valid kind.
type Kind int

const (
	NotFound Kind = iota + 1
	AlreadyExists
	AccessDenied
	InvalidHandle
	InvalidName
	NameTooLong
	NotADirectory
	IsADirectory
	DirectoryNotEmpty
	EntryTooLarge
	InvalidSecurityDescriptor
	CreationFailed
	StartFailed
	MountFailed
	InvalidLifecycleState
	Unsupported
	Internal
)

var kindNames = map[Kind]string{
	NotFound:                  "not found",
	AlreadyExists:             "already exists",
	AccessDenied:              "access denied",
	InvalidHandle:             "invalid handle",
	InvalidName:               "invalid name",
	NameTooLong:               "name too long",
	NotADirectory:             "not a directory",
	IsADirectory:              "is a directory",
	DirectoryNotEmpty:         "directory not empty",
	EntryTooLarge:             "entry too large",
	InvalidSecurityDescriptor: "invalid security descriptor",
	CreationFailed:            "creation failed",
	StartFailed:               "start failed",
	MountFailed:               "mount failed",
	InvalidLifecycleState:     "invalid lifecycle state",
	Unsupported:               "unsupported",
	Internal:                  "internal error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a kind together with an optional message and
// wrapped cause. It is comparable through errors.Is against a
// bare kind sentinel created by New(kind, "").
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return e.msg + ": " + e.cause.Error()
	case e.msg != "":
		return e.msg
	case e.cause != nil:
		return e.kind.String() + ": " + e.cause.Error()
	default:
		return e.kind.String()
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality, so errors.Is(err, fserr.New(k, ""))
// and errors.Is(err, k) both match any error of kind k.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return other.kind == e.kind
	}
	if k, ok := target.(Kind); ok {
		return k == e.kind
	}
	return false
}

// Kind also implements error so that it may be returned
// directly when no extra context is useful.
func (k Kind) Error() string { return k.String() }

// New builds an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause. A nil cause
// yields nil.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, cause: cause}
}

// KindOf extracts the kind from an error chain. Errors that do
// not carry a kind classify as Internal; nil classifies as 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
