// Package errors defines the error kinds surfaced at the boundary of every
// disk image operation in this repository.
//
// Every kind is a sentinel satisfying the standard `error` interface, the
// same way the teacher repo's DiskoError values do. Callers compare against
// a specific kind with errors.Is; operations that want a custom message wrap
// a kind with WithMessage rather than inventing a new error type.
package errors

import (
	"fmt"
)

// Kind is a tag-level error identifying which of the documented failure
// categories an operation hit. It is not a type hierarchy: every Kind is a
// leaf, comparable with ==, and satisfies error directly.
type Kind string

const (
	// ErrNotFound means a file, directory, or attribute doesn't exist.
	ErrNotFound = Kind("no such file or directory")
	// ErrAlreadyExists means a create-if-missing operation collided with an
	// existing entry.
	ErrAlreadyExists = Kind("file exists")
	// ErrNotADirectory means a path component that must be a directory is a
	// file (or other non-directory object) instead.
	ErrNotADirectory = Kind("not a directory")
	// ErrIsADirectory means a file-only operation was pointed at a directory.
	ErrIsADirectory = Kind("is a directory")
	// ErrDirectoryNotEmpty means DeleteDirectory was called on a directory
	// that contains entries other than "." and "..".
	ErrDirectoryNotEmpty = Kind("directory not empty")
	// ErrNoSpace means cluster/run allocation failed, or a fixed-size region
	// (the FAT12/16 root directory) is full.
	ErrNoSpace = Kind("no space left on device")
	// ErrInvalidPath means a path is empty, a component is too long, or a
	// component contains a character the file system forbids.
	ErrInvalidPath = Kind("invalid path")
	// ErrInvalidName means a name failed normalization (8.3 short-name
	// encoding, NTFS $UpCase collation, and so on).
	ErrInvalidName = Kind("invalid name")
	// ErrReadOnly means a mutating call was made on a read-only file system,
	// or one mounted without write permission.
	ErrReadOnly = Kind("read-only file system")
	// ErrCorrupt means on-disk structures failed an integrity check: a
	// signature mismatch, a bad update-sequence array, a cyclic cluster
	// chain, or a FAT entry pointing outside the volume.
	ErrCorrupt = Kind("on-disk structure is corrupt")
	// ErrUnsupportedOperation means the file system variant doesn't support
	// the requested mutation, e.g. any write against an ntfs.FileSystem.
	ErrUnsupportedOperation = Kind("operation not supported by this file system")
	// ErrIOError means the backing stream itself failed.
	ErrIOError = Kind("input/output error")
)

// errEndOfChain is shorthand used by fat.Table while walking a cluster
// chain. Per the error handling design it must never surface from an
// exported FileSystem method; fat.Table catches it internally and turns it
// into either a nil error or ErrCorrupt.
type errEndOfChain struct{}

func (errEndOfChain) Error() string { return "end of cluster chain" }

// EndOfChain is a sentinel used between fat's allocation-table walker and
// its callers within the same package tree. It must be consumed before it
// reaches a FileSystem method's return value.
var EndOfChain error = errEndOfChain{}

func (k Kind) Error() string {
	return string(k)
}

// Is lets errors.Is(err, SomeOtherKind) work when err wraps Kind via
// WithMessage/Wrap: two DetailedErrors unwrap down to their Kind, and Kind
// compares with plain ==.
func (k Kind) Is(target error) bool {
	other, ok := target.(Kind)
	return ok && other == k
}

// DetailedError pairs a Kind with a human-readable message while preserving
// errors.Is compatibility with both the Kind and, if present, the
// underlying cause it was built from.
type DetailedError struct {
	kind    Kind
	message string
	cause   error
}

func (e *DetailedError) Error() string {
	return e.message
}

// Is reports whether target is the Kind this error was built from, so that
// errors.Is(err, errors.ErrNotFound) works regardless of the message or
// cause attached.
func (e *DetailedError) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.kind
}

// Unwrap exposes the wrapped cause, if any, so errors.Is/errors.As can see
// through to it.
func (e *DetailedError) Unwrap() error {
	return e.cause
}

// WithMessage builds a DetailedError carrying a custom message, e.g.
//
//	return nil, errors.ErrNotFound.WithMessage(fmt.Sprintf("%q", path))
func (k Kind) WithMessage(message string) *DetailedError {
	return &DetailedError{
		kind:    k,
		message: fmt.Sprintf("%s: %s", string(k), message),
	}
}

// Wrap builds a DetailedError from an underlying error, preserving both the
// Kind (for errors.Is) and the original error as its cause.
func (k Kind) Wrap(err error) *DetailedError {
	return &DetailedError{
		kind:    k,
		message: fmt.Sprintf("%s: %s", string(k), err.Error()),
		cause:   err,
	}
}
