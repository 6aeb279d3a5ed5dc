package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	// ErrConflict indicates the entry version moved between read and
	// write of a compare-and-swap update.
	ErrConflict = errors.New("version conflict")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// errNoCipher is returned when an encrypted entry is written or read
// without a configured cipher.
var errNoCipher = errors.New("no cipher configured")

// StorageError reports a failed backing-medium operation. Recoverable at
// the call site: the caller may retry or surface it to the user.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConflict returns true if the error is a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
