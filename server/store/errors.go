package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStorage matches every StorageError via errors.Is
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by getters when no record exists for the key
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record whose id is taken
	ErrAlreadyExists = errors.New("already exists")
	// ErrMatrixIDInUse is returned when a room claims a Matrix id owned by another room
	ErrMatrixIDInUse = errors.New("matrix id is already mapped to another room")
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store is closed")
)

// StorageError wraps a backend read, write or serialization failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Cause supports github.com/pkg/errors.Cause.
func (e *StorageError) Cause() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap returns err as a StorageError for op. nil stays nil and errors that already are
// StorageErrors are returned as-is.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// SchemaMismatchError is fatal at open: the database was written by an incompatible build.
type SchemaMismatchError struct {
	Found    byte
	Expected byte
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("database schema version %d does not match expected version %d", e.Found, e.Expected)
}
