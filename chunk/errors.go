package chunk

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the blob, or the requested chunk, does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidBlobState means the operation does not fit the blob's
	// current state, e.g. writing to a finalized blob or writing chunks
	// out of order.
	ErrInvalidBlobState = errors.New("invalid blob state")

	// ErrStorageUnavailable means the backing store failed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCorruptChunk means a chunk read back does not match what was
	// written.
	ErrCorruptChunk = errors.New("chunk failed verification")
)

// storageError keeps the backend error inspectable while also matching
// ErrStorageUnavailable.
type storageError struct {
	err error
}

func (e storageError) Error() string        { return "storage unavailable: " + e.err.Error() }
func (e storageError) Unwrap() error        { return e.err }
func (e storageError) Is(target error) bool { return target == ErrStorageUnavailable }

func unavailable(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(storageError{err}, format, args...)
}
