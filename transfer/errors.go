package transfer

import (
	"github.com/pkg/errors"
)

var (
	// ErrUploadFailed means the upload was abandoned part way through. The
	// cause is available through errors.Is / errors.As.
	ErrUploadFailed = errors.New("upload failed")

	// ErrPayloadTooLarge means the stream was longer than the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedMediaType means the declared content type is not
	// accepted.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrClosed is returned by a Reader after Close.
	ErrClosed = errors.New("reader closed")
)

type uploadError struct {
	err error
}

func (e uploadError) Error() string        { return "upload failed: " + e.err.Error() }
func (e uploadError) Unwrap() error        { return e.err }
func (e uploadError) Is(target error) bool { return target == ErrUploadFailed }

func failed(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(uploadError{err}, format, args...)
}
