// Package store provides a simple, goroutine safe key-value interface. Values
// are streams instead of byte slices, so an object is written through an
// io.WriteCloser and read back through an io.ReaderAt.
//
// The chunk package layers blob metadata and chunk sequences over any Store.
// FileSystem is the usual production backend for a single host; S3 and Minio
// let several servers share the same objects. Memory is for tests.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
// Items are immutable once stored, but they may be deleted and then replaced
// with a new value. An item is durable once the writer returned by Create has
// been closed without error.
//
// Keys should not contain a forward slash '/' or whitespace, since the
// FileSystem store uses them as file names.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store.
type ROStore interface {
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")

	// ErrNotExist is returned (possibly wrapped) by Open for a missing key.
	ErrNotExist = errors.New("key does not exist")
)

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}

// ReadAll returns the entire contents of the given key.
func ReadAll(s ROStore, key string) ([]byte, error) {
	r, size, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, 0)
	if err == io.EOF && int64(n) == size {
		err = nil
	}
	return buf[:n], err
}

// WriteAll stores data under key, returning an error if the key exists
// or the data could not be made durable.
func WriteAll(s Store, key string, data []byte) error {
	w, err := s.Create(key)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return err
}
