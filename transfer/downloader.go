package transfer

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/ndlib/paperstore/chunk"
)

// BlobReader is the part of the chunk store used for downloads.
type BlobReader interface {
	GetBlobMetadata(id chunk.BlobID) (chunk.Blob, error)
	ReadChunk(id chunk.BlobID, index int) ([]byte, error)
}

var _ BlobReader = &chunk.Store{}

// Downloader streams finalized blobs out of a chunk store.
type Downloader struct {
	Chunks BlobReader
}

// Stream returns a Reader over the content of the blob. It returns an error
// matching chunk.ErrNotFound if the blob does not exist or is not finalized.
// No chunks are read until the Reader is used, and none after ctx is done.
func (d *Downloader) Stream(ctx context.Context, id chunk.BlobID) (*Reader, error) {
	b, err := d.Chunks.GetBlobMetadata(id)
	if err != nil {
		return nil, err
	}
	if !b.Complete {
		return nil, errors.Wrapf(chunk.ErrNotFound, "blob %s is not finalized", id)
	}
	n := 0
	if b.Length > 0 {
		n = int((b.Length + int64(b.ChunkSize) - 1) / int64(b.ChunkSize))
	}
	return &Reader{
		ctx:     ctx,
		src:     d.Chunks,
		blob:    b,
		nchunks: n,
	}, nil
}

// Reader yields a blob's chunks in order. It cannot be rewound. A Reader is
// not safe for concurrent use.
type Reader struct {
	ctx     context.Context
	src     BlobReader
	blob    chunk.Blob
	nchunks int    // chunks implied by the blob length
	next    int    // index of the next chunk to read
	pos     int64  // bytes handed out by Next so far
	buf     []byte // unread part of the current chunk, for Read
	err     error  // sticky
}

// Blob returns the metadata of the blob being read.
func (r *Reader) Blob() chunk.Blob {
	return r.blob
}

// Next returns the next chunk. It returns io.EOF after the last chunk. Once
// Next returns an error it keeps returning it.
func (r *Reader) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return nil, err
	}
	if r.next >= r.nchunks {
		r.err = io.EOF
		if r.pos != r.blob.Length {
			r.err = errors.Wrapf(chunk.ErrCorruptChunk, "blob %s gave %d of %d bytes", r.blob.ID, r.pos, r.blob.Length)
		}
		return nil, r.err
	}
	data, err := r.src.ReadChunk(r.blob.ID, r.next)
	if err != nil {
		r.err = err
		return nil, err
	}
	r.next++
	r.pos += int64(len(data))
	return data, nil
}

// Read lets the Reader be used as an io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		data, err := r.Next()
		if err != nil {
			return 0, err
		}
		r.buf = data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close detaches the Reader. No chunks are read afterwards. It is safe to
// call Close more than once.
func (r *Reader) Close() error {
	if r.err == nil || r.err == io.EOF {
		r.err = ErrClosed
	}
	r.buf = nil
	return nil
}
