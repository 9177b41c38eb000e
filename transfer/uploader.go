/*
Package transfer moves byte streams in and out of the chunk store.

An Uploader cuts an inbound stream into chunk sized pieces and writes them in
order, finalizing the blob once the stream ends. A Downloader hands back a
finalized blob one chunk at a time. Neither buffers more than one chunk.
*/
package transfer

import (
	"context"
	"io"
	"log"
	"mime"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/util"
)

const (
	// DefaultMaxSize is the upload limit used when MaxSize is zero.
	DefaultMaxSize = 20 << 20

	// PDFType is the only content type accepted for upload.
	PDFType = "application/pdf"
)

// BlobWriter is the part of the chunk store used for uploads.
type BlobWriter interface {
	CreateBlob(name, contentType string, chunkSize int) (chunk.BlobID, error)
	WriteChunk(id chunk.BlobID, index int, data []byte) error
	FinalizeBlobWithHashes(id chunk.BlobID, length int64, h chunk.Hashes) error
}

var _ BlobWriter = &chunk.Store{}

// Uploader ingests streams into a chunk store. An Uploader may be used by
// many goroutines at once; each call to Ingest works on its own blob.
type Uploader struct {
	Chunks    BlobWriter
	ChunkSize int   // zero means chunk.DefaultChunkSize
	MaxSize   int64 // zero means DefaultMaxSize
}

// IsPDF is true if contentType names a PDF. Parameters and case are ignored.
func IsPDF(contentType string) bool {
	mediatype, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.ToLower(mediatype) == PDFType
}

// Ingest copies r into a new blob and finalizes it. The blob id is returned
// only when the blob is finalized and err is nil.
//
// A content type other than PDF is rejected before a blob is created. Any
// failure after the blob was created returns the id of the abandoned blob
// along with the error so the caller can report or remove it. Its chunks are
// left in the store. A read error, a chunk write error or ctx finishing give
// an error matching ErrUploadFailed. A stream longer than MaxSize gives
// ErrPayloadTooLarge, and the chunk crossing the limit is not written.
func (u *Uploader) Ingest(ctx context.Context, r io.Reader, name, contentType string) (chunk.BlobID, error) {
	var zero chunk.BlobID
	if !IsPDF(contentType) {
		return zero, errors.Wrapf(ErrUnsupportedMediaType, "%q", contentType)
	}
	chunksize := u.ChunkSize
	if chunksize <= 0 {
		chunksize = chunk.DefaultChunkSize
	}
	maxsize := u.MaxSize
	if maxsize <= 0 {
		maxsize = DefaultMaxSize
	}

	id, err := u.Chunks.CreateBlob(name, contentType, chunksize)
	if err != nil {
		return zero, failed(err, "creating blob for %q", name)
	}

	buf := make([]byte, chunksize)
	hw := util.NewHashWriterPlain()
	var total int64
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return id, abandon(id, failed(err, "blob %s", id))
		}
		n, rerr := io.ReadFull(r, buf)
		if rerr == io.EOF {
			break
		}
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return id, abandon(id, failed(rerr, "reading blob %s chunk %d", id, index))
		}
		if total+int64(n) > maxsize {
			return id, abandon(id, errors.Wrapf(ErrPayloadTooLarge, "blob %s is over %d bytes", id, maxsize))
		}
		if err := u.Chunks.WriteChunk(id, index, buf[:n]); err != nil {
			return id, abandon(id, failed(err, "blob %s", id))
		}
		hw.Write(buf[:n])
		total += int64(n)
		if rerr == io.ErrUnexpectedEOF {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return id, abandon(id, failed(err, "blob %s", id))
	}
	err = u.Chunks.FinalizeBlobWithHashes(id, total, chunk.Hashes{
		MD5:    hw.MD5(),
		SHA256: hw.SHA256(),
	})
	if err != nil {
		return id, abandon(id, failed(err, "finalizing blob %s", id))
	}
	return id, nil
}

func abandon(id chunk.BlobID, err error) error {
	log.Printf("transfer: abandoned blob %s: %s", id, err)
	return err
}
