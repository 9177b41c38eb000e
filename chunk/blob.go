package chunk

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultChunkSize is used when a blob is created with a chunk size of zero.
// It matches the GridFS default of 255 KiB.
const DefaultChunkSize = 255 * 1024

// BlobID identifies a blob. It wraps a random UUID and is never reused.
// The zero value is not a valid identifier.
type BlobID uuid.UUID

// NewBlobID returns a new random identifier.
func NewBlobID() BlobID {
	return BlobID(uuid.New())
}

// ParseBlobID decodes the string form of an identifier.
func ParseBlobID(s string) (BlobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return BlobID{}, errors.Wrapf(ErrNotFound, "malformed blob id %q", s)
	}
	return BlobID(u), nil
}

func (id BlobID) String() string {
	return uuid.UUID(id).String()
}

// IsZero is true for the zero value.
func (id BlobID) IsZero() bool {
	return id == BlobID{}
}

// MarshalText gives the canonical string form.
func (id BlobID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical string form.
func (id *BlobID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = BlobID(u)
	return nil
}

// Blob is the metadata kept on each blob. Length, MD5 and SHA256 are only
// meaningful once Complete is true.
type Blob struct {
	ID          BlobID    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Length      int64     `json:"length"`
	ChunkSize   int       `json:"chunkSize"`
	NChunks     int       `json:"nChunks"`
	Codec       Codec     `json:"codec"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Complete    bool      `json:"complete"`
	MD5         string    `json:"md5,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
}

// Hashes are checksums of a blob's full content, recorded when the blob is
// finalized. Either may be empty.
type Hashes struct {
	MD5    string
	SHA256 string
}
