/*
Package submission keeps the records describing each paper submission.

A record points at exactly one blob in the chunk store. The Writer refuses to
store a record whose blob is missing or not yet finalized, so every record can
always be served. The opposite does not hold: a blob may exist with no record,
if the record could not be written after the upload finished. Such blobs are
orphans and are found by comparing the chunk store listing against BlobIDs.
*/
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	perrors "github.com/pkg/errors"

	"github.com/ndlib/paperstore/chunk"
)

var (
	// ErrBlobNotFinal means the record names a blob that does not exist or
	// is not finalized.
	ErrBlobNotFinal = perrors.New("blob is not finalized")

	// ErrNotFound means there is no record with the given id.
	ErrNotFound = perrors.New("submission not found")

	// ErrInvalidField means a form field could not be parsed.
	ErrInvalidField = perrors.New("invalid field")
)

// Author describes one author. The fields are whatever the submitting client
// sent; no particular keys are required.
type Author map[string]interface{}

// Submission is a single paper submission.
type Submission struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	NoAuthors    int          `json:"noAuthors"`
	Authors      []Author     `json:"authors"`
	DocumentType string       `json:"documentType"`
	Abstract     string       `json:"abstract"`
	BlobID       chunk.BlobID `json:"pdfFileId"`
	Submitted    time.Time    `json:"submittedAt"`
}

// DB is the persistence used by a Writer.
type DB interface {
	// Insert adds a new record. s.ID is already assigned.
	Insert(ctx context.Context, s Submission) error
	// Lookup returns the record with the given id, or ErrNotFound.
	Lookup(ctx context.Context, id string) (Submission, error)
	// List returns every record, oldest first.
	List(ctx context.Context) ([]Submission, error)
	// BlobIDs returns the ids of every blob referenced by a record.
	BlobIDs(ctx context.Context) ([]chunk.BlobID, error)
	Close() error
}

// BlobInfo is how the Writer checks blob state.
type BlobInfo interface {
	GetBlobMetadata(id chunk.BlobID) (chunk.Blob, error)
}

// Writer stores submission records.
type Writer struct {
	DB    DB
	Blobs BlobInfo
}

// Record stores s as a new record and returns the new record's id. Any ID in s
// is ignored. A zero Submitted time is replaced by the current time.
func (w *Writer) Record(ctx context.Context, s Submission) (string, error) {
	if s.BlobID.IsZero() {
		return "", perrors.Wrap(ErrBlobNotFinal, "no blob given")
	}
	b, err := w.Blobs.GetBlobMetadata(s.BlobID)
	if errors.Is(err, chunk.ErrNotFound) {
		return "", perrors.Wrapf(ErrBlobNotFinal, "blob %s does not exist", s.BlobID)
	} else if err != nil {
		return "", err
	}
	if !b.Complete {
		return "", perrors.Wrapf(ErrBlobNotFinal, "blob %s", s.BlobID)
	}
	s.ID = uuid.New().String()
	if s.Submitted.IsZero() {
		s.Submitted = time.Now()
	}
	if s.Authors == nil {
		s.Authors = []Author{}
	}
	err = w.DB.Insert(ctx, s)
	if err != nil {
		return "", perrors.Wrapf(err, "recording blob %s", s.BlobID)
	}
	return s.ID, nil
}

// Lookup returns the record with the given id.
func (w *Writer) Lookup(ctx context.Context, id string) (Submission, error) {
	return w.DB.Lookup(ctx, id)
}

// List returns every record, oldest first.
func (w *Writer) List(ctx context.Context) ([]Submission, error) {
	return w.DB.List(ctx)
}

// BlobIDs returns the set of blobs referenced by some record.
func (w *Writer) BlobIDs(ctx context.Context) (map[chunk.BlobID]bool, error) {
	ids, err := w.DB.BlobIDs(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[chunk.BlobID]bool, len(ids))
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

// ParseAuthors decodes the authors form field, which must be a JSON array of
// objects.
func ParseAuthors(text string) ([]Author, error) {
	v, err := jason.NewValueFromBytes([]byte(text))
	if err != nil {
		return nil, perrors.Wrapf(ErrInvalidField, "authors: %s", err)
	}
	list, err := v.Array()
	if err != nil {
		return nil, perrors.Wrap(ErrInvalidField, "authors is not a list")
	}
	result := make([]Author, 0, len(list))
	for i, item := range list {
		if _, err := item.Object(); err != nil {
			return nil, perrors.Wrapf(ErrInvalidField, "author %d is not an object", i)
		}
		raw, err := item.Marshal()
		if err != nil {
			return nil, perrors.Wrapf(ErrInvalidField, "author %d: %s", i, err)
		}
		var author Author
		if err := json.Unmarshal(raw, &author); err != nil {
			return nil, perrors.Wrapf(ErrInvalidField, "author %d: %s", i, err)
		}
		result = append(result, author)
	}
	return result, nil
}

// ParseAuthorCount decodes the noAuthors form field, a non-negative integer.
func ParseAuthorCount(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 {
		return 0, perrors.Wrapf(ErrInvalidField, "noAuthors %q", text)
	}
	return n, nil
}

// Orphans returns the blobs in list which no record references.
func (w *Writer) Orphans(ctx context.Context, list []chunk.Blob) ([]chunk.Blob, error) {
	used, err := w.BlobIDs(ctx)
	if err != nil {
		return nil, err
	}
	var result []chunk.Blob
	for _, b := range list {
		if !used[b.ID] {
			result = append(result, b)
		}
	}
	return result, nil
}
