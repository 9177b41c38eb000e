/*
Package chunk stores blobs as a sequence of fixed size chunks on top of a
store.Store. A blob is created empty, receives its chunks in order starting
at index zero, and is then finalized. Once finalized a blob never changes;
it can only be read or deleted.

Blob metadata and chunk payloads share one underlying store and are told
apart by key prefix. Metadata is kept as JSON so the in-memory index can be
rebuilt by Load after a restart, and so several servers can share a store.
*/
package chunk

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"
	perrors "github.com/pkg/errors"

	"github.com/ndlib/paperstore/store"
)

const (
	// metadata keys start with "md" and chunk payloads start with "ch".
	metaKeyPrefix  = "md"
	chunkKeyPrefix = "ch"
)

// Options adjusts a Store.
type Options struct {
	// Codec is applied to chunks of blobs created by this store. Blobs
	// remember their codec, so changing it does not affect existing blobs.
	Codec Codec
}

// Store keeps blobs and their chunks. It is safe for concurrent use, but the
// chunks of any one blob must be written in order by a single goroutine.
type Store struct {
	meta   JSONStore   // for the blob metadata
	cstore store.Store // for the chunk payloads
	codec  Codec

	loads singleflight.Group // metadata loads on index misses, keyed by blob id

	m     sync.RWMutex // protects blobs
	blobs map[BlobID]*blob
}

// the internal record tracking a blob.
//
// Changes to a blob are made by the holder of w. The holder builds the new
// record, saves it, and only then swaps it in under m, so readers never
// wait on the underlying store.
type blob struct {
	w       sync.Mutex   // held while the blob is being changed
	m       sync.RWMutex // protects record
	deleted bool         // protected by w
	record
}

// record is what is serialized for each blob.
type record struct {
	Blob
	Chunks []chunkInfo `json:"chunks"`
}

type chunkInfo struct {
	Size   int    `json:"size"`   // payload size before encoding
	Stored int    `json:"stored"` // bytes held in the store
	Digest string `json:"blake3"` // digest of the payload before encoding
}

// New creates a chunk store wrapping s. Call Load() before using the store
// if s may already hold blobs.
func New(s store.Store, opts Options) *Store {
	codec := opts.Codec
	if codec == "" {
		codec = CodecNone
	}
	return &Store{
		meta:   NewJSON(store.NewWithPrefix(s, metaKeyPrefix)),
		cstore: store.NewWithPrefix(s, chunkKeyPrefix),
		codec:  codec,
		blobs:  make(map[BlobID]*blob),
	}
}

// Load reads every blob record kept in the underlying store into memory.
// Records which cannot be decoded are logged and skipped.
func (s *Store) Load() error {
	keys, err := s.meta.ListPrefix("")
	if err != nil {
		return unavailable(err, "listing blobs")
	}
	for _, key := range keys {
		b, err := s.loadRecord(key)
		if err != nil {
			log.Println("chunk: skipping record", key, err)
			continue
		}
		s.m.Lock()
		if _, ok := s.blobs[b.ID]; !ok {
			s.blobs[b.ID] = b
		}
		s.m.Unlock()
	}
	return nil
}

func (s *Store) loadRecord(key string) (*blob, error) {
	b := new(blob)
	err := s.meta.Open(key, b)
	if err != nil {
		return nil, err
	}
	if b.ID.String() != key {
		return nil, fmt.Errorf("record %s holds blob %s", key, b.ID)
	}
	b.NChunks = len(b.Chunks)
	return b, nil
}

func chunkKey(id BlobID, index int) string {
	return fmt.Sprintf("%s+%06d", id, index)
}

// CreateBlob allocates a new, empty blob. A chunkSize of zero or less uses
// DefaultChunkSize.
func (s *Store) CreateBlob(name, contentType string, chunkSize int) (BlobID, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	now := time.Now()
	b := &blob{record: record{
		Blob: Blob{
			ID:          NewBlobID(),
			Name:        name,
			ContentType: contentType,
			ChunkSize:   chunkSize,
			Codec:       s.codec,
			Created:     now,
			Modified:    now,
		},
	}}
	if err := b.record.save(s.meta); err != nil {
		return BlobID{}, unavailable(err, "creating blob %s", b.ID)
	}
	s.m.Lock()
	s.blobs[b.ID] = b
	s.m.Unlock()
	return b.ID, nil
}

// lookup finds the record for id. Records not in memory are read from the
// underlying store, since another process may have written them. Only
// complete blobs found that way are kept in the index.
func (s *Store) lookup(id BlobID) (*blob, error) {
	s.m.RLock()
	b := s.blobs[id]
	s.m.RUnlock()
	if b != nil {
		return b, nil
	}
	v, err := s.loads.Do(id.String(), func() (interface{}, error) {
		return s.loadRecord(id.String())
	})
	if errors.Is(err, store.ErrNotExist) {
		return nil, perrors.Wrapf(ErrNotFound, "blob %s", id)
	} else if err != nil {
		return nil, unavailable(err, "loading blob %s", id)
	}
	b = v.(*blob)
	if b.Complete {
		s.m.Lock()
		if existing, ok := s.blobs[id]; ok {
			b = existing
		} else {
			s.blobs[id] = b
		}
		s.m.Unlock()
	}
	return b, nil
}

// WriteChunk stores one chunk of the blob. Chunks must be written in order
// starting from index 0, every chunk but the last must be exactly the blob's
// chunk size, and none may be empty. The chunk is durable when WriteChunk
// returns nil.
func (s *Store) WriteChunk(id BlobID, index int, data []byte) error {
	b, err := s.lookup(id)
	if err != nil {
		return err
	}
	b.w.Lock()
	defer b.w.Unlock()
	if b.deleted {
		return perrors.Wrapf(ErrNotFound, "blob %s", id)
	}
	r := b.snapshot()
	switch {
	case r.Complete:
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s is finalized", id)
	case index != len(r.Chunks):
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s expects chunk %d, got %d", id, len(r.Chunks), index)
	case len(data) == 0:
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s chunk %d is empty", id, index)
	case len(data) > r.ChunkSize:
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s chunk %d has %d bytes, limit %d", id, index, len(data), r.ChunkSize)
	case index > 0 && r.Chunks[index-1].Size < r.ChunkSize:
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s already received its short final chunk", id)
	}

	stored, err := r.Codec.encode(data)
	if err != nil {
		return unavailable(err, "encoding blob %s chunk %d", id, index)
	}
	key := chunkKey(id, index)
	err = store.WriteAll(s.cstore, key, stored)
	if errors.Is(err, store.ErrKeyExists) {
		// left over from an attempt whose metadata was never saved
		s.cstore.Delete(key)
		err = store.WriteAll(s.cstore, key, stored)
	}
	if err != nil {
		return unavailable(err, "writing blob %s chunk %d", id, index)
	}
	r.Chunks = append(r.Chunks, chunkInfo{
		Size:   len(data),
		Stored: len(stored),
		Digest: digest(data),
	})
	r.NChunks = len(r.Chunks)
	r.Modified = time.Now()
	if err := r.save(s.meta); err != nil {
		return unavailable(err, "recording blob %s chunk %d", id, index)
	}
	b.replace(r)
	return nil
}

// FinalizeBlob marks the blob complete with the given total length. The
// length must equal the sum of the chunks written. No chunks may be written
// afterwards.
func (s *Store) FinalizeBlob(id BlobID, length int64) error {
	return s.FinalizeBlobWithHashes(id, length, Hashes{})
}

// FinalizeBlobWithHashes is FinalizeBlob which also records checksums of the
// full content.
func (s *Store) FinalizeBlobWithHashes(id BlobID, length int64, h Hashes) error {
	b, err := s.lookup(id)
	if err != nil {
		return err
	}
	b.w.Lock()
	defer b.w.Unlock()
	if b.deleted {
		return perrors.Wrapf(ErrNotFound, "blob %s", id)
	}
	r := b.snapshot()
	if r.Complete {
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s is already finalized", id)
	}
	var total int64
	for _, c := range r.Chunks {
		total += int64(c.Size)
	}
	if total != length {
		return perrors.Wrapf(ErrInvalidBlobState, "blob %s holds %d bytes, finalized with %d", id, total, length)
	}
	r.Complete = true
	r.Length = length
	r.MD5 = h.MD5
	r.SHA256 = h.SHA256
	r.Modified = time.Now()
	if err := r.save(s.meta); err != nil {
		return unavailable(err, "finalizing blob %s", id)
	}
	b.replace(r)
	return nil
}

// ReadChunk returns the payload of chunk index of the blob. The payload is
// checked against the digest recorded when it was written.
func (s *Store) ReadChunk(id BlobID, index int) ([]byte, error) {
	b, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	b.m.RLock()
	if index < 0 || index >= len(b.Chunks) {
		n := len(b.Chunks)
		b.m.RUnlock()
		return nil, perrors.Wrapf(ErrNotFound, "blob %s has %d chunks, no chunk %d", id, n, index)
	}
	info := b.Chunks[index]
	codec := b.Codec
	b.m.RUnlock()

	stored, err := store.ReadAll(s.cstore, chunkKey(id, index))
	if errors.Is(err, store.ErrNotExist) {
		return nil, perrors.Wrapf(ErrNotFound, "blob %s chunk %d is missing", id, index)
	} else if err != nil {
		return nil, unavailable(err, "reading blob %s chunk %d", id, index)
	}
	data, err := codec.decode(stored)
	if err != nil {
		return nil, perrors.Wrapf(ErrCorruptChunk, "blob %s chunk %d: %s", id, index, err)
	}
	if len(data) != info.Size || digest(data) != info.Digest {
		return nil, perrors.Wrapf(ErrCorruptChunk, "blob %s chunk %d", id, index)
	}
	return data, nil
}

// GetBlobMetadata returns the metadata of the blob.
func (s *Store) GetBlobMetadata(id BlobID) (Blob, error) {
	b, err := s.lookup(id)
	if err != nil {
		return Blob{}, err
	}
	b.m.RLock()
	defer b.m.RUnlock()
	return b.Blob, nil
}

// DeleteBlob removes the blob metadata and every chunk. It is not an error
// to delete a blob that does not exist.
func (s *Store) DeleteBlob(id BlobID) error {
	s.m.Lock()
	b := s.blobs[id]
	delete(s.blobs, id)
	s.m.Unlock()
	if b != nil {
		// wait out any write in progress and stop later ones
		b.w.Lock()
		b.deleted = true
		defer b.w.Unlock()
	}

	// don't need the lock for the following
	err := s.meta.Delete(id.String())
	// list the chunks instead of trusting the record, which may be behind
	keys, err2 := s.cstore.ListPrefix(id.String() + "+")
	if err == nil {
		err = err2
	}
	for _, key := range keys {
		er := s.cstore.Delete(key)
		if err == nil {
			err = er
		}
	}
	if err != nil {
		return unavailable(err, "deleting blob %s", id)
	}
	return nil
}

// List returns the metadata of every blob in the index, oldest first.
func (s *Store) List() []Blob {
	s.m.RLock()
	blobs := make([]*blob, 0, len(s.blobs))
	for _, b := range s.blobs {
		blobs = append(blobs, b)
	}
	s.m.RUnlock()
	result := make([]Blob, 0, len(blobs))
	for _, b := range blobs {
		b.m.RLock()
		result = append(result, b.Blob)
		b.m.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Created.Equal(result[j].Created) {
			return strings.Compare(result[i].ID.String(), result[j].ID.String()) < 0
		}
		return result[i].Created.Before(result[j].Created)
	})
	return result
}

// snapshot returns a copy of the record which may be changed freely.
func (b *blob) snapshot() record {
	b.m.RLock()
	defer b.m.RUnlock()
	r := b.record
	r.Chunks = append([]chunkInfo(nil), b.Chunks...)
	return r
}

// replace installs r as the current record. Must hold b.w.
func (b *blob) replace(r record) {
	b.m.Lock()
	b.record = r
	b.m.Unlock()
}

func (r record) save(meta JSONStore) error {
	return meta.Save(r.ID.String(), r)
}
