package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/ioutil"
	"math/rand"
	"sync"
	"testing"

	"github.com/ndlib/paperstore/chunk"
	"github.com/ndlib/paperstore/store"
)

const testChunk = 16

func newTestStore() *chunk.Store {
	return chunk.New(store.NewMemory(), chunk.Options{})
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	var lengths = []int{0, 1, testChunk - 1, testChunk, testChunk + 1, 5*testChunk + 7, 8 * testChunk}
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	down := &Downloader{Chunks: cs}
	for _, n := range lengths {
		data := randomBytes(n)
		id, err := up.Ingest(context.Background(), bytes.NewReader(data), "paper.pdf", PDFType)
		if err != nil {
			t.Fatalf("length %d: Ingest: %s", n, err)
		}
		b, err := cs.GetBlobMetadata(id)
		if err != nil {
			t.Fatalf("length %d: %s", n, err)
		}
		wantChunks := (n + testChunk - 1) / testChunk
		if !b.Complete || b.Length != int64(n) || b.NChunks != wantChunks {
			t.Errorf("length %d: got %+v", n, b)
		}
		if b.MD5 == "" || b.SHA256 == "" {
			t.Errorf("length %d: hashes not recorded", n)
		}

		r, err := down.Stream(context.Background(), id)
		if err != nil {
			t.Fatalf("length %d: Stream: %s", n, err)
		}
		got, err := ioutil.ReadAll(r)
		r.Close()
		if err != nil {
			t.Errorf("length %d: ReadAll: %s", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("length %d: read back %d bytes which differ", n, len(got))
		}
	}
}

func TestNextChunks(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	data := randomBytes(2*testChunk + 3)
	id, err := up.Ingest(context.Background(), bytes.NewReader(data), "paper.pdf", PDFType)
	if err != nil {
		t.Fatal(err)
	}
	r, err := (&Downloader{Chunks: cs}).Stream(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	var sizes []int
	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, len(c))
	}
	if len(sizes) != 3 || sizes[0] != testChunk || sizes[1] != testChunk || sizes[2] != 3 {
		t.Errorf("chunk sizes %v", sizes)
	}
	if r.Blob().Length != int64(len(data)) {
		t.Errorf("Blob().Length = %d", r.Blob().Length)
	}
}

func TestContentType(t *testing.T) {
	var table = []struct {
		ctype string
		ok    bool
	}{
		{"application/pdf", true},
		{"Application/PDF", true},
		{"application/pdf; name=paper.pdf", true},
		{"text/plain", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tab := range table {
		cs := newTestStore()
		up := &Uploader{Chunks: cs, ChunkSize: testChunk}
		_, err := up.Ingest(context.Background(), bytes.NewReader([]byte("x")), "f", tab.ctype)
		if tab.ok && err != nil {
			t.Errorf("%q: unexpected error %s", tab.ctype, err)
		}
		if !tab.ok {
			if !errors.Is(err, ErrUnsupportedMediaType) {
				t.Errorf("%q: got %v, expected ErrUnsupportedMediaType", tab.ctype, err)
			}
			if n := len(cs.List()); n != 0 {
				t.Errorf("%q: %d blobs created", tab.ctype, n)
			}
		}
	}
}

func TestTooLarge(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk, MaxSize: 3 * testChunk}

	// exactly at the limit is fine
	_, err := up.Ingest(context.Background(), bytes.NewReader(randomBytes(3*testChunk)), "f", PDFType)
	if err != nil {
		t.Fatal(err)
	}

	id, err := up.Ingest(context.Background(), bytes.NewReader(randomBytes(3*testChunk+1)), "f", PDFType)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, expected ErrPayloadTooLarge", err)
	}
	b, err := cs.GetBlobMetadata(id)
	if err != nil {
		t.Fatal(err)
	}
	if b.Complete {
		t.Errorf("oversize blob was finalized")
	}
	if b.NChunks != 3 {
		t.Errorf("oversize blob has %d chunks, expected 3", b.NChunks)
	}
	_, err = (&Downloader{Chunks: cs}).Stream(context.Background(), id)
	if !errors.Is(err, chunk.ErrNotFound) {
		t.Errorf("Stream of oversize blob got %v", err)
	}
}

type brokenReader struct {
	n int // bytes to give before failing
}

var errBroken = errors.New("connection reset")

func (br *brokenReader) Read(p []byte) (int, error) {
	if br.n == 0 {
		return 0, errBroken
	}
	if len(p) > br.n {
		p = p[:br.n]
	}
	for i := range p {
		p[i] = 'a'
	}
	br.n -= len(p)
	return len(p), nil
}

func TestReadError(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	id, err := up.Ingest(context.Background(), &brokenReader{n: 2*testChunk + 5}, "f", PDFType)
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, errBroken) {
		t.Fatalf("got %v, expected ErrUploadFailed wrapping the read error", err)
	}
	if id.IsZero() {
		t.Fatalf("no blob id returned with the error")
	}
	b, err := cs.GetBlobMetadata(id)
	if err != nil {
		t.Fatal(err)
	}
	if b.Complete {
		t.Errorf("blob was finalized after a read error")
	}
}

type failingWriter struct {
	BlobWriter
	failAt int
}

func (fw failingWriter) WriteChunk(id chunk.BlobID, index int, data []byte) error {
	if index == fw.failAt {
		return chunk.ErrStorageUnavailable
	}
	return fw.BlobWriter.WriteChunk(id, index, data)
}

func TestWriteError(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: failingWriter{BlobWriter: cs, failAt: 1}, ChunkSize: testChunk}
	id, err := up.Ingest(context.Background(), bytes.NewReader(randomBytes(3*testChunk)), "f", PDFType)
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, chunk.ErrStorageUnavailable) {
		t.Fatalf("got %v", err)
	}
	b, _ := cs.GetBlobMetadata(id)
	if b.Complete || b.NChunks != 1 {
		t.Errorf("got %+v", b)
	}
}

// cancelReader cancels its context once it has given limit bytes.
type cancelReader struct {
	r      io.Reader
	limit  int
	cancel context.CancelFunc
}

func (cr *cancelReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.limit -= n
	if cr.limit <= 0 {
		cr.cancel()
	}
	return n, err
}

func TestUploadCancel(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cr := &cancelReader{
		r:      bytes.NewReader(randomBytes(10 * testChunk)),
		limit:  testChunk,
		cancel: cancel,
	}
	id, err := up.Ingest(ctx, cr, "f", PDFType)
	if !errors.Is(err, ErrUploadFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	b, _ := cs.GetBlobMetadata(id)
	if b.Complete {
		t.Errorf("canceled upload was finalized")
	}
	if b.NChunks > 1 {
		t.Errorf("%d chunks written after cancel", b.NChunks)
	}
}

func TestConcurrentUploads(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	down := &Downloader{Chunks: cs}
	const workers = 4
	var wg sync.WaitGroup
	var data [workers][]byte
	var ids [workers]chunk.BlobID
	var errs [workers]error
	for i := 0; i < workers; i++ {
		data[i] = randomBytes(20*testChunk + i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = up.Ingest(context.Background(), bytes.NewReader(data[i]), "f", PDFType)
		}(i)
	}
	wg.Wait()
	seen := make(map[chunk.BlobID]bool)
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("upload %d: %s", i, errs[i])
		}
		if seen[ids[i]] {
			t.Errorf("upload %d reused id %s", i, ids[i])
		}
		seen[ids[i]] = true
		r, err := down.Stream(context.Background(), ids[i])
		if err != nil {
			t.Fatal(err)
		}
		got, _ := ioutil.ReadAll(r)
		if !bytes.Equal(got, data[i]) {
			t.Errorf("upload %d did not read back", i)
		}
	}
}

func TestStreamNotFound(t *testing.T) {
	cs := newTestStore()
	down := &Downloader{Chunks: cs}
	_, err := down.Stream(context.Background(), chunk.NewBlobID())
	if !errors.Is(err, chunk.ErrNotFound) {
		t.Errorf("missing blob: got %v", err)
	}

	// a blob that was never finalized
	id, err := cs.CreateBlob("f", PDFType, testChunk)
	if err != nil {
		t.Fatal(err)
	}
	cs.WriteChunk(id, 0, []byte("hello"))
	_, err = down.Stream(context.Background(), id)
	if !errors.Is(err, chunk.ErrNotFound) {
		t.Errorf("unfinalized blob: got %v", err)
	}
}

// countingReader counts chunk reads.
type countingReader struct {
	BlobReader
	m     sync.Mutex
	reads int
}

func (cr *countingReader) ReadChunk(id chunk.BlobID, index int) ([]byte, error) {
	cr.m.Lock()
	cr.reads++
	cr.m.Unlock()
	return cr.BlobReader.ReadChunk(id, index)
}

func TestStreamDetach(t *testing.T) {
	cs := newTestStore()
	up := &Uploader{Chunks: cs, ChunkSize: testChunk}
	id, err := up.Ingest(context.Background(), bytes.NewReader(randomBytes(5*testChunk)), "f", PDFType)
	if err != nil {
		t.Fatal(err)
	}

	// Close stops reads
	counter := &countingReader{BlobReader: cs}
	r, err := (&Downloader{Chunks: counter}).Stream(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	r.Close()
	if _, err := r.Next(); err != ErrClosed {
		t.Errorf("Next after Close got %v", err)
	}
	if counter.reads != 1 {
		t.Errorf("%d chunk reads, expected 1", counter.reads)
	}

	// and so does canceling the context
	counter = &countingReader{BlobReader: cs}
	ctx, cancel := context.WithCancel(context.Background())
	r, err = (&Downloader{Chunks: counter}).Stream(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	r.Next()
	r.Next()
	cancel()
	if _, err := r.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next after cancel got %v", err)
	}
	if counter.reads != 2 {
		t.Errorf("%d chunk reads, expected 2", counter.reads)
	}
}
