package store

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"strings"

	raven "github.com/getsentry/raven-go"
	minio "github.com/minio/minio-go/v6"
	"github.com/pkg/errors"
)

// Minio is a store kept in a bucket on a Minio (or other S3 compatible)
// server, using the native minio client. Every key is a single object named
// Prefix + key.
type Minio struct {
	client *minio.Client
	Bucket string
	Prefix string
}

var _ Store = &Minio{}

// NewMinio returns a store using the given client and bucket. The bucket
// must already exist.
func NewMinio(bucket, prefix string, client *minio.Client) *Minio {
	return &Minio{client: client, Bucket: bucket, Prefix: prefix}
}

// ListPrefix returns the keys in this store that have the given prefix.
func (m *Minio) ListPrefix(prefix string) ([]string, error) {
	done := make(chan struct{})
	defer close(done)
	var result []string
	for info := range m.client.ListObjectsV2(m.Bucket, m.Prefix+prefix, true, done) {
		if info.Err != nil {
			log.Println("Minio ListPrefix:", m.Prefix, prefix, info.Err)
			raven.CaptureError(info.Err, map[string]string{"Bucket": m.Bucket, "Prefix": m.Prefix, "Pattern": prefix})
			return result, info.Err
		}
		result = append(result, strings.TrimPrefix(info.Key, m.Prefix))
	}
	return result, nil
}

// Open returns a reader for the given key along with its size.
func (m *Minio) Open(key string) (ReadAtCloser, int64, error) {
	info, err := m.client.StatObject(m.Bucket, m.Prefix+key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, 0, fmt.Errorf("minio %s: %w", key, ErrNotExist)
		}
		return nil, 0, err
	}
	obj, err := m.client.GetObject(m.Bucket, m.Prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	return obj, info.Size, nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Create returns a writer which uploads the object when it is closed.
func (m *Minio) Create(key string) (io.WriteCloser, error) {
	_, err := m.client.StatObject(m.Bucket, m.Prefix+key, minio.StatObjectOptions{})
	if err == nil {
		return nil, ErrKeyExists
	} else if !isMinioNotFound(err) {
		return nil, err
	}
	return &minioWriter{parent: m, key: m.Prefix + key}, nil
}

// Delete removes the given key. Deleting a missing key is not an error.
func (m *Minio) Delete(key string) error {
	err := m.client.RemoveObject(m.Bucket, m.Prefix+key)
	if err != nil && !isMinioNotFound(err) {
		log.Println("Minio Delete:", m.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": m.Bucket, "Prefix": m.Prefix, "Key": key})
		return err
	}
	return nil
}

type minioWriter struct {
	parent *Minio
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *minioWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *minioWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	size := int64(w.buf.Len())
	_, err := w.parent.client.PutObject(w.parent.Bucket, w.key, &w.buf, size,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		log.Println("Minio PutObject:", w.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": w.parent.Bucket, "Key": w.key})
		return errors.Wrap(err, "minio put")
	}
	return nil
}
