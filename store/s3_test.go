package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// fakeS3 keeps objects in a map and answers the handful of calls the S3
// store makes.
type fakeS3 struct {
	s3iface.S3API
	m       sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func notFound() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), http.StatusNotFound, "")
}

func (f *fakeS3) HeadObject(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	v, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(v)))}, nil
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	f.m.Lock()
	v, ok := f.objects[*in.Key]
	f.m.Unlock()
	if !ok {
		return nil, notFound()
	}
	var start, end int
	fmt.Sscanf(aws.StringValue(in.Range), "bytes=%d-%d", &start, &end)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(v[start : end+1]))}, nil
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.m.Lock()
	f.objects[*in.Key] = data
	f.m.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	f.m.Lock()
	delete(f.objects, *in.Key)
	f.m.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2Pages(in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool) error {
	f.m.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	f.m.Unlock()
	sort.Strings(keys)
	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestS3RoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := NewS3WithClient("bucket", "papers/", fake)

	add(t, s, "abc+0000", "hello ")
	add(t, s, "abc+0001", "world")
	if _, ok := fake.objects["papers/abc+0000"]; !ok {
		t.Errorf("prefix not applied, have %v", fake.objects)
	}
	if _, err := s.Create("abc+0000"); err != ErrKeyExists {
		t.Errorf("Received %v, expected ErrKeyExists", err)
	}

	keys, err := s.ListPrefix("abc+")
	if err != nil {
		t.Fatal(err)
	}
	if !equal(keys, []string{"abc+0000", "abc+0001"}) {
		t.Errorf("Received %v", keys)
	}

	data, err := ReadAll(s, "abc+0001")
	if err != nil || string(data) != "world" {
		t.Errorf("Received %q, %v", data, err)
	}

	// a short read at the end returns io.EOF
	r, _, _ := s.Open("abc+0000")
	p := make([]byte, 10)
	n, err := r.ReadAt(p, 2)
	if n != 4 || err != io.EOF || string(p[:n]) != "llo " {
		t.Errorf("ReadAt received %d %v %q", n, err, p[:n])
	}

	s.Delete("abc+0000")
	if _, _, err := s.Open("abc+0000"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Received %v, expected ErrNotExist", err)
	}
}
