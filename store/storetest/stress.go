// Package storetest provides functions for facilitating the testing of
// anything implementing the store.Store interface.
package storetest

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/ndlib/paperstore/store"
)

// Stress will spawn a given number of goroutines to simultaneously
// write, read back and delete items in the given store. It is a good test to
// run with the -race flag.
//
// Each worker uploads items of random size up to maxsize bytes, reads each
// back and compares its checksum, and then deletes it. Items are keyed so
// that workers never collide.
func Stress(t *testing.T, s store.Store, workers int, maxsize int) {
	if workers <= 0 {
		workers = 8
	}
	if maxsize <= 0 {
		maxsize = 256 * 1024
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for j := 0; j < 10; j++ {
				key := fmt.Sprintf("stress%02d+%04d", worker, j)
				roundtrip(t, s, key, randomBytes(rng, rng.Intn(maxsize+1)))
			}
		}(i)
	}
	wg.Wait()
}

func randomBytes(rng *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	rng.Read(buf)
	return buf
}

func roundtrip(t *testing.T, s store.Store, key string, data []byte) {
	goal := md5.Sum(data)
	if err := store.WriteAll(s, key, data); err != nil {
		t.Error(key, err)
		return
	}
	rac, size, err := s.Open(key)
	if err != nil {
		t.Error(key, err)
		return
	}
	if size != int64(len(data)) {
		t.Error("Expected", len(data), "Open() returned", size)
	}
	h := md5.New()
	n, err := io.Copy(h, store.NewReader(rac))
	if err != nil {
		t.Error(key, err)
	}
	if n != size {
		t.Error("Expected", size, "but read", n)
	}
	rac.Close()
	if !bytes.Equal(goal[:], h.Sum(nil)) {
		t.Errorf("%s: hashes unequal. Received %x", key, h.Sum(nil))
	}
	if err := s.Delete(key); err != nil {
		t.Error(key, err)
	}
	if _, _, err := s.Open(key); err == nil {
		t.Error(key, "still present after delete")
	}
}
