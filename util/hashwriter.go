package util

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// An HashWriter wraps an io.Writer and also calculates the MD5 and SHA256
// hashes of the bytes written.
type HashWriter struct {
	io.Writer // our io.MultiWriter
	md5       hash.Hash
	sha256    hash.Hash
}

// NewHashWriter returns a HashWriter wrapping w.
func NewHashWriter(w io.Writer) *HashWriter {
	hw := &HashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5, hw.sha256)
	return hw
}

// NewHashWriterPlain returns a HashWriter that does not wrap an output
// stream. It will just compute the checksums of the data written to it.
func NewHashWriterPlain() *HashWriter {
	hw := &HashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(hw.md5, hw.sha256)
	return hw
}

// MD5 returns the hex MD5 of everything written so far.
func (hw *HashWriter) MD5() string {
	return hex.EncodeToString(hw.md5.Sum(nil))
}

// SHA256 returns the hex SHA256 of everything written so far.
func (hw *HashWriter) SHA256() string {
	return hex.EncodeToString(hw.sha256.Sum(nil))
}

// CheckMD5 returns the MD5 hash for this writer, and compares it for equality
// with the goal hash passed in. If the goal is empty then it is treated as
// matching.
func (hw *HashWriter) CheckMD5(goal []byte) ([]byte, bool) {
	computed := hw.md5.Sum(nil)
	return computed, len(goal) == 0 || bytes.Equal(goal, computed)
}

// CheckSHA256 is CheckMD5 for the SHA256 hash.
func (hw *HashWriter) CheckSHA256(goal []byte) ([]byte, bool) {
	computed := hw.sha256.Sum(nil)
	return computed, len(goal) == 0 || bytes.Equal(goal, computed)
}
