package chunk

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Codec names the encoding applied to chunk payloads before they are put
// into the backing store.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
)

// ParseCodec accepts "", "none" and "zstd".
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd:
		return CodecZstd, nil
	}
	return "", fmt.Errorf("unknown chunk codec %q", s)
}

// the zstd encoder and decoder are safe for concurrent EncodeAll and
// DecodeAll calls, so one of each is shared by every store.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdErr != nil {
		return
	}
	zstdDecoder, zstdErr = zstd.NewReader(nil)
}

func (c Codec) encode(data []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return data, nil
	case CodecZstd:
		zstdOnce.Do(initZstd)
		if zstdErr != nil {
			return nil, zstdErr
		}
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	}
	return nil, errors.Errorf("unknown chunk codec %q", string(c))
}

func (c Codec) decode(stored []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return stored, nil
	case CodecZstd:
		zstdOnce.Do(initZstd)
		if zstdErr != nil {
			return nil, zstdErr
		}
		return zstdDecoder.DecodeAll(stored, nil)
	}
	return nil, errors.Errorf("unknown chunk codec %q", string(c))
}

// digest returns the hex BLAKE3 sum of a raw chunk payload.
func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
