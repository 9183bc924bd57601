package infrastructure

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/model"
	"github.com/andybalholm/brotli"
	"github.com/cespare/xxhash/v2"
)

const (
	EncodingIdentity = "identity"
	EncodingBrotli   = "br"
)

// Codec compresses payloads before they land on disk and verifies their
// integrity when they come back. The checksum always covers the raw payload,
// regardless of how it is encoded.
type Codec struct {
	enabled bool
	minSize int
	writers sync.Pool
}

func NewCodec(config config.Compression) *Codec {
	level := config.Level

	return &Codec{
		enabled: config.Enabled,
		minSize: config.MinSize,
		writers: sync.Pool{
			New: func() any {
				return brotli.NewWriterLevel(io.Discard, level)
			},
		},
	}
}

// Encode returns the bytes to persist, their encoding token, and the checksum
// of the raw payload. Payloads below the size floor, and payloads that do not
// shrink, are stored as-is.
func (c *Codec) Encode(payload []byte) ([]byte, string, uint64) {
	sum := xxhash.Sum64(payload)

	if !c.enabled || len(payload) < c.minSize {
		return payload, EncodingIdentity, sum
	}

	var buf bytes.Buffer

	w := c.writers.Get().(*brotli.Writer)
	w.Reset(&buf)

	_, writeErr := w.Write(payload)
	closeErr := w.Close()
	c.writers.Put(w)

	if writeErr != nil || closeErr != nil || buf.Len() >= len(payload) {
		return payload, EncodingIdentity, sum
	}

	return buf.Bytes(), EncodingBrotli, sum
}

// Decode reverses Encode and checks the result against the recorded checksum.
// A mismatch or an unknown encoding yields ErrCorruptRecord.
func (c *Codec) Decode(data []byte, encoding string, sum uint64) ([]byte, error) {
	var payload []byte

	switch encoding {
	case EncodingIdentity, "":
		payload = data
	case EncodingBrotli:
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrCorruptRecord, err)
		}

		payload = decoded
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", model.ErrCorruptRecord, encoding)
	}

	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", model.ErrCorruptRecord)
	}

	return payload, nil
}
