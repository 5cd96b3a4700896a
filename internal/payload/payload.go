// Package payload reads entry payloads out of a container view and undoes
// their compression.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/blacktop/lzss"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/xi2/xz"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/sizing"
	"github.com/meigma/imagefv/internal/source"
)

const (
	// DefaultMaxDecodedBytes is the default cap on a decompressed payload (256MB).
	DefaultMaxDecodedBytes = 256 << 20

	// DefaultMaxDecoderMemory caps a single zstd decode (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// Reader extracts payload bytes for entries of one container.
// It is safe for concurrent use.
type Reader struct {
	view            source.View
	maxDecodedBytes uint64
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxDecodedBytes caps the size of a decompressed payload.
// Set to 0 to disable the limit.
func WithMaxDecodedBytes(limit uint64) Option {
	return func(r *Reader) {
		r.maxDecodedBytes = limit
	}
}

// NewReader creates a Reader over the container view.
func NewReader(view source.View, opts ...Option) *Reader {
	r := &Reader{
		view:            view,
		maxDecodedBytes: DefaultMaxDecodedBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxDecodedBytes returns the configured decompression cap.
func (r *Reader) MaxDecodedBytes() uint64 {
	return r.maxDecodedBytes
}

// Read returns the entry's payload with compression removed.
//
// Uncompressed payloads alias the container bytes and must not be modified.
func (r *Reader) Read(entry *fvtype.Entry) ([]byte, error) {
	if err := ValidateForRead(entry); err != nil {
		return nil, err
	}

	stored, err := r.view.Range(uint64(entry.Offset), uint64(entry.Length))
	if err != nil {
		return nil, err
	}
	if entry.Compression == fvtype.CompressionNone {
		return stored, nil
	}

	limit := r.limit(entry)
	data, err := r.decompress(entry, stored, limit)
	if err != nil {
		if errors.Is(err, fvtype.ErrSizeOverflow) {
			return nil, fmt.Errorf("%w: %s payload exceeds %d bytes", fvtype.ErrDecode, entry.Compression, limit)
		}
		return nil, fmt.Errorf("%w: %s: %w: %v", fvtype.ErrDecode, entry.Compression, fvtype.ErrDecompression, err)
	}
	if entry.OriginalSize != 0 && uint64(len(data)) != uint64(entry.OriginalSize) {
		return nil, fmt.Errorf("%w: decompressed %d bytes, descriptor says %d",
			fvtype.ErrDecode, len(data), entry.OriginalSize)
	}
	return data, nil
}

// limit returns the output cap for entry.
func (r *Reader) limit(entry *fvtype.Entry) uint64 {
	limit := r.maxDecodedBytes
	if entry.OriginalSize != 0 && (limit == 0 || uint64(entry.OriginalSize) < limit) {
		limit = uint64(entry.OriginalSize)
	}
	if limit == 0 {
		limit = sizing.MaxReadLimit
	}
	return limit
}

func (r *Reader) decompress(entry *fvtype.Entry, stored []byte, limit uint64) ([]byte, error) {
	switch c := entry.Compression; c {
	case fvtype.CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return sizing.ReadAtMost(zr, limit, fvtype.ErrSizeOverflow)
	case fvtype.CompressionZstd:
		return decompressZstd(stored, limit)
	case fvtype.CompressionLZSS:
		return decompressLZSS(stored, limit, uint64(entry.OriginalSize))
	case fvtype.CompressionXZ:
		xr, err := xz.NewReader(bytes.NewReader(stored), 0)
		if err != nil {
			return nil, err
		}
		return sizing.ReadAtMost(xr, limit, fvtype.ErrSizeOverflow)
	case fvtype.CompressionLZ4:
		return sizing.ReadAtMost(lz4.NewReader(bytes.NewReader(stored)), limit, fvtype.ErrSizeOverflow)
	default:
		return nil, fmt.Errorf("%w: compression tag %d", fvtype.ErrUnsupportedCompression, uint8(c))
	}
}

// decompressLZSS decodes a whole LZSS stream. The format has no end marker,
// so padding after the stream decodes to trailing garbage; output past the
// recorded size is dropped. An empty result is treated as corrupt.
func decompressLZSS(stored []byte, limit, want uint64) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("lzss: %v", r)
		}
	}()
	out = lzss.Decompress(stored)
	if len(out) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if want != 0 && uint64(len(out)) > want {
		out = out[:want]
	}
	if uint64(len(out)) > limit {
		return nil, fvtype.ErrSizeOverflow
	}
	return out, nil
}
