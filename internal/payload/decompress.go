package payload

import (
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/imagefv/internal/fvtype"
)

// zstdDecoder is shared by every Reader. DecodeAll is safe for concurrent
// use and runs up to GOMAXPROCS frames at once.
var zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(DefaultMaxDecoderMemory),
	)
})

// decompressZstd decodes every frame in stored. Output larger than limit,
// or than the decoder memory cap, fails with ErrSizeOverflow.
func decompressZstd(stored []byte, limit uint64) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(stored, nil)
	switch {
	case errors.Is(err, zstd.ErrDecoderSizeExceeded), errors.Is(err, zstd.ErrWindowSizeExceeded):
		return nil, fvtype.ErrSizeOverflow
	case err != nil:
		return nil, err
	case uint64(len(out)) > limit:
		return nil, fvtype.ErrSizeOverflow
	}
	return out, nil
}
