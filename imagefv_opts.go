package imagefv

import (
	"log/slog"

	"github.com/meigma/imagefv/internal/decode"
	"github.com/meigma/imagefv/internal/index"
	"github.com/meigma/imagefv/internal/payload"
)

// Option configures Load and Open.
type Option func(*config)

type config struct {
	logger          *slog.Logger
	scan            bool
	maxEntries      uint32
	maxDecodedBytes uint64
	maxPixels       uint64
}

func defaultConfig() config {
	return config{
		maxEntries:      index.DefaultMaxEntries,
		maxDecodedBytes: payload.DefaultMaxDecodedBytes,
		maxPixels:       decode.DefaultMaxPixels,
	}
}

// WithLogger sets the logger for debug records.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithScan searches the input for the first valid container header instead
// of requiring one at offset zero.
func WithScan(enabled bool) Option {
	return func(c *config) {
		c.scan = enabled
	}
}

// WithMaxEntries caps the declared descriptor count (default 65536).
// Set n to 0 to disable the limit.
func WithMaxEntries(n uint32) Option {
	return func(c *config) {
		c.maxEntries = n
	}
}

// WithMaxDecodedBytes caps the size of a decompressed payload (default 256MB).
// Set limit to 0 to disable the limit.
func WithMaxDecodedBytes(limit uint64) Option {
	return func(c *config) {
		c.maxDecodedBytes = limit
	}
}

// WithMaxPixels caps the pixel count of a decoded image (default 64 Mpx).
// Set limit to 0 to disable the limit.
func WithMaxPixels(limit uint64) Option {
	return func(c *config) {
		c.maxPixels = limit
	}
}
