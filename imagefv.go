package imagefv

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/meigma/imagefv/internal/decode"
	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/index"
	"github.com/meigma/imagefv/internal/payload"
	"github.com/meigma/imagefv/internal/source"
)

// Re-export types from internal packages for public API.
type (
	// Header is the validated container header.
	Header = fvtype.Header

	// Entry describes one payload in the descriptor table.
	Entry = fvtype.Entry

	// Encoding is the payload encoding tag of an entry.
	Encoding = fvtype.Encoding

	// Compression identifies the compression algorithm applied to a payload.
	Compression = fvtype.Compression

	// PixelFormat describes the layout of a raw framebuffer.
	PixelFormat = fvtype.PixelFormat

	// ImageFormat identifies an embedded or output image stream.
	ImageFormat = fvtype.ImageFormat

	// EntryError reports a failure scoped to a single entry.
	EntryError = fvtype.EntryError

	// Stage identifies where an entry failed.
	Stage = fvtype.Stage

	// ErrorKind classifies an error.
	ErrorKind = fvtype.ErrorKind

	// ProgressEvent represents a progress update during extraction.
	ProgressEvent = fvtype.ProgressEvent

	// ProgressStage identifies the current phase of an extraction.
	ProgressStage = fvtype.ProgressStage

	// ProgressFunc receives progress updates. It must be safe for concurrent calls.
	ProgressFunc = fvtype.ProgressFunc

	// Image is a decoded entry.
	Image = decode.Image

	// ImageKind identifies which variant an Image holds.
	ImageKind = decode.Kind
)

// Re-export image kinds.
const (
	ImagePixels  = decode.KindPixels
	ImageEncoded = decode.KindEncoded
)

// Re-export encoding and compression constants.
const (
	EncodingRaw      = fvtype.EncodingRaw
	EncodingEmbedded = fvtype.EncodingEmbedded

	CompressionNone = fvtype.CompressionNone
	CompressionGzip = fvtype.CompressionGzip
	CompressionZstd = fvtype.CompressionZstd
	CompressionLZSS = fvtype.CompressionLZSS
	CompressionXZ   = fvtype.CompressionXZ
	CompressionLZ4  = fvtype.CompressionLZ4
)

// Re-export pixel format constants.
const (
	PixelFormatRGB565      = fvtype.PixelFormatRGB565
	PixelFormatBGR565      = fvtype.PixelFormatBGR565
	PixelFormatRGB888      = fvtype.PixelFormatRGB888
	PixelFormatBGR888      = fvtype.PixelFormatBGR888
	PixelFormatRGBA8888    = fvtype.PixelFormatRGBA8888
	PixelFormatBGRA8888    = fvtype.PixelFormatBGRA8888
	PixelFormatARGB1555    = fvtype.PixelFormatARGB1555
	PixelFormatGray8       = fvtype.PixelFormatGray8
	PixelFormatGrayAlpha88 = fvtype.PixelFormatGrayAlpha88
)

// Re-export image format constants.
const (
	FormatUnknown = fvtype.FormatUnknown
	FormatPNG     = fvtype.FormatPNG
	FormatJPEG    = fvtype.FormatJPEG
	FormatGIF     = fvtype.FormatGIF
	FormatBMP     = fvtype.FormatBMP
)

// Re-export error kinds and stages.
const (
	KindNone                   = fvtype.KindNone
	KindFormat                 = fvtype.KindFormat
	KindTruncated              = fvtype.KindTruncated
	KindUnsupportedCompression = fvtype.KindUnsupportedCompression
	KindDecode                 = fvtype.KindDecode
	KindIO                     = fvtype.KindIO
	KindCanceled               = fvtype.KindCanceled

	StageTable    = fvtype.StageTable
	StageDecode   = fvtype.StageDecode
	StageWrite    = fvtype.StageWrite
	StageDispatch = fvtype.StageDispatch
)

// Re-export progress stage constants.
const (
	StageParsing    = fvtype.StageParsing
	StageExtracting = fvtype.StageExtracting
	StageDone       = fvtype.StageDone
)

// Sentinel errors re-exported from internal/fvtype.
var (
	// ErrFormat is returned for an unrecognized magic, version, or table checksum.
	ErrFormat = fvtype.ErrFormat

	// ErrTruncated is returned when a declared size or range exceeds the data.
	ErrTruncated = fvtype.ErrTruncated

	// ErrUnsupportedCompression is returned for reserved encoding, compression,
	// or pixel format tags.
	ErrUnsupportedCompression = fvtype.ErrUnsupportedCompression

	// ErrDecode is returned when a payload does not match its descriptor.
	ErrDecode = fvtype.ErrDecode

	// ErrIO is returned when output cannot be written.
	ErrIO = fvtype.ErrIO

	// ErrCanceled is recorded for entries skipped by cancellation.
	ErrCanceled = fvtype.ErrCanceled

	// ErrDecompression is returned when a compressed payload is corrupt.
	ErrDecompression = fvtype.ErrDecompression

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = fvtype.ErrSizeOverflow
)

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	return fvtype.KindOf(err)
}

// Find returns every offset in data where a container signature starts.
// Candidates are not validated.
func Find(data []byte) []int {
	return index.Find(data)
}

// Container provides access to a validated container.
//
// A Container is safe for concurrent use. Close releases the underlying
// mapping for containers created by Open.
type Container struct {
	src    *source.Source
	offset uint64
	idx    *index.Index
	reader *payload.Reader
	limits decode.Limits
	logger *slog.Logger
	closed atomic.Bool
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Container) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Load validates data as a container.
//
// data is referenced, not copied, and must not change while the Container
// is in use. Only header-level problems return an error.
func Load(data []byte, opts ...Option) (*Container, error) {
	return newContainer(source.FromBytes(data), opts)
}

// Open maps the file at path read-only and validates it as a container.
func Open(path string, opts ...Option) (*Container, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	c, err := newContainer(src, opts)
	if err != nil {
		_ = src.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return c, nil
}

// LoadAll validates every container found in data, in offset order.
//
// Signatures are searched as with WithScan, but the search continues past
// the first valid container. Candidates that fall inside an accepted
// container are ignored. If no candidate is valid, the first candidate's
// error is returned.
func LoadAll(data []byte, opts ...Option) ([]*Container, error) {
	return loadAll(source.FromBytes(data), opts)
}

// OpenAll maps the file at path read-only and validates every container in
// it, as LoadAll does. The containers share the mapping; it is released once
// all of them are closed.
func OpenAll(path string, opts ...Option) ([]*Container, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return loadAll(src, opts)
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func newContainer(src *source.Source, opts []Option) (*Container, error) {
	cfg := newConfig(opts)
	var off uint64
	if cfg.scan {
		found, err := locate(src.View(), cfg.maxEntries, false)
		if err != nil {
			return nil, err
		}
		off = found[0]
	}
	return loadAt(src, off, &cfg)
}

// loadAll takes over the caller's reference to src.
func loadAll(src *source.Source, opts []Option) ([]*Container, error) {
	defer src.Close() //nolint:errcheck // each container holds its own reference

	cfg := newConfig(opts)
	found, err := locate(src.View(), cfg.maxEntries, true)
	if err != nil {
		return nil, err
	}
	containers := make([]*Container, 0, len(found))
	for _, off := range found {
		c, err := loadAt(src.Share(), off, &cfg)
		if err != nil {
			_ = src.Close() //nolint:errcheck // drops the reference taken above
			for _, c := range containers {
				_ = c.Close() //nolint:errcheck // best-effort cleanup
			}
			return nil, err
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// loadAt validates the container starting off bytes into src.
func loadAt(src *source.Source, off uint64, cfg *config) (*Container, error) {
	c := &Container{
		src:    src,
		offset: off,
		limits: decode.Limits{MaxPixels: cfg.maxPixels},
		logger: cfg.logger,
	}

	view := src.View()
	if off != 0 {
		var err error
		if view, err = view.Sub(off, view.Len()-off); err != nil {
			return nil, err
		}
		c.log().Debug("container located", "source", src.Name(), "offset", off)
	}

	idx, err := index.Load(view, index.WithMaxEntries(cfg.maxEntries))
	if err != nil {
		return nil, err
	}
	c.idx = idx
	c.reader = payload.NewReader(idx.View(), payload.WithMaxDecodedBytes(cfg.maxDecodedBytes))

	hdr := idx.Header()
	c.log().Debug("container loaded",
		"source", src.Name(),
		"offset", off,
		"magic", hdr.MagicString(),
		"version", hdr.Version,
		"entries", hdr.EntryCount,
		"size", hdr.TotalSize)
	return c, nil
}

// locate returns the offsets of signatures that carry a valid header, in
// ascending order. Candidates inside an accepted container are skipped.
// Unless all is set, the search stops at the first valid header.
func locate(view source.View, maxEntries uint32, all bool) ([]uint64, error) {
	data, err := view.Range(0, view.Len())
	if err != nil {
		return nil, err
	}
	var (
		found    []uint64
		end      uint64
		firstErr error
	)
	for _, cand := range index.Find(data) {
		off := uint64(cand)
		if off < end {
			continue
		}
		sub, err := view.Sub(off, view.Len()-off)
		if err != nil {
			return nil, err
		}
		hdr, _, err := index.ParseHeader(sub, maxEntries)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("candidate at offset %d: %w", off, err)
			}
			continue
		}
		found = append(found, off)
		if !all {
			break
		}
		end = off + uint64(hdr.TotalSize)
	}
	switch {
	case len(found) > 0:
		return found, nil
	case firstErr != nil:
		return nil, firstErr
	default:
		return nil, fmt.Errorf("%w: no container signature found", ErrFormat)
	}
}

// Name returns the source path, or "memory" for containers created by Load.
func (c *Container) Name() string {
	return c.src.Name()
}

// Offset returns where the container starts in its source. It is non-zero
// only for containers located by WithScan.
func (c *Container) Offset() uint64 {
	return c.offset
}

// Header returns the validated header.
func (c *Container) Header() Header {
	return c.idx.Header()
}

// Len returns the number of descriptors.
func (c *Container) Len() int {
	return c.idx.Len()
}

// Entries returns all descriptors in table order, including those that
// failed validation.
func (c *Container) Entries() []Entry {
	return slices.Collect(c.idx.Entries())
}

// Entry returns the descriptor at table position i.
func (c *Container) Entry(i int) (Entry, bool) {
	return c.idx.Entry(i)
}

// Decode decodes entry i without writing anything.
//
// Errors are *EntryError values.
func (c *Container) Decode(i int) (*Image, error) {
	entry, ok := c.idx.Entry(i)
	if !ok {
		return nil, fmt.Errorf("imagefv: entry %d out of range [0, %d)", i, c.idx.Len())
	}
	img, err := c.decodeEntry(&entry)
	if err != nil {
		return nil, asEntryError(entry.Index, StageDecode, err)
	}
	return img, nil
}

// decodeEntry reads, decompresses, and decodes one entry.
func (c *Container) decodeEntry(entry *Entry) (*Image, error) {
	data, err := c.reader.Read(entry)
	if err != nil {
		return nil, err
	}
	return decode.Decode(entry, data, c.limits)
}

// Close releases the underlying source. Images returned by Decode may alias
// the source and must not be used after Close. Closing twice is a no-op.
func (c *Container) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.src.Close()
}

// asEntryError wraps err unless it already is an *EntryError.
func asEntryError(i int, stage Stage, err error) error {
	if _, ok := err.(*EntryError); ok { //nolint:errorlint // only the outermost error matters
		return err
	}
	return &EntryError{Index: i, Stage: stage, Err: err}
}
