package imagefv

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meigma/imagefv/internal/batch"
	"github.com/meigma/imagefv/internal/decode"
)

// Extract opens the container at path and extracts it into destDir.
//
// A header-level failure returns a StatusFatal result together with the
// error, before destDir is touched. Entry failures are reported in the
// result only.
func Extract(ctx context.Context, path, destDir string, opts ...ExtractOption) (*Result, error) {
	cfg := defaultExtractConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := Open(path, cfg.openOpts...)
	if err != nil {
		return fatalResult(err), err
	}
	defer c.Close()
	return c.extract(ctx, destDir, &cfg)
}

// ExtractAll opens the file at path and extracts every container found in
// it (see OpenAll). A single container is written to destDir; several are
// each written to the ContainerDir subdirectory of destDir.
//
// Results are in offset order. When no container can be opened, the one
// StatusFatal result is returned together with the error. Cancelling ctx
// marks the entries of the remaining containers as canceled.
func ExtractAll(ctx context.Context, path, destDir string, opts ...ExtractOption) ([]*Result, error) {
	cfg := defaultExtractConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	containers, err := OpenAll(path, cfg.openOpts...)
	if err != nil {
		return []*Result{fatalResult(err)}, err
	}

	results := make([]*Result, 0, len(containers))
	for _, c := range containers {
		dest := destDir
		if len(containers) > 1 {
			dest = filepath.Join(destDir, ContainerDir(c.offset))
		}
		res, _ := c.extract(ctx, dest, &cfg) //nolint:errcheck // fatal errors are carried in res
		res.Offset = c.offset
		results = append(results, res)
		_ = c.Close() //nolint:errcheck // read-only mapping
	}
	return results, nil
}

// ContainerDir names the output subdirectory of the container at off when a
// file holds more than one.
func ContainerDir(off uint64) string {
	return fmt.Sprintf("0x%x", off)
}

// Extract writes every entry of the container into destDir.
//
// destDir is created if needed. Cancelling ctx stops dispatching new
// entries; those are reported with ErrCanceled. The returned error is
// non-nil only for StatusFatal.
func (c *Container) Extract(ctx context.Context, destDir string, opts ...ExtractOption) (*Result, error) {
	cfg := defaultExtractConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return c.extract(ctx, destDir, &cfg)
}

func (c *Container) extract(ctx context.Context, destDir string, cfg *extractConfig) (*Result, error) {
	logger := c.log()
	if cfg.logger != nil {
		logger = cfg.logger
	}

	entries := c.Entries()
	progress(cfg.progress, ProgressEvent{Stage: StageParsing, Index: -1, FilesTotal: len(entries)})

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		err = fmt.Errorf("%w: create destination: %w", ErrIO, err)
		return fatalResult(err), err
	}

	sink, err := batch.OpenFileSink(destDir, batch.WithOverwrite(cfg.overwrite))
	if err != nil {
		err = fmt.Errorf("%w: open destination: %w", ErrIO, err)
		return fatalResult(err), err
	}
	defer sink.Close() //nolint:errcheck // every staged file is closed by now

	proc := batch.NewProcessor(
		batch.WithWorkers(cfg.workers),
		batch.WithLogger(logger),
		batch.WithProgress(cfg.progress),
	)
	logger.Debug("extracting", "dest", destDir, "entries", len(entries), "workers", proc.Workers())

	outcomes, stats := proc.Process(ctx, entries, c.renderer(cfg), sink)

	res := &Result{
		Status:   StatusSuccess,
		Header:   c.Header(),
		Offset:   c.offset,
		Entries:  make([]EntryResult, len(outcomes)),
		Written:  stats.Processed,
		Skipped:  stats.Skipped,
		Failed:   stats.Failed,
		Canceled: stats.Canceled,
		Bytes:    stats.TotalBytes,
	}
	for i, o := range outcomes {
		er := EntryResult{
			Index:   o.Index,
			Label:   entries[i].Label,
			Kind:    KindOf(o.Err),
			Err:     o.Err,
			Skipped: o.Skipped,
		}
		if o.Err == nil {
			er.Path = o.Name
			er.Format = o.Format
			er.Width = o.Width
			er.Height = o.Height
			er.Size = o.Size
			er.Digest = o.Digest
		}
		res.Entries[i] = er
	}
	if stats.Failed > 0 {
		res.Status = StatusPartial
	}

	progress(cfg.progress, ProgressEvent{
		Stage:      StageDone,
		Index:      -1,
		BytesDone:  stats.TotalBytes,
		FilesDone:  len(entries),
		FilesTotal: len(entries),
	})
	logger.Debug("extraction finished", "status", res.Status.String(),
		"written", res.Written, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// renderer returns the per-entry decode and encode step.
func (c *Container) renderer(cfg *extractConfig) batch.RenderFunc {
	return func(entry *Entry) (*batch.Rendered, error) {
		img, err := c.decodeEntry(entry)
		if err != nil {
			return nil, err
		}

		format := FormatPNG
		var data []byte
		switch {
		case img.Kind == decode.KindEncoded && img.Format == FormatPNG:
			data = img.Stream
		case img.Kind == decode.KindEncoded && cfg.native:
			format = img.Format
			data = img.Stream
		default:
			if data, err = encodePNG(img); err != nil {
				return nil, err
			}
		}

		return &batch.Rendered{
			Name:   OutputName(entry, format, cfg.labels),
			Data:   data,
			Format: format,
			Width:  img.Width,
			Height: img.Height,
		}, nil
	}
}

// pngBufferPool shares encoder scratch buffers between workers.
type pngBufferPool struct {
	pool sync.Pool
}

func (p *pngBufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *pngBufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

// pngEncoder uses fixed settings so identical pixels give identical files.
var pngEncoder = &png.Encoder{
	CompressionLevel: png.DefaultCompression,
	BufferPool:       &pngBufferPool{},
}

func encodePNG(img *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img.Pixels); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrDecode, err)
	}
	return buf.Bytes(), nil
}

// OutputName returns the file name used for entry when written as format.
func OutputName(entry *Entry, format ImageFormat, labels bool) string {
	name := fmt.Sprintf("%04d", entry.Index)
	if labels {
		if l := SanitizeLabel(entry.Label); l != "" {
			name += "_" + l
		}
	}
	return name + format.Ext()
}

// SanitizeLabel lowercases label and replaces characters outside
// [a-z0-9_-] with underscores. Leading and trailing underscores are dropped.
func SanitizeLabel(label string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, label)
	return strings.Trim(mapped, "_")
}

func progress(fn ProgressFunc, ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}
