// Package batch decodes container entries on a bounded worker pool and
// writes the results through a Sink.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/imagefv/internal/fvtype"
)

// Rendered is the output produced for one entry.
type Rendered struct {
	// Name is the output path relative to the sink root.
	Name string

	// Data is the encoded output file content.
	Data []byte

	// Format is the output file format.
	Format fvtype.ImageFormat

	Width  int
	Height int
}

// RenderFunc turns one valid entry into output bytes. It must be safe for
// concurrent calls and should return errors wrapping the fvtype sentinels.
type RenderFunc func(entry *fvtype.Entry) (*Rendered, error)

// Outcome is the per-entry result of Process.
type Outcome struct {
	Index int

	// Name, Format, Width, and Height are set once rendering succeeded.
	Name   string
	Format fvtype.ImageFormat
	Width  int
	Height int

	// Size and Digest describe the written bytes.
	Size   uint64
	Digest digest.Digest

	// Skipped is true when the sink already held the output.
	Skipped bool

	// Err is an *fvtype.EntryError, nil on success.
	Err error
}

// Canceled reports whether the entry was never dispatched.
func (o *Outcome) Canceled() bool {
	return errors.Is(o.Err, fvtype.ErrCanceled)
}

// Processor handles decoding and writing of container entries.
type Processor struct {
	workers  int
	logger   *slog.Logger
	progress fvtype.ProgressFunc
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of concurrent entry workers.
// Values < 1 use GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithLogger sets the logger for per-entry debug records.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithProgress sets a callback invoked after every entry finishes.
func WithProgress(fn fvtype.ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Workers returns the worker count in effect.
func (p *Processor) Workers() int {
	return p.workers
}

// Process renders every valid entry and writes it to the sink.
//
// Entries that already carry a table error are recorded without being
// dispatched. Cancellation of ctx stops dispatch; entries not yet started
// are recorded with ErrCanceled while running ones finish and either commit
// or discard. The returned outcomes are indexed like entries.
func (p *Processor) Process(ctx context.Context, entries []fvtype.Entry, render RenderFunc, sink Sink) ([]Outcome, ProcessStats) {
	outcomes := make([]Outcome, len(entries))
	t := &tracker{p: p, total: len(entries)}

	for i := range entries {
		if err := entries[i].Err; err != nil {
			outcomes[i] = Outcome{Index: entries[i].Index, Err: err}
			t.done(&outcomes[i])
		}
	}

	// A slot is acquired before the context check so that a cancel issued
	// by a running entry is seen by the next dispatch.
	slots := semaphore.NewWeighted(int64(p.workers))
	var eg errgroup.Group
	for i := range entries {
		if entries[i].Err != nil {
			continue
		}
		err := slots.Acquire(ctx, 1)
		if err == nil {
			if err = ctx.Err(); err != nil {
				slots.Release(1)
			}
		}
		if err != nil {
			outcomes[i] = Outcome{
				Index: entries[i].Index,
				Err: &fvtype.EntryError{
					Index: entries[i].Index,
					Stage: fvtype.StageDispatch,
					Err:   fmt.Errorf("%w: %w", fvtype.ErrCanceled, err),
				},
			}
			t.done(&outcomes[i])
			continue
		}
		eg.Go(func() error {
			defer slots.Release(1)
			outcomes[i] = p.processEntry(&entries[i], render, sink)
			t.done(&outcomes[i])
			return nil
		})
	}
	_ = eg.Wait() //nolint:errcheck // workers record failures in outcomes

	var stats ProcessStats
	for i := range outcomes {
		stats.add(&outcomes[i])
	}
	return outcomes, stats
}

// processEntry renders and writes a single entry.
func (p *Processor) processEntry(entry *fvtype.Entry, render RenderFunc, sink Sink) Outcome {
	out := Outcome{Index: entry.Index}
	fail := func(stage fvtype.Stage, err error) Outcome {
		out.Err = &fvtype.EntryError{Index: entry.Index, Stage: stage, Err: err}
		return out
	}

	r, err := render(entry)
	if err != nil {
		return fail(fvtype.StageDecode, err)
	}
	out.Name = r.Name
	out.Format = r.Format
	out.Width = r.Width
	out.Height = r.Height

	if !sink.ShouldProcess(r.Name) {
		out.Skipped = true
		return out
	}

	w, err := sink.Writer(r.Name)
	if err != nil {
		return fail(fvtype.StageWrite, fmt.Errorf("%w: %w", fvtype.ErrIO, err))
	}
	if _, err := w.Write(r.Data); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fail(fvtype.StageWrite, fmt.Errorf("%w: write %s: %w", fvtype.ErrIO, r.Name, err))
	}
	if err := w.Commit(); err != nil {
		return fail(fvtype.StageWrite, fmt.Errorf("%w: commit %s: %w", fvtype.ErrIO, r.Name, err))
	}

	out.Size = uint64(len(r.Data))
	out.Digest = digest.FromBytes(r.Data)
	return out
}

// tracker reports progress and logs finished entries.
type tracker struct {
	p     *Processor
	total int
	files atomic.Int64
	bytes atomic.Uint64
}

func (t *tracker) done(o *Outcome) {
	files := t.files.Add(1)
	written := t.bytes.Add(o.Size)

	var entryErr *fvtype.EntryError
	if errors.As(o.Err, &entryErr) {
		t.p.logger.Debug("entry failed", "index", o.Index, "stage", entryErr.Stage.String(),
			"kind", fvtype.KindOf(o.Err).String(), "error", entryErr.Err)
	} else if o.Err != nil {
		t.p.logger.Debug("entry failed", "index", o.Index, "kind", fvtype.KindOf(o.Err).String(), "error", o.Err)
	} else {
		t.p.logger.Debug("entry extracted", "index", o.Index, "name", o.Name, "size", o.Size, "skipped", o.Skipped)
	}

	if t.p.progress != nil {
		t.p.progress(fvtype.ProgressEvent{
			Stage:      fvtype.StageExtracting,
			Index:      o.Index,
			Err:        o.Err,
			BytesDone:  written,
			FilesDone:  int(files),
			FilesTotal: t.total,
		})
	}
}
