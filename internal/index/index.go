package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/source"
)

// rawDescriptor mirrors the on-disk descriptor layout.
type rawDescriptor struct {
	Offset       uint32
	Length       uint32
	Encoding     uint8
	Compression  uint8
	PixelFormat  uint8
	_            uint8
	Width        uint16
	Height       uint16
	OriginalSize uint32
	Label        [fvtype.LabelSize]byte
}

// Index provides access to a validated header and its descriptor table.
//
// Entries are ordered by table position. Entries that failed validation are
// kept with their Err field set.
type Index struct {
	header  fvtype.Header
	view    source.View
	entries []fvtype.Entry
}

// Option configures Load.
type Option func(*config)

type config struct {
	maxEntries uint32
}

// WithMaxEntries caps the declared entry count. Zero disables the limit.
func WithMaxEntries(n uint32) Option {
	return func(c *config) {
		c.maxEntries = n
	}
}

// Load validates the header at the start of v and decodes the descriptor table.
//
// Only header-level problems produce an error. The returned index retains v;
// the underlying bytes must not change while it is in use.
func Load(v source.View, opts ...Option) (*Index, error) {
	cfg := config{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&cfg)
	}

	hdr, container, err := ParseHeader(v, cfg.maxEntries)
	if err != nil {
		return nil, err
	}

	entries := make([]fvtype.Entry, hdr.EntryCount)
	for i := range entries {
		off := uint64(fvtype.HeaderSize) + uint64(i)*fvtype.DescriptorSize
		buf, err := container.Range(off, fvtype.DescriptorSize)
		if err != nil {
			// ParseHeader already checked the table fits.
			return nil, err
		}
		var raw rawDescriptor
		if _, err := binary.Decode(buf, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: descriptor %d: %v", fvtype.ErrFormat, i, err)
		}
		entries[i] = newEntry(i, &raw)
		if err := validate(&entries[i], hdr, container.Len()); err != nil {
			entries[i].Err = &fvtype.EntryError{Index: i, Stage: fvtype.StageTable, Err: err}
		}
	}

	return &Index{
		header:  hdr,
		view:    container,
		entries: entries,
	}, nil
}

func newEntry(i int, raw *rawDescriptor) fvtype.Entry {
	return fvtype.Entry{
		Index:        i,
		Offset:       raw.Offset,
		Length:       raw.Length,
		Encoding:     fvtype.Encoding(raw.Encoding),
		Compression:  fvtype.Compression(raw.Compression),
		PixelFormat:  fvtype.PixelFormat(raw.PixelFormat),
		Width:        raw.Width,
		Height:       raw.Height,
		OriginalSize: raw.OriginalSize,
		Label:        string(bytes.TrimRight(raw.Label[:], "\x00")),
	}
}

// validate applies the per-descriptor checks in table order.
func validate(e *fvtype.Entry, hdr fvtype.Header, size uint64) error {
	if e.Length == 0 {
		return fmt.Errorf("%w: empty payload", fvtype.ErrTruncated)
	}
	if e.End() > size {
		return fmt.Errorf("%w: payload [%d, %d) exceeds container size %d", fvtype.ErrTruncated, e.Offset, e.End(), size)
	}
	if !e.Encoding.Valid() {
		return fmt.Errorf("%w: encoding tag %d", fvtype.ErrUnsupportedCompression, uint8(e.Encoding))
	}
	if !e.Compression.Valid() {
		return fmt.Errorf("%w: compression tag %d", fvtype.ErrUnsupportedCompression, uint8(e.Compression))
	}
	if hdr.Version < fvtype.Version2 && e.Compression != fvtype.CompressionNone {
		return fmt.Errorf("%w: %s compression requires version 2", fvtype.ErrUnsupportedCompression, e.Compression)
	}
	if e.Encoding == fvtype.EncodingRaw && e.PixelFormat.BytesPerPixel() == 0 {
		return fmt.Errorf("%w: pixel format tag %d", fvtype.ErrUnsupportedCompression, uint8(e.PixelFormat))
	}
	return nil
}

// Header returns the validated header.
func (idx *Index) Header() fvtype.Header {
	return idx.header
}

// View returns the container view, limited to the declared size.
func (idx *Index) View() source.View {
	return idx.view
}

// Len returns the number of descriptors.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entry returns the descriptor at table position i.
func (idx *Index) Entry(i int) (fvtype.Entry, bool) {
	if i < 0 || i >= len(idx.entries) {
		return fvtype.Entry{}, false
	}
	return idx.entries[i], true
}

// Entries returns an iterator over all descriptors in table order.
func (idx *Index) Entries() iter.Seq[fvtype.Entry] {
	return func(yield func(fvtype.Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e) {
				return
			}
		}
	}
}
