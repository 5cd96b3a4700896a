// Package source owns the raw container bytes and hands out bounds-checked,
// read-only views of them.
package source

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/sizing"
)

// Source is an immutable container buffer, either caller-supplied or a
// read-only memory map of a file.
//
// A Source may have several owners (see Share); the mapping is released when
// the last of them calls Close.
type Source struct {
	data []byte
	mm   mmap.MMap
	name string
	refs atomic.Int32
}

func newSource(data []byte, mm mmap.MMap, name string) *Source {
	s := &Source{data: data, mm: mm, name: name}
	s.refs.Store(1)
	return s
}

// FromBytes wraps data. The caller must not modify data while the Source is in use.
func FromBytes(data []byte) *Source {
	return newSource(data, nil, "memory")
}

// Open maps the file at path read-only.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("open %s: not a regular file", path)
	}
	// Zero-length files cannot be mapped.
	if info.Size() == 0 {
		return newSource([]byte{}, nil, path), nil
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return newSource(mm, mm, path), nil
}

// Name returns the file path, or "memory" for in-memory sources.
func (s *Source) Name() string {
	return s.name
}

// Size returns the number of bytes in the source.
func (s *Source) Size() uint64 {
	return uint64(len(s.data))
}

// View returns a view over the whole source.
func (s *Source) View() View {
	return View{data: s.data}
}

// Share registers another owner and returns s. Every owner must call Close.
func (s *Source) Share() *Source {
	s.refs.Add(1)
	return s
}

// Close drops one owner. The last owner releases the memory map, if any;
// views must not be used afterwards. Extra calls are no-ops.
func (s *Source) Close() error {
	if s.refs.Add(-1) != 0 || s.mm == nil {
		return nil
	}
	err := s.mm.Unmap()
	s.mm = nil
	s.data = nil
	return err
}

// View is a read-only window over container bytes. Every access goes through
// Range, which is the only place offsets from the container are turned into slices.
type View struct {
	data []byte
}

// NewView returns a view over data.
func NewView(data []byte) View {
	return View{data: data}
}

// Len returns the view length.
func (v View) Len() uint64 {
	return uint64(len(v.data))
}

// Range returns the n bytes at off. It fails with ErrTruncated when the range
// overflows or does not fit in the view. The returned slice aliases the
// source, has no spare capacity, and must be treated as immutable.
func (v View) Range(off, n uint64) ([]byte, error) {
	end, ok := sizing.Span(off, n)
	if !ok {
		return nil, fmt.Errorf("%w: range %d+%d overflows", fvtype.ErrTruncated, off, n)
	}
	if end > v.Len() {
		return nil, fmt.Errorf("%w: range [%d, %d) exceeds %d bytes", fvtype.ErrTruncated, off, end, v.Len())
	}
	return v.data[off:end:end], nil
}

// Sub returns the view restricted to [off, off+n).
func (v View) Sub(off, n uint64) (View, error) {
	b, err := v.Range(off, n)
	if err != nil {
		return View{}, err
	}
	return View{data: b}, nil
}
