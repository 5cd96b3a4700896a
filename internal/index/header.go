package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"slices"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/sizing"
	"github.com/meigma/imagefv/internal/source"
)

// DefaultMaxEntries bounds the descriptor table size accepted by Load.
const DefaultMaxEntries = 1 << 16

// rawHeader mirrors the on-disk header layout.
type rawHeader struct {
	Magic      [8]byte
	Version    uint16
	Flags      uint16
	EntryCount uint32
	TotalSize  uint32
	TableCRC   uint32
	_          [8]byte
}

// ParseHeader reads and validates the header at the start of v.
//
// It returns the header together with the view limited to the declared
// container size; descriptor offsets are only meaningful inside that view.
func ParseHeader(v source.View, maxEntries uint32) (fvtype.Header, source.View, error) {
	buf, err := v.Range(0, fvtype.HeaderSize)
	if err != nil {
		return fvtype.Header{}, source.View{}, fmt.Errorf("header: %w", err)
	}

	var raw rawHeader
	if _, err := binary.Decode(buf, binary.LittleEndian, &raw); err != nil {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: header: %v", fvtype.ErrFormat, err)
	}
	if !fvtype.IsMagic(raw.Magic) {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: bad magic %x", fvtype.ErrFormat, raw.Magic)
	}
	if raw.Version != fvtype.Version1 && raw.Version != fvtype.Version2 {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: version %d", fvtype.ErrFormat, raw.Version)
	}
	if maxEntries > 0 && raw.EntryCount > maxEntries {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: %d entries exceeds limit %d", fvtype.ErrFormat, raw.EntryCount, maxEntries)
	}
	if uint64(raw.TotalSize) > v.Len() {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: declared size %d exceeds %d bytes", fvtype.ErrTruncated, raw.TotalSize, v.Len())
	}

	end, ok := tableEnd(raw.EntryCount)
	if !ok || end > uint64(raw.TotalSize) {
		return fvtype.Header{}, source.View{}, fmt.Errorf("%w: descriptor table for %d entries exceeds declared size %d",
			fvtype.ErrTruncated, raw.EntryCount, raw.TotalSize)
	}

	container, err := v.Sub(0, uint64(raw.TotalSize))
	if err != nil {
		return fvtype.Header{}, source.View{}, err
	}

	hdr := fvtype.Header{
		Magic:      raw.Magic,
		Version:    raw.Version,
		Flags:      raw.Flags,
		EntryCount: raw.EntryCount,
		TotalSize:  raw.TotalSize,
		TableCRC:   raw.TableCRC,
	}
	if hdr.Version >= fvtype.Version2 && hdr.TableCRC != 0 {
		table, err := container.Range(fvtype.HeaderSize, end-fvtype.HeaderSize)
		if err != nil {
			return fvtype.Header{}, source.View{}, err
		}
		if sum := crc32.ChecksumIEEE(table); sum != hdr.TableCRC {
			return fvtype.Header{}, source.View{}, fmt.Errorf("%w: table checksum %08x, header says %08x",
				fvtype.ErrFormat, sum, hdr.TableCRC)
		}
	}
	return hdr, container, nil
}

// tableEnd returns the offset just past the descriptor table.
func tableEnd(count uint32) (uint64, bool) {
	size, ok := sizing.Product(uint64(count), fvtype.DescriptorSize)
	if !ok {
		return 0, false
	}
	return sizing.Span(fvtype.HeaderSize, size)
}

// Find returns every offset in data where a supported magic signature
// starts, in ascending order. Candidates still need ParseHeader to confirm.
func Find(data []byte) []int {
	var offsets []int
	for _, magic := range fvtype.Magics {
		for pos := 0; pos < len(data); {
			i := bytes.Index(data[pos:], magic[:])
			if i < 0 {
				break
			}
			offsets = append(offsets, pos+i)
			pos += i + 1
		}
	}
	slices.Sort(offsets)
	return offsets
}
