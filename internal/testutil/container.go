package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/meigma/imagefv/internal/fvtype"
)

// TestEntry holds data for building one descriptor and its payload.
type TestEntry struct {
	Encoding    fvtype.Encoding
	Compression fvtype.Compression
	PixelFormat fvtype.PixelFormat
	Width       uint16
	Height      uint16
	Label       string

	// Payload is the uncompressed content. The builder compresses it
	// according to Compression and records OriginalSize.
	Payload []byte

	// Overrides applied after layout, for building malformed tables.
	Offset       *uint32
	Length       *uint32
	OriginalSize *uint32
}

// TestContainer holds data for building a whole container.
type TestContainer struct {
	// Magic defaults to MagicImageFV.
	Magic *[8]byte

	// Version defaults to Version2.
	Version uint16

	Entries []TestEntry

	// TotalSize overrides the declared size.
	TotalSize *uint32

	// TableCRC overrides the computed checksum. NoCRC leaves it zero.
	TableCRC *uint32
	NoCRC    bool

	// Trailer is appended after the declared container bytes.
	Trailer []byte
}

// U32 returns a pointer to v, for override fields.
func U32(v uint32) *uint32 {
	return &v
}

// BuildContainer lays out the header, descriptor table, and payloads.
// Payloads follow the table in entry order.
func BuildContainer(tb testing.TB, c TestContainer) []byte {
	tb.Helper()

	version := c.Version
	if version == 0 {
		version = fvtype.Version2
	}
	magic := fvtype.MagicImageFV
	if c.Magic != nil {
		magic = *c.Magic
	}

	payloadStart := fvtype.HeaderSize + fvtype.DescriptorSize*len(c.Entries)
	var payloads bytes.Buffer
	table := make([]byte, 0, fvtype.DescriptorSize*len(c.Entries))

	for _, e := range c.Entries {
		stored := Compress(tb, e.Compression, e.Payload)
		offset := uint32(payloadStart + payloads.Len()) //nolint:gosec // test sizes are small
		length := uint32(len(stored))                   //nolint:gosec // test sizes are small
		var original uint32
		if e.Compression != fvtype.CompressionNone {
			original = uint32(len(e.Payload)) //nolint:gosec // test sizes are small
		}
		payloads.Write(stored)

		if e.Offset != nil {
			offset = *e.Offset
		}
		if e.Length != nil {
			length = *e.Length
		}
		if e.OriginalSize != nil {
			original = *e.OriginalSize
		}

		var label [fvtype.LabelSize]byte
		copy(label[:], e.Label)

		desc := make([]byte, fvtype.DescriptorSize)
		binary.LittleEndian.PutUint32(desc[0:], offset)
		binary.LittleEndian.PutUint32(desc[4:], length)
		desc[8] = byte(e.Encoding)
		desc[9] = byte(e.Compression)
		desc[10] = byte(e.PixelFormat)
		binary.LittleEndian.PutUint16(desc[12:], e.Width)
		binary.LittleEndian.PutUint16(desc[14:], e.Height)
		binary.LittleEndian.PutUint32(desc[16:], original)
		copy(desc[20:], label[:])
		table = append(table, desc...)
	}

	total := uint32(payloadStart + payloads.Len()) //nolint:gosec // test sizes are small
	if c.TotalSize != nil {
		total = *c.TotalSize
	}
	var sum uint32
	if !c.NoCRC && version >= fvtype.Version2 {
		sum = crc32.ChecksumIEEE(table)
	}
	if c.TableCRC != nil {
		sum = *c.TableCRC
	}

	hdr := make([]byte, fvtype.HeaderSize)
	copy(hdr, magic[:])
	binary.LittleEndian.PutUint16(hdr[8:], version)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(c.Entries))) //nolint:gosec // test sizes are small
	binary.LittleEndian.PutUint32(hdr[16:], total)
	binary.LittleEndian.PutUint32(hdr[20:], sum)

	out := make([]byte, 0, payloadStart+payloads.Len()+len(c.Trailer))
	out = append(out, hdr...)
	out = append(out, table...)
	out = append(out, payloads.Bytes()...)
	return append(out, c.Trailer...)
}

// Compress encodes data with the given algorithm.
func Compress(tb testing.TB, c fvtype.Compression, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	switch c {
	case fvtype.CompressionNone:
		return data
	case fvtype.CompressionGzip:
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(tb, err)
		require.NoError(tb, w.Close())
	case fvtype.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		require.NoError(tb, err)
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	case fvtype.CompressionLZSS:
		return lzssLiterals(data)
	case fvtype.CompressionXZ:
		w, err := xz.NewWriter(&buf)
		require.NoError(tb, err)
		_, err = w.Write(data)
		require.NoError(tb, err)
		require.NoError(tb, w.Close())
	case fvtype.CompressionLZ4:
		w := lz4.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(tb, err)
		require.NoError(tb, w.Close())
	default:
		// Unknown algorithms store the bytes as-is so tables can carry reserved tags.
		return data
	}
	return buf.Bytes()
}

// lzssLiterals emits an LZSS stream made only of literal groups: a 0xFF flag
// byte followed by up to eight literal bytes.
func lzssLiterals(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/8+1)
	for len(data) > 0 {
		n := min(8, len(data))
		out = append(out, 0xFF)
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out
}
