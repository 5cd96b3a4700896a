package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/source"
	"github.com/meigma/imagefv/internal/testutil"
)

// mustLoadIndex loads an index or fails the test.
func mustLoadIndex(tb testing.TB, data []byte, opts ...Option) *Index {
	tb.Helper()
	idx, err := Load(source.NewView(data), opts...)
	require.NoError(tb, err, "Load failed")
	return idx
}

func rawEntry(payload []byte) testutil.TestEntry {
	return testutil.TestEntry{
		Encoding:    fvtype.EncodingRaw,
		PixelFormat: fvtype.PixelFormatGray8,
		Width:       uint16(len(payload)), //nolint:gosec // small test payloads
		Height:      1,
		Payload:     payload,
	}
}

func TestLoadHeader(t *testing.T) {
	t.Parallel()

	valid := testutil.BuildContainer(t, testutil.TestContainer{
		Entries: []testutil.TestEntry{rawEntry([]byte{1, 2, 3})},
	})

	badMagic := append([]byte(nil), valid...)
	copy(badMagic, "NOTAFV\x00\x00")

	badVersion := testutil.BuildContainer(t, testutil.TestContainer{Version: 7})

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "empty", data: nil, wantErr: fvtype.ErrTruncated},
		{name: "short header", data: valid[:fvtype.HeaderSize-1], wantErr: fvtype.ErrTruncated},
		{name: "bad magic", data: badMagic, wantErr: fvtype.ErrFormat},
		{name: "bad version", data: badVersion, wantErr: fvtype.ErrFormat},
		{name: "declared size past buffer", data: valid[:len(valid)-1], wantErr: fvtype.ErrTruncated},
		{
			name: "table larger than declared size",
			data: testutil.BuildContainer(t, testutil.TestContainer{
				Entries:   []testutil.TestEntry{rawEntry([]byte{1})},
				TotalSize: testutil.U32(fvtype.HeaderSize),
			}),
			wantErr: fvtype.ErrTruncated,
		},
		{
			name: "table checksum mismatch",
			data: testutil.BuildContainer(t, testutil.TestContainer{
				Entries:  []testutil.TestEntry{rawEntry([]byte{1})},
				TableCRC: testutil.U32(0xdeadbeef),
			}),
			wantErr: fvtype.ErrFormat,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(source.NewView(tt.data))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadMaxEntries(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{
		Entries: []testutil.TestEntry{rawEntry([]byte{1}), rawEntry([]byte{2})},
	})

	_, err := Load(source.NewView(data), WithMaxEntries(1))
	require.ErrorIs(t, err, fvtype.ErrFormat)

	idx := mustLoadIndex(t, data, WithMaxEntries(0))
	assert.Equal(t, 2, idx.Len())
}

func TestLoadEmptyTable(t *testing.T) {
	t.Parallel()

	idx := mustLoadIndex(t, testutil.BuildContainer(t, testutil.TestContainer{}))
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, uint64(fvtype.HeaderSize), idx.View().Len())
}

func TestLoadLogoMagicVersion1(t *testing.T) {
	t.Parallel()

	magic := fvtype.MagicLogoFV
	data := testutil.BuildContainer(t, testutil.TestContainer{
		Magic:   &magic,
		Version: fvtype.Version1,
		Entries: []testutil.TestEntry{rawEntry([]byte{9, 9})},
	})
	idx := mustLoadIndex(t, data)
	assert.Equal(t, "LOGOFV", idx.Header().MagicString())
	assert.Equal(t, uint32(0), idx.Header().TableCRC)

	e, ok := idx.Entry(0)
	require.True(t, ok)
	assert.True(t, e.Valid())
}

func TestLoadTrailerIgnored(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{
		Entries: []testutil.TestEntry{rawEntry([]byte{1, 2})},
		Trailer: []byte{0xFF, 0xFF, 0xFF, 0xFF},
	})
	idx := mustLoadIndex(t, data)
	assert.Equal(t, uint64(len(data)-4), idx.View().Len())
}

func TestLoadEntryErrors(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{
		Entries: []testutil.TestEntry{
			rawEntry([]byte{1, 2, 3}),
			{Encoding: fvtype.EncodingRaw, PixelFormat: fvtype.PixelFormatGray8, Width: 1, Height: 1,
				Payload: []byte{1}, Length: testutil.U32(1 << 20)},
			{Encoding: fvtype.EncodingRaw, PixelFormat: fvtype.PixelFormatGray8, Width: 1, Height: 1,
				Payload: []byte{1}, Offset: testutil.U32(0xFFFFFFFF)},
			{Encoding: fvtype.EncodingRaw, PixelFormat: fvtype.PixelFormatGray8, Width: 1, Height: 1,
				Payload: []byte{1}, Length: testutil.U32(0)},
			{Encoding: fvtype.Encoding(9), Payload: []byte{1}},
			{Encoding: fvtype.EncodingEmbedded, Compression: fvtype.Compression(42), Payload: []byte{1}},
			{Encoding: fvtype.EncodingRaw, PixelFormat: fvtype.PixelFormat(200), Width: 1, Height: 1, Payload: []byte{1}},
			{Encoding: fvtype.EncodingEmbedded, Label: "splash", Payload: []byte("x")},
		},
	})
	idx := mustLoadIndex(t, data)
	require.Equal(t, 8, idx.Len())

	want := []error{
		nil,
		fvtype.ErrTruncated,
		fvtype.ErrTruncated,
		fvtype.ErrTruncated,
		fvtype.ErrUnsupportedCompression,
		fvtype.ErrUnsupportedCompression,
		fvtype.ErrUnsupportedCompression,
		nil,
	}
	i := 0
	for e := range idx.Entries() {
		assert.Equal(t, i, e.Index)
		if want[i] == nil {
			assert.NoError(t, e.Err, "entry %d", i)
		} else {
			require.ErrorIs(t, e.Err, want[i], "entry %d", i)
			var entryErr *fvtype.EntryError
			require.ErrorAs(t, e.Err, &entryErr)
			assert.Equal(t, i, entryErr.Index)
			assert.Equal(t, fvtype.StageTable, entryErr.Stage)
		}
		i++
	}

	last, ok := idx.Entry(7)
	require.True(t, ok)
	assert.Equal(t, "splash", last.Label)

	_, ok = idx.Entry(8)
	assert.False(t, ok)
}

func TestLoadVersion1RejectsCompression(t *testing.T) {
	t.Parallel()

	data := testutil.BuildContainer(t, testutil.TestContainer{
		Version: fvtype.Version1,
		Entries: []testutil.TestEntry{{
			Encoding:    fvtype.EncodingRaw,
			Compression: fvtype.CompressionGzip,
			PixelFormat: fvtype.PixelFormatGray8,
			Width:       4,
			Height:      1,
			Payload:     []byte{1, 2, 3, 4},
		}},
	})
	idx := mustLoadIndex(t, data)
	e, _ := idx.Entry(0)
	require.ErrorIs(t, e.Err, fvtype.ErrUnsupportedCompression)
}

func TestLoadOverlappingEntries(t *testing.T) {
	t.Parallel()

	off := uint32(fvtype.HeaderSize + 2*fvtype.DescriptorSize)
	data := testutil.BuildContainer(t, testutil.TestContainer{
		Entries: []testutil.TestEntry{
			rawEntry([]byte{1, 2, 3, 4}),
			{Encoding: fvtype.EncodingRaw, PixelFormat: fvtype.PixelFormatGray8, Width: 2, Height: 1,
				Payload: []byte{5, 6}, Offset: testutil.U32(off)},
		},
	})
	idx := mustLoadIndex(t, data)
	for e := range idx.Entries() {
		assert.NoError(t, e.Err)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	inner := testutil.BuildContainer(t, testutil.TestContainer{})
	data := append([]byte("\x7fELF-padding"), inner...)
	data = append(data, []byte("LOGOFV\x00\x00")...)

	offsets := Find(data)
	assert.Equal(t, []int{12, 12 + len(inner)}, offsets)
	assert.Empty(t, Find([]byte("nothing here")))
}
