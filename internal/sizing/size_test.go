package sizing

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTooLarge = errors.New("too large")

func TestSpan(t *testing.T) {
	t.Parallel()

	end, ok := Span(32, 64)
	assert.True(t, ok)
	assert.Equal(t, uint64(96), end)

	end, ok = Span(math.MaxUint64, 0)
	assert.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64), end)

	_, ok = Span(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestProduct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		factors []uint64
		want    uint64
		ok      bool
	}{
		{name: "empty", want: 1, ok: true},
		{name: "zero", factors: []uint64{0, math.MaxUint64}, want: 0, ok: true},
		{name: "raster", factors: []uint64{64, 64, 2}, want: 8192, ok: true},
		{name: "max dimensions", factors: []uint64{math.MaxUint16, math.MaxUint16, 4}, want: 17179344900, ok: true},
		{name: "overflow", factors: []uint64{math.MaxUint64, 2}, ok: false},
		{name: "overflow late", factors: []uint64{math.MaxUint32 + 1, math.MaxUint32, 2}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Product(tt.factors...)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestReadAtMost(t *testing.T) {
	t.Parallel()

	data, err := ReadAtMost(bytes.NewReader([]byte("abcd")), 4, errTooLarge)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	_, err = ReadAtMost(bytes.NewReader([]byte("abcde")), 4, errTooLarge)
	require.ErrorIs(t, err, errTooLarge)

	_, err = ReadAtMost(bytes.NewReader(nil), MaxReadLimit+1, errTooLarge)
	require.ErrorIs(t, err, errTooLarge)

	_, err = ReadAtMost(iotestErrReader{}, 4, errTooLarge)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }
