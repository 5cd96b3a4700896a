// Package sizing holds overflow-checked arithmetic for container offsets,
// image dimensions, and bounded reads.
package sizing

import (
	"io"
	"math"
	"math/bits"
)

// MaxReadLimit is the largest limit accepted by ReadAtMost.
const MaxReadLimit = uint64(math.MaxInt - 1)

// Span returns off+n, or false when the end of the range overflows.
func Span(off, n uint64) (uint64, bool) {
	end, carry := bits.Add64(off, n, 0)
	return end, carry == 0
}

// Product multiplies factors, or returns false on overflow. An empty list
// yields 1.
func Product(factors ...uint64) (uint64, bool) {
	p := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(p, f)
		if hi != 0 {
			return 0, false
		}
		p = lo
	}
	return p, true
}

// ReadAtMost reads r to EOF, failing with errTooLarge as soon as it yields
// more than limit bytes.
func ReadAtMost(r io.Reader, limit uint64, errTooLarge error) ([]byte, error) {
	if limit > MaxReadLimit {
		return nil, errTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1)) //nolint:gosec // bounded above
	switch {
	case err != nil:
		return nil, err
	case uint64(len(data)) > limit:
		return nil, errTooLarge
	}
	return data, nil
}
