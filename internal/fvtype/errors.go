package fvtype

import (
	"errors"
	"fmt"
)

// Sentinel errors for container operations.
var (
	// ErrFormat is returned when the container magic, version, or checksum is not recognized.
	ErrFormat = errors.New("imagefv: unrecognized container format")

	// ErrTruncated is returned when a declared size or range exceeds the available bytes.
	ErrTruncated = errors.New("imagefv: truncated data")

	// ErrUnsupportedCompression is returned for reserved encoding, compression,
	// or pixel format tags.
	ErrUnsupportedCompression = errors.New("imagefv: unsupported compression")

	// ErrDecode is returned when a payload does not match its descriptor or
	// cannot be decoded.
	ErrDecode = errors.New("imagefv: decode failed")

	// ErrIO is returned when an output file cannot be written.
	ErrIO = errors.New("imagefv: i/o failure")

	// ErrCanceled is recorded for entries that were never dispatched because
	// the run was canceled.
	ErrCanceled = errors.New("imagefv: canceled")

	// ErrDecompression is returned when a compressed payload is corrupt.
	ErrDecompression = errors.New("imagefv: decompression failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("imagefv: size overflow")
)

// Stage identifies where in the pipeline an entry failed.
type Stage uint8

const (
	StageTable Stage = iota
	StageDecode
	StageWrite
	StageDispatch
)

func (s Stage) String() string {
	switch s {
	case StageTable:
		return "table"
	case StageDecode:
		return "decode"
	case StageWrite:
		return "write"
	case StageDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// EntryError reports a failure scoped to a single entry.
type EntryError struct {
	Index int
	Stage Stage
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error into the container error taxonomy.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindFormat
	KindTruncated
	KindUnsupportedCompression
	KindDecode
	KindIO
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFormat:
		return "format"
	case KindTruncated:
		return "truncated"
	case KindUnsupportedCompression:
		return "unsupported-compression"
	case KindDecode:
		return "decode"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf maps err onto the taxonomy. Errors outside it classify as KindIO,
// since only the write path produces foreign errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFormat):
		return KindFormat
	case errors.Is(err, ErrTruncated):
		return KindTruncated
	case errors.Is(err, ErrUnsupportedCompression):
		return KindUnsupportedCompression
	case errors.Is(err, ErrDecode), errors.Is(err, ErrDecompression), errors.Is(err, ErrSizeOverflow):
		return KindDecode
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	default:
		return KindIO
	}
}
