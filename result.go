package imagefv

import "github.com/opencontainers/go-digest"

// Status is the overall outcome of an extraction.
type Status uint8

const (
	// StatusSuccess means every entry was extracted (or skipped as existing).
	StatusSuccess Status = iota

	// StatusPartial means at least one entry failed.
	StatusPartial

	// StatusFatal means the container could not be read at all.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit code for s: 0, 1, or 2.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	default:
		return 2
	}
}

// EntryResult is the outcome of one entry.
type EntryResult struct {
	Index int
	Label string

	// Path is the output name relative to the destination directory.
	// It is empty when the entry failed.
	Path string

	// Kind classifies Err; KindNone on success.
	Kind ErrorKind
	Err  error

	// Format is the written file format.
	Format ImageFormat
	Width  int
	Height int

	// Size is the number of bytes written and Digest their sha256.
	Size   uint64
	Digest digest.Digest

	// Skipped is true when the output already existed and overwriting was disabled.
	Skipped bool
}

// OK reports whether the entry succeeded.
func (r *EntryResult) OK() bool {
	return r.Err == nil
}

// Result is the outcome of an extraction. It is not modified after being returned.
type Result struct {
	Status Status

	// Fatal is the header-level error for StatusFatal.
	Fatal error

	// Header is zero for StatusFatal.
	Header Header

	// Offset is where the container starts in its source.
	Offset uint64

	// Entries holds one result per descriptor, ordered by index.
	Entries []EntryResult

	// Written and Skipped count successful entries; Failed counts the rest.
	// Canceled is the part of Failed that was never dispatched.
	Written  int
	Skipped  int
	Failed   int
	Canceled int

	// Bytes is the total size of written files.
	Bytes uint64
}

// FailedEntries returns the entries that did not succeed.
func (r *Result) FailedEntries() []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if !e.OK() {
			out = append(out, e)
		}
	}
	return out
}

// fatalResult builds the result for a header-level failure.
func fatalResult(err error) *Result {
	return &Result{Status: StatusFatal, Fatal: err}
}
