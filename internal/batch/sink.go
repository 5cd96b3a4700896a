package batch

import "io"

// Sink receives rendered entry output during batch processing.
//
// Implementations determine where output is written and can skip names
// that should not be produced again.
type Sink interface {
	// ShouldProcess returns false if the named output should be skipped.
	ShouldProcess(name string) bool

	// Writer returns a writer for the named output.
	// The returned Committer must have Commit() called after a successful
	// write, or Discard() called on any error.
	Writer(name string) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called. A file-based
// implementation writes to a temp file and renames it on Commit, or deletes
// it on Discard.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making the output visible.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}
