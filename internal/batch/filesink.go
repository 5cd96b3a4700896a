package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// TempPrefix starts the name of every staged output file.
const TempPrefix = ".imagefv-"

// FileSink writes outputs as flat files in one destination directory.
//
// Each output is staged under a temporary name and renamed into place on
// Commit, so a partially written image is never visible under its final
// name. Every path is resolved through an os.Root opened on the directory.
type FileSink struct {
	root      *os.Root
	overwrite bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// OpenFileSink opens the existing directory dir as a sink.
// The caller must Close the sink once every Committer is finished.
func OpenFileSink(dir string, opts ...FileSinkOption) (*FileSink, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.root.Name()
}

// Close releases the destination directory.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// validName reports whether name is a plain file name that is not reserved
// for staging.
func validName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, TempPrefix)
}

// ShouldProcess returns false if name already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(name string) bool {
	if s.overwrite || !validName(name) {
		// Writer reports invalid names.
		return true
	}
	_, err := s.root.Lstat(name)
	return errors.Is(err, fs.ErrNotExist)
}

// Writer stages a new file that becomes name on Commit.
func (s *FileSink) Writer(name string) (Committer, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	f, temp, err := s.stage()
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	return &stagedFile{root: s.root, file: f, temp: temp, name: name}, nil
}

// stage creates an unused temporary file in the destination.
func (s *FileSink) stage() (*os.File, string, error) {
	var suffix [8]byte
	for range 10 {
		_, _ = rand.Read(suffix[:]) //nolint:errcheck // crypto/rand.Read never fails
		temp := TempPrefix + hex.EncodeToString(suffix[:])
		f, err := s.root.OpenFile(temp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if !errors.Is(err, fs.ErrExist) {
			return f, temp, err
		}
	}
	return nil, "", errors.New("no unused temporary name")
}

// stagedFile is a Committer backed by a temporary file in the sink's root.
type stagedFile struct {
	root *os.Root
	file *os.File
	temp string
	name string
}

func (f *stagedFile) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

// Commit syncs the staged file and renames it over name.
func (f *stagedFile) Commit() error {
	err := f.file.Sync()
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = f.root.Chmod(f.temp, 0o644)
	}
	if err == nil {
		err = f.root.Rename(f.temp, f.name)
	}
	if err != nil {
		_ = f.root.Remove(f.temp) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("commit %s: %w", f.name, err)
	}
	return nil
}

// Discard removes the staged file.
func (f *stagedFile) Discard() error {
	_ = f.file.Close() //nolint:errcheck // the file is removed next
	return f.root.Remove(f.temp)
}
