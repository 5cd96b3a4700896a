package fvtype

// ProgressEvent represents a progress update during extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Index is the entry that just completed, or -1 when not applicable.
	Index int

	// Err is the entry's failure, nil on success.
	Err error

	// BytesDone is the number of output bytes written so far.
	BytesDone uint64

	// FilesDone is the number of entries finished, successfully or not.
	FilesDone int

	// FilesTotal is the number of entries in the table.
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for extraction.
const (
	// StageParsing indicates the header and descriptor table are being validated.
	StageParsing ProgressStage = iota

	// StageExtracting indicates entries are being decoded and written.
	StageExtracting

	// StageDone indicates every entry has a result.
	StageDone
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageParsing:
		return "parsing"
	case StageExtracting:
		return "extracting"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
