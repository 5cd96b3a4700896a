package batch

// ProcessStats contains statistics from a batch processing operation.
type ProcessStats struct {
	// Processed is the number of entries written to the sink.
	Processed int

	// Skipped is the number of entries whose output already existed.
	Skipped int

	// Failed is the number of entries with an error, canceled ones included.
	Failed int

	// Canceled is the number of entries never dispatched.
	Canceled int

	// TotalBytes is the number of output bytes written.
	TotalBytes uint64
}

// add accumulates one outcome.
func (s *ProcessStats) add(o *Outcome) {
	switch {
	case o.Err != nil:
		s.Failed++
		if o.Canceled() {
			s.Canceled++
		}
	case o.Skipped:
		s.Skipped++
	default:
		s.Processed++
		s.TotalBytes += o.Size
	}
}
