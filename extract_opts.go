package imagefv

import "log/slog"

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers   int
	labels    bool
	native    bool
	overwrite bool
	progress  ProgressFunc
	logger    *slog.Logger
	openOpts  []Option
}

func defaultExtractConfig() extractConfig {
	return extractConfig{overwrite: true}
}

// ExtractWithWorkers sets the number of entries decoded concurrently.
// Values < 1 use GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithLabels appends the sanitized descriptor label to output names,
// as in 0003_charger.png.
func ExtractWithLabels(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.labels = enabled
	}
}

// ExtractWithNativeFormat writes embedded JPEG, GIF, and BMP streams
// unchanged with their own extension instead of converting them to PNG.
func ExtractWithNativeFormat(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.native = enabled
	}
}

// ExtractWithOverwrite controls whether existing output files are replaced.
// By default they are, so repeated runs produce identical directories.
// When disabled, existing files are reported as skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithProgress sets a callback for progress updates.
// The callback may be invoked concurrently from worker goroutines.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}

// ExtractWithLogger sets the logger for per-entry debug records.
// By default the container's logger is used.
func ExtractWithLogger(logger *slog.Logger) ExtractOption {
	return func(c *extractConfig) {
		c.logger = logger
	}
}

// ExtractWithOpenOptions passes options to Open. It only affects the
// package-level Extract.
func ExtractWithOpenOptions(opts ...Option) ExtractOption {
	return func(c *extractConfig) {
		c.openOpts = append(c.openOpts, opts...)
	}
}
