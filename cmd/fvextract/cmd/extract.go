package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gopkg.in/yaml.v3"

	"github.com/meigma/imagefv"
)

var (
	colorSuccess = color.New(color.FgHiGreen).SprintFunc()
	colorPartial = color.New(color.FgHiYellow).SprintFunc()
	colorFatal   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	colorSize    = color.New(color.FgHiCyan).SprintFunc()
	colorName    = color.New(color.Bold).SprintFunc()
)

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "extracted_images", "Folder to extract images to")
	extractCmd.Flags().IntP("workers", "w", 0, "Number of entries decoded concurrently (default: number of CPUs)")
	extractCmd.Flags().BoolP("labels", "l", false, "Append descriptor labels to output file names")
	extractCmd.Flags().BoolP("native", "n", false, "Keep embedded JPEG/GIF/BMP streams in their own format")
	extractCmd.Flags().Bool("no-overwrite", false, "Skip outputs that already exist")
	extractCmd.Flags().BoolP("scan", "s", false, "Search the input for image volumes instead of expecting one at offset 0")
	extractCmd.Flags().StringP("report", "r", "", "Write a YAML run report to this file")
	extractCmd.Flags().BoolP("progress", "p", false, "Show a progress bar")
	extractCmd.MarkFlagDirname("output")
	extractCmd.MarkFlagFilename("report")
	viper.BindPFlag("extract.output", extractCmd.Flags().Lookup("output"))
	viper.BindPFlag("extract.workers", extractCmd.Flags().Lookup("workers"))
	viper.BindPFlag("extract.labels", extractCmd.Flags().Lookup("labels"))
	viper.BindPFlag("extract.native", extractCmd.Flags().Lookup("native"))
	viper.BindPFlag("extract.no-overwrite", extractCmd.Flags().Lookup("no-overwrite"))
	viper.BindPFlag("extract.scan", extractCmd.Flags().Lookup("scan"))
	viper.BindPFlag("extract.report", extractCmd.Flags().Lookup("report"))
	viper.BindPFlag("extract.progress", extractCmd.Flags().Lookup("progress"))
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:           "extract <IMAGEFV>...",
	Aliases:       []string{"e"},
	Short:         "Extract every image from one or more image volumes",
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogging()

		output := viper.GetString("extract.output")
		scan := viper.GetBool("extract.scan")
		opts := []imagefv.ExtractOption{
			imagefv.ExtractWithWorkers(viper.GetInt("extract.workers")),
			imagefv.ExtractWithLabels(viper.GetBool("extract.labels")),
			imagefv.ExtractWithNativeFormat(viper.GetBool("extract.native")),
			imagefv.ExtractWithOverwrite(!viper.GetBool("extract.no-overwrite")),
			imagefv.ExtractWithOpenOptions(
				imagefv.WithScan(scan),
				imagefv.WithLogger(logger),
			),
		}
		if logger != nil {
			opts = append(opts, imagefv.ExtractWithLogger(logger))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var p *mpb.Progress
		if viper.GetBool("extract.progress") {
			p = mpb.New(mpb.WithWidth(80))
		}

		rep := &report{}
		for _, input := range args {
			input = filepath.Clean(input)
			dest := outputDir(output, input, len(args) > 1)

			runOpts := opts
			var bar *mpb.Bar
			if p != nil {
				bar = newBar(p, filepath.Base(input))
				runOpts = append(runOpts, imagefv.ExtractWithProgress(barProgress(bar)))
			}

			log.WithField("input", input).Info("Extracting images")
			results, interrupted := runExtract(ctx, cancel, input, dest, scan, runOpts)
			if bar != nil && !bar.Completed() {
				if interrupted {
					bar.Abort(false)
				} else {
					bar.SetTotal(-1, true)
				}
			}
			for _, res := range results {
				out := dest
				if len(results) > 1 {
					out = filepath.Join(dest, imagefv.ContainerDir(res.Offset))
				}
				rep.add(input, out, res)
				printResult(out, res)
			}
			if interrupted {
				log.Warn("Interrupted, remaining inputs skipped")
				break
			}
		}
		if p != nil {
			p.Wait()
		}

		if path := viper.GetString("extract.report"); path != "" {
			if err := rep.write(path); err != nil {
				return err
			}
			log.WithField("path", path).Info("Wrote report")
		}

		if rep.ExitCode != 0 {
			return &exitError{code: rep.ExitCode}
		}
		return nil
	},
}

// runExtract extracts one input, or with scan every volume found in it. On
// SIGINT/SIGTERM it cancels dispatch and waits for entries already being
// written to commit or discard.
func runExtract(ctx context.Context, cancel context.CancelFunc, input, dest string, scan bool, opts []imagefv.ExtractOption) ([]*imagefv.Result, bool) {
	var results []*imagefv.Result
	done := make(chan struct{})

	err := ctrlc.Default.Run(ctx, func() error {
		defer close(done)
		if scan {
			results, _ = imagefv.ExtractAll(ctx, input, dest, opts...) //nolint:errcheck // fatal errors are carried in results
			return nil
		}
		res, _ := imagefv.Extract(ctx, input, dest, opts...) //nolint:errcheck // fatal errors are carried in res
		results = []*imagefv.Result{res}
		return nil
	})
	if err == nil {
		return results, false
	}
	if errors.As(err, &ctrlc.ErrorCtrlC{}) {
		log.Warn("Stopping, waiting for in-flight writes...")
	}
	cancel()
	<-done
	return results, true
}

// outputDir returns the destination for input. With several inputs each
// gets its own subdirectory named after the input file.
func outputDir(output, input string, multi bool) string {
	if !multi {
		return output
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if stem == "" || stem == "." {
		stem = filepath.Base(input)
	}
	return filepath.Join(output, stem)
}

func newBar(p *mpb.Progress, name string) *mpb.Bar {
	return p.New(0,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ "),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d/%d"),
			decor.Name(" ] "),
		),
	)
}

// barProgress adapts extraction progress events to a progress bar. Totals
// accumulate across the volumes of one input; the caller completes the bar.
func barProgress(bar *mpb.Bar) imagefv.ProgressFunc {
	var total int64
	return func(ev imagefv.ProgressEvent) {
		switch ev.Stage {
		case imagefv.StageParsing:
			total += int64(ev.FilesTotal)
			bar.SetTotal(total, false)
		case imagefv.StageExtracting:
			bar.Increment()
		}
	}
}

func printResult(dest string, res *imagefv.Result) {
	switch res.Status {
	case imagefv.StatusFatal:
		log.Errorf("%s: %v", colorFatal("FATAL"), res.Fatal)
		return
	case imagefv.StatusPartial:
		msg := fmt.Sprintf("%s: %d written, %d skipped, %d failed", colorPartial("PARTIAL"), res.Written, res.Skipped, res.Failed)
		if res.Canceled > 0 {
			msg += fmt.Sprintf(" (%d canceled)", res.Canceled)
		}
		log.Warnf("%s (%s) to %s", msg, colorSize(humanize.Bytes(res.Bytes)), colorName(dest))
	default:
		log.Infof("%s: %d written, %d skipped (%s) to %s",
			colorSuccess("OK"), res.Written, res.Skipped,
			colorSize(humanize.Bytes(res.Bytes)), colorName(dest))
	}

	for _, e := range res.Entries {
		if e.Err != nil {
			log.WithFields(log.Fields{
				"index": e.Index,
				"kind":  e.Kind.String(),
			}).Warn(e.Err.Error())
			continue
		}
		ctx := log.WithFields(log.Fields{
			"index": e.Index,
			"size":  humanize.Bytes(e.Size),
			"dims":  fmt.Sprintf("%dx%d", e.Width, e.Height),
		})
		if e.Skipped {
			ctx.Debugf("Skipped existing %s", e.Path)
		} else {
			ctx.Debugf("Wrote %s", e.Path)
		}
	}
}

// report is the YAML run summary written by --report.
type report struct {
	ExitCode int           `yaml:"exit_code"`
	Inputs   []inputReport `yaml:"inputs"`
}

type inputReport struct {
	Input    string        `yaml:"input"`
	Output   string        `yaml:"output"`
	Status   string        `yaml:"status"`
	Error    string        `yaml:"error,omitempty"`
	Offset   uint64        `yaml:"offset"`
	Magic    string        `yaml:"magic,omitempty"`
	Version  uint16        `yaml:"version,omitempty"`
	Written  int           `yaml:"written"`
	Skipped  int           `yaml:"skipped"`
	Failed   int           `yaml:"failed"`
	Canceled int           `yaml:"canceled,omitempty"`
	Bytes    uint64        `yaml:"bytes"`
	Entries  []entryReport `yaml:"entries,omitempty"`
}

type entryReport struct {
	Index   int    `yaml:"index"`
	Label   string `yaml:"label,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Width   int    `yaml:"width,omitempty"`
	Height  int    `yaml:"height,omitempty"`
	Size    uint64 `yaml:"size,omitempty"`
	Digest  string `yaml:"digest,omitempty"`
	Skipped bool   `yaml:"skipped,omitempty"`
	Kind    string `yaml:"kind,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

func (r *report) add(input, dest string, res *imagefv.Result) {
	in := inputReport{
		Input:    input,
		Output:   dest,
		Status:   res.Status.String(),
		Written:  res.Written,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Canceled: res.Canceled,
		Bytes:    res.Bytes,
	}
	if res.Fatal != nil {
		in.Error = res.Fatal.Error()
	} else {
		in.Offset = res.Offset
		in.Magic = res.Header.MagicString()
		in.Version = res.Header.Version
	}
	for _, e := range res.Entries {
		er := entryReport{
			Index:   e.Index,
			Label:   e.Label,
			Path:    e.Path,
			Skipped: e.Skipped,
		}
		if e.Err != nil {
			er.Kind = e.Kind.String()
			er.Error = e.Err.Error()
		} else {
			er.Format = e.Format.String()
			er.Width = e.Width
			er.Height = e.Height
			er.Size = e.Size
			er.Digest = e.Digest.String()
		}
		in.Entries = append(in.Entries, er)
	}
	r.Inputs = append(r.Inputs, in)
	r.ExitCode = max(r.ExitCode, res.Status.ExitCode())
}

func (r *report) write(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %v", err)
	}
	return nil
}
