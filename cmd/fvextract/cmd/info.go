package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/imagefv"
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolP("scan", "s", false, "Search the input and list every image volume found in it")
	infoCmd.Flags().BoolP("check", "c", false, "Decode every entry and report failures")
	viper.BindPFlag("info.scan", infoCmd.Flags().Lookup("scan"))
	viper.BindPFlag("info.check", infoCmd.Flags().Lookup("check"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info <IMAGEFV>",
	Aliases:       []string{"i"},
	Short:         "Show the header and descriptor table of an image volume",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogging()
		input := filepath.Clean(args[0])

		var (
			containers []*imagefv.Container
			err        error
		)
		if viper.GetBool("info.scan") {
			containers, err = imagefv.OpenAll(input, imagefv.WithLogger(logger))
		} else {
			var c *imagefv.Container
			if c, err = imagefv.Open(input, imagefv.WithLogger(logger)); err == nil {
				containers = []*imagefv.Container{c}
			}
		}
		if err != nil {
			log.Errorf("%s: %v", colorFatal("FATAL"), err)
			return &exitError{code: imagefv.StatusFatal.ExitCode()}
		}

		fmt.Printf("%s %s\n", colorName("File:"), input)
		check := viper.GetBool("info.check")
		failed, total := 0, 0
		for _, c := range containers {
			fmt.Println()
			failed += printContainer(c, check)
			total += c.Len()
			c.Close()
		}

		if failed > 0 {
			log.Warnf("%d of %d entries are not extractable", failed, total)
			return &exitError{code: imagefv.StatusPartial.ExitCode()}
		}
		return nil
	},
}

// printContainer prints the header and descriptor table of c and returns
// the number of entries that cannot be extracted. With check every entry is
// decoded; otherwise only descriptor errors count.
func printContainer(c *imagefv.Container, check bool) int {
	h := c.Header()
	fmt.Printf("%s %#x\n", colorName("Offset:"), c.Offset())
	fmt.Printf("%s %s v%d (flags %#04x)\n", colorName("Magic:"), h.MagicString(), h.Version, h.Flags)
	fmt.Printf("%s %s\n", colorName("Size:"), colorSize(humanize.Bytes(uint64(h.TotalSize))))
	if h.TableCRC != 0 {
		fmt.Printf("%s %#08x\n", colorName("Table CRC:"), h.TableCRC)
	}
	fmt.Println()

	failed := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tENCODING\tCOMPRESSION\tFORMAT\tSIZE\tOFFSET\tLENGTH\tLABEL\tSTATUS")
	for _, e := range c.Entries() {
		status := colorSuccess("ok")
		entryErr := e.Err
		if entryErr == nil && check {
			_, entryErr = c.Decode(e.Index)
		}
		if entryErr != nil {
			failed++
			status = colorFatal(imagefv.KindOf(entryErr).String())
			log.WithField("index", e.Index).Debug(entryErr.Error())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dx%d\t%#x\t%s\t%s\t%s\n",
			e.Index,
			e.Encoding,
			e.Compression,
			entryFormat(&e),
			e.Width, e.Height,
			e.Offset,
			humanize.Bytes(uint64(e.Length)),
			e.Label,
			status,
		)
	}
	w.Flush()
	return failed
}

// entryFormat describes the payload: the pixel layout for raw entries,
// "embedded" otherwise.
func entryFormat(e *imagefv.Entry) string {
	if e.Encoding == imagefv.EncodingRaw {
		return e.PixelFormat.String()
	}
	return "embedded"
}
