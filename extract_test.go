package imagefv

import (
	"bytes"
	"context"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imagefv/internal/testutil"
)

func loadTest(t *testing.T, c testutil.TestContainer, opts ...Option) *Container {
	t.Helper()
	ctr, err := Load(testutil.BuildContainer(t, c), opts...)
	require.NoError(t, err)
	return ctr
}

func readPNG(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	// Opaque images are stored as RGB and decode to *image.RGBA.
	return imaging.Clone(img)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func expand565(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		r, g, b := img.Pix[i]>>3, img.Pix[i+1]>>2, img.Pix[i+2]>>3
		out.Pix[i] = r<<3 | r>>2
		out.Pix[i+1] = g<<2 | g>>4
		out.Pix[i+2] = b<<3 | b>>2
		out.Pix[i+3] = 0xFF
	}
	return out
}

func TestExtractScenarioA(t *testing.T) {
	t.Parallel()

	entries, src, pngData := scenarioEntries(t)
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.Status.ExitCode())
	assert.Equal(t, []string{"0000.png", "0001.png"}, dirNames(t, dest))

	got := readPNG(t, filepath.Join(dest, "0000.png"))
	assert.Equal(t, expand565(src).Pix, got.Pix)

	raw, err := os.ReadFile(filepath.Join(dest, "0001.png"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngData, raw), "embedded PNG must be written unchanged")

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "0000.png", res.Entries[0].Path)
	assert.Equal(t, 64, res.Entries[0].Width)
	assert.Equal(t, FormatPNG, res.Entries[1].Format)
	assert.Equal(t, digest.FromBytes(pngData), res.Entries[1].Digest)
	assert.Equal(t, uint64(len(pngData)), res.Entries[1].Size)
	assert.Equal(t, 2, res.Written)
	assert.Empty(t, res.FailedEntries())
}

func TestExtractScenarioB(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	entries[0].Payload = append(entries[0].Payload, 0, 0)
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.Status.ExitCode())

	assert.Equal(t, KindDecode, res.Entries[0].Kind)
	assert.ErrorIs(t, res.Entries[0].Err, ErrDecode)
	assert.Empty(t, res.Entries[0].Path)
	assert.Equal(t, "0001.png", res.Entries[1].Path)
	assert.Equal(t, []string{"0001.png"}, dirNames(t, dest))
	assert.Equal(t, 1, res.Failed)
}

func TestExtractScenarioC(t *testing.T) {
	t.Parallel()

	c := loadTest(t, testutil.TestContainer{})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Entries)
	assert.Empty(t, dirNames(t, dest))
}

func TestExtractScenarioD(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.img")
	require.NoError(t, os.WriteFile(path, append([]byte("NOTANIMG"), make([]byte, 64)...), 0o600))
	dest := filepath.Join(dir, "out")

	res, err := Extract(context.Background(), path, dest)
	require.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, StatusFatal, res.Status)
	assert.Equal(t, 2, res.Status.ExitCode())
	assert.ErrorIs(t, res.Fatal, ErrFormat)
	assert.Empty(t, res.Entries)

	_, statErr := os.Stat(dest)
	assert.ErrorIs(t, statErr, fs.ErrNotExist, "destination must not be created")
}

func TestExtractFromPath(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	data := append([]byte("firmware header "), testutil.BuildContainer(t, testutil.TestContainer{Entries: entries})...)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	res, err := Extract(context.Background(), path, filepath.Join(dir, "out", "nested"),
		ExtractWithOpenOptions(WithScan(true)))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Written)
}

func TestExtractDeterministicAndIdempotent(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	entries = append(entries, testutil.TestEntry{
		Encoding: EncodingEmbedded,
		Payload:  testutil.EncodeBMP(t, testutil.Pattern(10, 10)),
	})
	data := testutil.BuildContainer(t, testutil.TestContainer{Entries: entries})

	run := func(dest string, workers int) *Result {
		c, err := Load(data)
		require.NoError(t, err)
		res, err := c.Extract(context.Background(), dest, ExtractWithWorkers(workers))
		require.NoError(t, err)
		return res
	}

	a, b := t.TempDir(), t.TempDir()
	resA := run(a, 1)
	resB := run(b, 8)
	resA2 := run(a, 4)

	for i := range resA.Entries {
		assert.Equal(t, resA.Entries[i].Digest, resB.Entries[i].Digest, "entry %d", i)
		assert.Equal(t, resA.Entries[i].Digest, resA2.Entries[i].Digest, "entry %d", i)
	}
	assert.Equal(t, dirNames(t, a), dirNames(t, b))
	for _, name := range dirNames(t, a) {
		x, err := os.ReadFile(filepath.Join(a, name))
		require.NoError(t, err)
		y, err := os.ReadFile(filepath.Join(b, name))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(x, y), name)
	}
}

func TestExtractNoOverwrite(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()
	existing := filepath.Join(dest, "0000.png")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o600))

	res, err := c.Extract(context.Background(), dest, ExtractWithOverwrite(false))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.Entries[0].Skipped)
	assert.Equal(t, "0000.png", res.Entries[0].Path)
	assert.Equal(t, 1, res.Skipped)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), got)
}

func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	entries = append(entries, testutil.TestEntry{Encoding: 9, Payload: []byte{1}})
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Extract(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, KindCanceled, res.Entries[0].Kind)
	assert.Equal(t, KindCanceled, res.Entries[1].Kind)
	assert.Equal(t, KindUnsupportedCompression, res.Entries[2].Kind)
	assert.Equal(t, 2, res.Canceled)
	assert.Equal(t, 3, res.Failed)
	assert.Empty(t, dirNames(t, dest))
}

func TestExtractEntryPastEnd(t *testing.T) {
	t.Parallel()

	entries, _, pngData := scenarioEntries(t)
	entries = []testutil.TestEntry{
		entries[0],
		{Encoding: EncodingEmbedded, Payload: pngData, Length: testutil.U32(1 << 20)},
		entries[1],
	}
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Canceled)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, KindTruncated, res.Entries[1].Kind)
	assert.Empty(t, res.Entries[1].Path)
	assert.Equal(t, []string{"0000.png", "0002.png"}, dirNames(t, dest))

	raw, err := os.ReadFile(filepath.Join(dest, "0002.png"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngData, raw))
}

func TestExtractAll(t *testing.T) {
	t.Parallel()

	entries, src, pngData := scenarioEntries(t)
	first := testutil.BuildContainer(t, testutil.TestContainer{Entries: entries[:1]})
	second := testutil.BuildContainer(t, testutil.TestContainer{Entries: entries})
	data := append(make([]byte, 16), first...)
	data = append(data, second...)
	secondOff := uint64(16 + len(first))

	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	dest := filepath.Join(dir, "out")

	results, err := ExtractAll(context.Background(), path, dest)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(16), results[0].Offset)
	assert.Equal(t, secondOff, results[1].Offset)
	assert.Equal(t, 1, results[0].Written)
	assert.Equal(t, 2, results[1].Written)

	assert.Equal(t, []string{"0x10", ContainerDir(secondOff)}, dirNames(t, dest))
	assert.Equal(t, []string{"0000.png"}, dirNames(t, filepath.Join(dest, "0x10")))
	assert.Equal(t, []string{"0000.png", "0001.png"}, dirNames(t, filepath.Join(dest, ContainerDir(secondOff))))

	got := readPNG(t, filepath.Join(dest, "0x10", "0000.png"))
	assert.Equal(t, expand565(src).Pix, got.Pix)
	raw, err := os.ReadFile(filepath.Join(dest, ContainerDir(secondOff), "0001.png"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(pngData, raw))
}

func TestExtractAllSingle(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.bin")
	data := append([]byte("boot "), testutil.BuildContainer(t, testutil.TestContainer{Entries: entries})...)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	dest := filepath.Join(dir, "out")

	results, err := ExtractAll(context.Background(), path, dest)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(5), results[0].Offset)
	assert.Equal(t, []string{"0000.png", "0001.png"}, dirNames(t, dest))

	results, err = ExtractAll(context.Background(), filepath.Join(dir, "missing.bin"), dest)
	require.ErrorIs(t, err, ErrIO)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFatal, results[0].Status)
}

func TestExtractLabelsAndNative(t *testing.T) {
	t.Parallel()

	src := testutil.Pattern(12, 9)
	jpegData := testutil.EncodeJPEG(t, src)
	gifData := testutil.EncodeGIF(t, src)
	entries := []testutil.TestEntry{
		{Encoding: EncodingEmbedded, Label: "Boot Logo", Payload: jpegData},
		{Encoding: EncodingEmbedded, Label: "anim/01", Payload: gifData},
		{Encoding: EncodingEmbedded, Label: "___", Payload: testutil.EncodeBMP(t, src)},
	}
	c := loadTest(t, testutil.TestContainer{Entries: entries})

	converted := t.TempDir()
	res, err := c.Extract(context.Background(), converted, ExtractWithLabels(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"0000_boot_logo.png", "0001_anim_01.png", "0002.png"}, dirNames(t, converted))
	for _, e := range res.Entries {
		assert.Equal(t, FormatPNG, e.Format)
	}
	assert.Equal(t, image.Rect(0, 0, 12, 9), readPNG(t, filepath.Join(converted, "0001_anim_01.png")).Bounds())

	native := t.TempDir()
	res, err = c.Extract(context.Background(), native, ExtractWithNativeFormat(true))
	require.NoError(t, err)
	assert.Equal(t, []string{"0000.jpg", "0001.gif", "0002.bmp"}, dirNames(t, native))
	assert.Equal(t, FormatJPEG, res.Entries[0].Format)

	raw, err := os.ReadFile(filepath.Join(native, "0000.jpg"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(jpegData, raw))
}

func TestExtractCompressedEntries(t *testing.T) {
	t.Parallel()

	src := testutil.Pattern(16, 16)
	codecs := []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionLZSS, CompressionXZ, CompressionLZ4}
	entries := make([]testutil.TestEntry, 0, len(codecs))
	for _, codec := range codecs {
		entries = append(entries, testutil.TestEntry{
			Encoding:    EncodingRaw,
			Compression: codec,
			PixelFormat: PixelFormatRGB565,
			Width:       16,
			Height:      16,
			Payload:     testutil.PackRGB565(src),
		})
	}
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status, "failed: %v", res.FailedEntries())

	want := res.Entries[0].Digest
	for i, e := range res.Entries {
		assert.Equal(t, want, e.Digest, "%s entry %d", codecs[i], i)
	}
}

func TestExtractVersion1Compression(t *testing.T) {
	t.Parallel()

	c := loadTest(t, testutil.TestContainer{
		Version: 1,
		Entries: []testutil.TestEntry{{
			Encoding:    EncodingRaw,
			Compression: CompressionZstd,
			PixelFormat: PixelFormatGray8,
			Width:       4,
			Height:      4,
			Payload:     make([]byte, 16),
		}},
	})

	res, err := c.Extract(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, KindUnsupportedCompression, res.Entries[0].Kind)
	assert.Equal(t, StatusPartial, res.Status)
}

func TestExtractNoTempFilesLeft(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	entries = append(entries,
		testutil.TestEntry{Encoding: EncodingEmbedded, Payload: []byte("not an image")},
		testutil.TestEntry{Encoding: EncodingRaw, PixelFormat: PixelFormatGray8, Width: 3, Height: 3, Payload: []byte{1}},
	)
	c := loadTest(t, testutil.TestContainer{Entries: entries})
	dest := t.TempDir()

	res, err := c.Extract(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	for _, name := range dirNames(t, dest) {
		assert.False(t, strings.HasPrefix(name, ".imagefv-"), name)
	}
}

func TestExtractProgress(t *testing.T) {
	t.Parallel()

	entries, _, _ := scenarioEntries(t)
	c := loadTest(t, testutil.TestContainer{Entries: entries})

	var (
		mu     sync.Mutex
		stages []ProgressStage
		last   ProgressEvent
	)
	res, err := c.Extract(context.Background(), t.TempDir(), ExtractWithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		stages = append(stages, ev.Stage)
		last = ev
	}))
	require.NoError(t, err)

	assert.Equal(t, []ProgressStage{StageParsing, StageExtracting, StageExtracting, StageDone}, stages)
	assert.Equal(t, 2, last.FilesDone)
	assert.Equal(t, res.Bytes, last.BytesDone)
}

func TestSanitizeLabel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"logo":         "logo",
		"Charger #1":   "charger__1",
		"../../etc":    "etc",
		"":             "",
		"__x__":        "x",
		"low-batt_02":  "low-batt_02",
		"\x00\xffLOGO": "logo",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeLabel(in), "label %q", in)
	}
}
