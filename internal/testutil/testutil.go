// Package testutil builds containers and image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// Pattern returns a deterministic opaque test image.
func Pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)), //nolint:gosec // bounded by 255
				G: uint8(y * 255 / max(h-1, 1)), //nolint:gosec // bounded by 255
				B: uint8((x + y) % 256),         //nolint:gosec // bounded by 255
				A: 0xFF,
			})
		}
	}
	return img
}

// PackRGB565 stores img as little-endian RGB565 words, truncating each channel.
func PackRGB565(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*2)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
			out = binary.LittleEndian.AppendUint16(out, v)
		}
	}
	return out
}

// Solid returns w*h copies of px, for building raw framebuffers of any format.
func Solid(w, h int, px ...byte) []byte {
	return bytes.Repeat(px, w*h)
}

// EncodePNG encodes img as PNG.
func EncodePNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, png.Encode(&buf, img))
	return buf.Bytes()
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// EncodeGIF encodes img as GIF.
func EncodeGIF(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// EncodeBMP encodes img as BMP.
func EncodeBMP(tb testing.TB, img image.Image) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, bmp.Encode(&buf, img))
	return buf.Bytes()
}

// EncodeGIFFrame encodes a w×h GIF whose only frame is frame, placed at
// frame.Rect within the logical screen.
func EncodeGIFFrame(tb testing.TB, w, h int, frame *image.Paletted) []byte {
	tb.Helper()
	var buf bytes.Buffer
	require.NoError(tb, gif.EncodeAll(&buf, &gif.GIF{
		Image:  []*image.Paletted{frame},
		Delay:  []int{0},
		Config: image.Config{Width: w, Height: h},
	}))
	return buf.Bytes()
}
