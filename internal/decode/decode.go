// Package decode turns entry payloads into canonical images.
//
// Raw framebuffers are converted pixel by pixel. Embedded streams are
// recognised by signature, checked against the descriptor, and fully decoded.
package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"

	"github.com/meigma/imagefv/internal/fvtype"
	"github.com/meigma/imagefv/internal/sizing"
)

// DefaultMaxPixels bounds the pixel count of a single image (64 Mpx).
const DefaultMaxPixels = 64 << 20

// Kind identifies which variant an Image holds.
type Kind uint8

const (
	// KindPixels holds a canonical framebuffer converted from raw pixels.
	KindPixels Kind = iota + 1

	// KindEncoded holds a self-describing image stream.
	KindEncoded
)

func (k Kind) String() string {
	switch k {
	case KindPixels:
		return "pixels"
	case KindEncoded:
		return "encoded"
	default:
		return "unknown"
	}
}

// Image is the decoded form of one entry.
//
// KindPixels sets Pixels. KindEncoded sets Stream and Format, and also
// Pixels when the stream is not PNG and has to be re-encoded for output.
type Image struct {
	Kind   Kind
	Width  int
	Height int

	// Format is the embedded stream format, FormatUnknown for raw pixels.
	Format fvtype.ImageFormat

	// Pixels are straight-alpha RGBA.
	Pixels *image.NRGBA

	// Stream aliases the payload bytes and must not be modified.
	Stream []byte
}

// Limits bounds decoding work. Zero fields disable the limit.
type Limits struct {
	MaxPixels uint64
}

// DefaultLimits returns the package defaults.
func DefaultLimits() Limits {
	return Limits{MaxPixels: DefaultMaxPixels}
}

// Decode interprets data according to the entry's encoding.
// Unknown encoding or pixel format tags fail with ErrUnsupportedCompression;
// every other failure wraps ErrDecode.
func Decode(entry *fvtype.Entry, data []byte, lim Limits) (*Image, error) {
	switch entry.Encoding {
	case fvtype.EncodingRaw:
		return decodeRaw(entry, data, lim)
	case fvtype.EncodingEmbedded:
		return decodeEmbedded(entry, data, lim)
	default:
		return nil, fmt.Errorf("%w: encoding tag %d", fvtype.ErrUnsupportedCompression, uint8(entry.Encoding))
	}
}

func decodeRaw(entry *fvtype.Entry, data []byte, lim Limits) (*Image, error) {
	bpp := entry.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: pixel format tag %d", fvtype.ErrUnsupportedCompression, uint8(entry.PixelFormat))
	}
	if entry.Width == 0 || entry.Height == 0 {
		return nil, fmt.Errorf("%w: raw image has zero dimension %dx%d", fvtype.ErrDecode, entry.Width, entry.Height)
	}
	if err := checkPixels(uint64(entry.Width), uint64(entry.Height), lim); err != nil {
		return nil, err
	}

	want, ok := sizing.Product(uint64(entry.Width), uint64(entry.Height), uint64(bpp))
	if !ok {
		return nil, fmt.Errorf("%w: %dx%d %s: %w", fvtype.ErrDecode, entry.Width, entry.Height, entry.PixelFormat, fvtype.ErrSizeOverflow)
	}
	if uint64(len(data)) != want {
		return nil, fmt.Errorf("%w: %dx%d %s needs %d bytes, payload has %d",
			fvtype.ErrDecode, entry.Width, entry.Height, entry.PixelFormat, want, len(data))
	}

	w, h := int(entry.Width), int(entry.Height)
	return &Image{
		Kind:   KindPixels,
		Width:  w,
		Height: h,
		Pixels: convertPixels(entry.PixelFormat, w, h, data),
	}, nil
}

func decodeEmbedded(entry *fvtype.Entry, data []byte, lim Limits) (*Image, error) {
	format := Detect(data)
	if format == fvtype.FormatUnknown {
		return nil, fmt.Errorf("%w: embedded payload has no known image signature", fvtype.ErrDecode)
	}

	cfg, err := decodeConfig(format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", fvtype.ErrDecode, format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s reports %dx%d", fvtype.ErrDecode, format, cfg.Width, cfg.Height)
	}
	if entry.Width != 0 && int(entry.Width) != cfg.Width {
		return nil, fmt.Errorf("%w: %s width %d, descriptor says %d", fvtype.ErrDecode, format, cfg.Width, entry.Width)
	}
	if entry.Height != 0 && int(entry.Height) != cfg.Height {
		return nil, fmt.Errorf("%w: %s height %d, descriptor says %d", fvtype.ErrDecode, format, cfg.Height, entry.Height)
	}
	if err := checkPixels(uint64(cfg.Width), uint64(cfg.Height), lim); err != nil {
		return nil, err
	}

	img, err := decodeFull(format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", fvtype.ErrDecode, format, err)
	}

	out := &Image{
		Kind:   KindEncoded,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Stream: data,
	}
	if format != fvtype.FormatPNG {
		out.Pixels = toCanvas(img, cfg.Width, cfg.Height)
	}
	return out, nil
}

func checkPixels(w, h uint64, lim Limits) error {
	n, ok := sizing.Product(w, h)
	if !ok || (lim.MaxPixels != 0 && n > lim.MaxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds pixel limit %d", fvtype.ErrDecode, w, h, lim.MaxPixels)
	}
	return nil
}

func decodeConfig(format fvtype.ImageFormat, data []byte) (image.Config, error) {
	r := bytes.NewReader(data)
	switch format {
	case fvtype.FormatPNG:
		return png.DecodeConfig(r)
	case fvtype.FormatJPEG:
		return jpeg.DecodeConfig(r)
	case fvtype.FormatGIF:
		return gif.DecodeConfig(r)
	case fvtype.FormatBMP:
		return bmp.DecodeConfig(r)
	default:
		return image.Config{}, io.ErrUnexpectedEOF
	}
}

// decodeFull decodes the whole stream. GIF yields its first frame.
func decodeFull(format fvtype.ImageFormat, data []byte) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case fvtype.FormatPNG:
		return png.Decode(r)
	case fvtype.FormatJPEG:
		return jpeg.Decode(r)
	case fvtype.FormatGIF:
		return gif.Decode(r)
	case fvtype.FormatBMP:
		return bmp.Decode(r)
	default:
		return nil, io.ErrUnexpectedEOF
	}
}

// toCanvas converts img to a zero-origin w×h canonical image. A GIF's first
// frame may cover only part of the logical screen; it is placed at its own
// position and the rest stays transparent.
func toCanvas(img image.Image, w, h int) *image.NRGBA {
	canvas := image.Rect(0, 0, w, h)
	if img.Bounds() == canvas {
		if n, ok := img.(*image.NRGBA); ok {
			return n
		}
		return imaging.Clone(img)
	}
	return imaging.Paste(imaging.New(w, h, color.Transparent), img, img.Bounds().Min)
}
