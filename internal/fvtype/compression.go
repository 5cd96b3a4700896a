// Package fvtype defines shared types used across the imagefv package and its
// internal packages. This avoids circular imports between imagefv and the
// index, payload, and decode packages.
package fvtype

// Compression identifies the compression algorithm applied to a payload.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionLZSS
	CompressionXZ
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZSS:
		return "lzss"
	case CompressionXZ:
		return "xz"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known algorithm.
func (c Compression) Valid() bool {
	return c <= CompressionLZ4
}

// Encoding is the descriptor's payload encoding tag.
type Encoding uint8

const (
	EncodingReserved Encoding = 0
	EncodingRaw      Encoding = 1
	EncodingEmbedded Encoding = 2
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingEmbedded:
		return "embedded"
	default:
		return "reserved"
	}
}

// Valid reports whether e is raw or embedded.
func (e Encoding) Valid() bool {
	return e == EncodingRaw || e == EncodingEmbedded
}

// PixelFormat describes the framebuffer layout of a raw-pixel payload.
type PixelFormat uint8

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGB565
	PixelFormatBGR565
	PixelFormatRGB888
	PixelFormatBGR888
	PixelFormatRGBA8888
	PixelFormatBGRA8888
	PixelFormatARGB1555
	PixelFormatGray8
	PixelFormatGrayAlpha88
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatRGB565:
		return "rgb565"
	case PixelFormatBGR565:
		return "bgr565"
	case PixelFormatRGB888:
		return "rgb888"
	case PixelFormatBGR888:
		return "bgr888"
	case PixelFormatRGBA8888:
		return "rgba8888"
	case PixelFormatBGRA8888:
		return "bgra8888"
	case PixelFormatARGB1555:
		return "argb1555"
	case PixelFormatGray8:
		return "gray8"
	case PixelFormatGrayAlpha88:
		return "grayalpha88"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the stored size of one pixel, or 0 for unknown formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatGray8:
		return 1
	case PixelFormatRGB565, PixelFormatBGR565, PixelFormatARGB1555, PixelFormatGrayAlpha88:
		return 2
	case PixelFormatRGB888, PixelFormatBGR888:
		return 3
	case PixelFormatRGBA8888, PixelFormatBGRA8888:
		return 4
	default:
		return 0
	}
}

// ImageFormat identifies a self-describing image stream.
type ImageFormat uint8

const (
	FormatUnknown ImageFormat = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatBMP
)

func (f ImageFormat) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// Ext returns the conventional file extension, including the dot.
func (f ImageFormat) Ext() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	case FormatGIF:
		return ".gif"
	case FormatBMP:
		return ".bmp"
	default:
		return ".bin"
	}
}
