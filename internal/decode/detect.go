package decode

import (
	"bytes"

	"github.com/meigma/imagefv/internal/fvtype"
)

var (
	sigPNG   = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	sigJPEG  = []byte{0xFF, 0xD8, 0xFF}
	sigGIF87 = []byte("GIF87a")
	sigGIF89 = []byte("GIF89a")
	sigBMP   = []byte("BM")
)

// Detect identifies an image stream by its leading signature bytes.
func Detect(data []byte) fvtype.ImageFormat {
	switch {
	case bytes.HasPrefix(data, sigPNG):
		return fvtype.FormatPNG
	case bytes.HasPrefix(data, sigJPEG):
		return fvtype.FormatJPEG
	case bytes.HasPrefix(data, sigGIF87), bytes.HasPrefix(data, sigGIF89):
		return fvtype.FormatGIF
	case bytes.HasPrefix(data, sigBMP):
		return fvtype.FormatBMP
	default:
		return fvtype.FormatUnknown
	}
}
