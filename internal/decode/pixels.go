package decode

import (
	"encoding/binary"
	"image"

	"github.com/meigma/imagefv/internal/fvtype"
)

// convertFunc writes one canonical NRGBA pixel into dst from one stored pixel in src.
type convertFunc func(dst, src []byte)

func expand5(v uint16) uint8 {
	v &= 0x1F
	return uint8(v<<3 | v>>2) //nolint:gosec // fits in 8 bits
}

func expand6(v uint16) uint8 {
	v &= 0x3F
	return uint8(v<<2 | v>>4) //nolint:gosec // fits in 8 bits
}

func converter(pf fvtype.PixelFormat) convertFunc {
	switch pf {
	case fvtype.PixelFormatRGB565:
		return func(dst, src []byte) {
			v := binary.LittleEndian.Uint16(src)
			dst[0], dst[1], dst[2], dst[3] = expand5(v>>11), expand6(v>>5), expand5(v), 0xFF
		}
	case fvtype.PixelFormatBGR565:
		return func(dst, src []byte) {
			v := binary.LittleEndian.Uint16(src)
			dst[0], dst[1], dst[2], dst[3] = expand5(v), expand6(v>>5), expand5(v>>11), 0xFF
		}
	case fvtype.PixelFormatRGB888:
		return func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 0xFF
		}
	case fvtype.PixelFormatBGR888:
		return func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], 0xFF
		}
	case fvtype.PixelFormatRGBA8888:
		return func(dst, src []byte) {
			copy(dst, src[:4])
		}
	case fvtype.PixelFormatBGRA8888:
		return func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], src[3]
		}
	case fvtype.PixelFormatARGB1555:
		return func(dst, src []byte) {
			v := binary.LittleEndian.Uint16(src)
			var a uint8
			if v&0x8000 != 0 {
				a = 0xFF
			}
			dst[0], dst[1], dst[2], dst[3] = expand5(v>>10), expand5(v>>5), expand5(v), a
		}
	case fvtype.PixelFormatGray8:
		return func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], 0xFF
		}
	case fvtype.PixelFormatGrayAlpha88:
		return func(dst, src []byte) {
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], src[1]
		}
	default:
		return nil
	}
}

// convertPixels expands a packed framebuffer into canonical pixels.
// The caller has checked len(data) == w*h*bpp.
func convertPixels(pf fvtype.PixelFormat, w, h int, data []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	conv := converter(pf)
	bpp := pf.BytesPerPixel()
	for s, d := 0, 0; d < len(img.Pix); s, d = s+bpp, d+4 {
		conv(img.Pix[d:d+4], data[s:s+bpp])
	}
	return img
}
