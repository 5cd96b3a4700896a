package payload

import (
	"fmt"

	"github.com/meigma/imagefv/internal/fvtype"
)

// ValidateForRead checks that an entry may be read. It rejects:
//   - entries that already failed table validation
//   - unknown compression tags
//   - uncompressed entries whose recorded original size disagrees with the stored length
func ValidateForRead(entry *fvtype.Entry) error {
	if entry.Err != nil {
		return entry.Err
	}
	if !entry.Compression.Valid() {
		return fmt.Errorf("%w: compression tag %d", fvtype.ErrUnsupportedCompression, uint8(entry.Compression))
	}
	if entry.Compression == fvtype.CompressionNone && entry.OriginalSize != 0 && entry.OriginalSize != entry.Length {
		return fmt.Errorf("%w: stored %d bytes, descriptor says %d", fvtype.ErrDecode, entry.Length, entry.OriginalSize)
	}
	return nil
}
