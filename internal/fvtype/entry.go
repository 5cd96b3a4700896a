package fvtype

import "bytes"

// On-disk sizes of the fixed-layout records.
const (
	HeaderSize     = 32
	DescriptorSize = 32
	LabelSize      = 12
)

// Supported container versions.
const (
	Version1 uint16 = 1
	Version2 uint16 = 2
)

// Supported magic signatures.
var (
	MagicImageFV = [8]byte{'I', 'M', 'A', 'G', 'E', 'F', 'V', 0}
	MagicLogoFV  = [8]byte{'L', 'O', 'G', 'O', 'F', 'V', 0, 0}
)

// Magics lists every supported signature.
var Magics = [][8]byte{MagicImageFV, MagicLogoFV}

// IsMagic reports whether m is one of the supported signatures.
func IsMagic(m [8]byte) bool {
	for _, known := range Magics {
		if m == known {
			return true
		}
	}
	return false
}

// Header is the validated container header.
type Header struct {
	Magic      [8]byte
	Version    uint16
	Flags      uint16
	EntryCount uint32
	TotalSize  uint32
	TableCRC   uint32
}

// MagicString returns the signature without trailing NUL bytes.
func (h Header) MagicString() string {
	return string(bytes.TrimRight(h.Magic[:], "\x00"))
}

// Entry describes one payload in the descriptor table.
type Entry struct {
	// Index is the position in the descriptor table. Output names derive from it.
	Index int

	// Offset is the payload offset from the start of the container.
	Offset uint32

	// Length is the stored (possibly compressed) payload length.
	Length uint32

	Encoding    Encoding
	Compression Compression
	PixelFormat PixelFormat

	// Width and Height are required for raw-pixel entries. For embedded
	// entries a non-zero value must match the decoded stream.
	Width  uint16
	Height uint16

	// OriginalSize is the decompressed length, or 0 when not recorded.
	OriginalSize uint32

	// Label is the descriptor's NUL-trimmed label.
	Label string

	// Err is the entry-level table error, nil for entries that may be decoded.
	Err error
}

// Valid reports whether the entry passed table validation.
func (e *Entry) Valid() bool {
	return e.Err == nil
}

// End returns Offset+Length computed in 64 bits.
func (e *Entry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Length)
}
