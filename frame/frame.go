package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/visionstream/errors"
)

// MaxFrameSize bounds a single frame's declared length so that a corrupt
// length prefix fails fast instead of allocating gigabytes.
const MaxFrameSize = 64 << 20 // 64 MiB

// headerSize is the length prefix per frame.
const headerSize = 4

// Marshal packs frames into a single wire payload, preserving order. Empty
// frames are legal and round-trip as empty. Marshal of no frames yields an
// empty payload.
func Marshal(frames ...[]byte) []byte {
	size := 0
	for _, f := range frames {
		size += headerSize + len(f)
	}

	buf := make([]byte, 0, size)
	var hdr [headerSize]byte
	for _, f := range frames {
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(f)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, f...)
	}
	return buf
}

// Unmarshal splits a wire payload back into its frames. It fails with
// errors.ErrFrameTruncated when the payload ends mid-frame and with
// errors.ErrFrameTooLarge when a length prefix exceeds MaxFrameSize.
// Returned frames alias the input buffer; callers that retain a frame past
// the lifetime of the payload must copy it.
func Unmarshal(buf []byte) ([][]byte, error) {
	var frames [][]byte

	for off := 0; off < len(buf); {
		if len(buf)-off < headerSize {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %d trailing bytes after frame %d",
					errors.ErrFrameTruncated, len(buf)-off, len(frames)),
				"frame", "Unmarshal", "read length prefix")
		}

		n := binary.LittleEndian.Uint32(buf[off:])
		if n > MaxFrameSize {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: frame %d declares %d bytes",
					errors.ErrFrameTooLarge, len(frames), n),
				"frame", "Unmarshal", "validate frame length")
		}
		off += headerSize

		if len(buf)-off < int(n) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: frame %d declares %d bytes, %d remain",
					errors.ErrFrameTruncated, len(frames), n, len(buf)-off),
				"frame", "Unmarshal", "read frame body")
		}

		frames = append(frames, buf[off:off+int(n):off+int(n)])
		off += int(n)
	}

	return frames, nil
}
