package keypoint

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/visionstream/errors"
)

// RecordSize is the encoded size of one keypoint in bytes:
// 5 float32 fields + 2 int32 fields, no padding.
const RecordSize = 5*4 + 2*4

// Keypoint is one detected feature point. The field set mirrors the classic
// computer-vision keypoint tuple so buffers interoperate with detectors that
// produce location, scale, orientation and strength per point.
type Keypoint struct {
	X        float32 // column coordinate in pixels
	Y        float32 // row coordinate in pixels
	Size     float32 // diameter of the meaningful neighborhood
	Angle    float32 // dominant orientation in degrees, -1 if not applicable
	Response float32 // detector confidence/strength
	Octave   int32   // pyramid level packed with sub-octave bits
	ClassID  int32   // detector-defined semantic tag, -1 when absent
}

// Encode serializes keypoints into a flat little-endian buffer of
// RecordSize*len(kps) bytes, preserving input order. An empty or nil slice
// yields an empty buffer.
func Encode(kps []Keypoint) []byte {
	buf := make([]byte, len(kps)*RecordSize)
	for i, kp := range kps {
		off := i * RecordSize
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(kp.X))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(kp.Y))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(kp.Size))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(kp.Angle))
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(kp.Response))
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(kp.Octave))
		binary.LittleEndian.PutUint32(buf[off+24:], uint32(kp.ClassID))
	}
	return buf
}

// Decode reconstructs keypoints from a buffer produced by Encode. It fails
// with errors.ErrInvalidEncoding when the buffer length is not a multiple of
// RecordSize.
func Decode(buf []byte) ([]Keypoint, error) {
	if len(buf)%RecordSize != 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: buffer length %d is not a multiple of %d",
				errors.ErrInvalidEncoding, len(buf), RecordSize),
			"keypoint", "Decode", "validate buffer length")
	}

	kps := make([]Keypoint, len(buf)/RecordSize)
	for i := range kps {
		off := i * RecordSize
		kps[i] = Keypoint{
			X:        math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])),
			Y:        math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:])),
			Size:     math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:])),
			Angle:    math.Float32frombits(binary.LittleEndian.Uint32(buf[off+12:])),
			Response: math.Float32frombits(binary.LittleEndian.Uint32(buf[off+16:])),
			Octave:   int32(binary.LittleEndian.Uint32(buf[off+20:])),
			ClassID:  int32(binary.LittleEndian.Uint32(buf[off+24:])),
		}
	}
	return kps, nil
}

// Count returns the number of records in an encoded buffer without decoding
// it, or an error if the length is not a multiple of RecordSize.
func Count(buf []byte) (int, error) {
	if len(buf)%RecordSize != 0 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: buffer length %d is not a multiple of %d",
				errors.ErrInvalidEncoding, len(buf), RecordSize),
			"keypoint", "Count", "validate buffer length")
	}
	return len(buf) / RecordSize, nil
}
