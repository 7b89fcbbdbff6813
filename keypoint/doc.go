// Package keypoint defines the feature-point record exchanged between
// pipeline stages and its binary wire codec.
//
// Each keypoint is encoded as a fixed-width 28-byte record: five IEEE-754
// single-precision floats (x, y, size, angle, response) followed by two
// 32-bit signed integers (octave, class id), all little-endian, with no
// header, length prefix, or padding. The layout is a wire contract shared
// with every consumer of the feature buffer; a buffer whose length is not a
// multiple of 28 is rejected on decode.
package keypoint
