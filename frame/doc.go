// Package frame implements the multi-part message framing used on the wire
// between pipeline stages.
//
// NATS delivers a single opaque payload per message, so an ordered sequence
// of frames is packed into one payload as repeated length-prefixed parts:
//
//	[len uint32 little-endian][len bytes] ...
//
// This preserves the pipeline's part-count contract: upstream messages carry
// exactly two frames (filename, image bytes) and downstream messages carry
// exactly three (filename, image bytes, keypoint buffer). Part-count
// enforcement is the receiver's responsibility; this package only guarantees
// that the frame boundaries themselves are intact.
package frame
