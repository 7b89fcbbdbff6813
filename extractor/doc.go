// Package extractor implements the feature extraction stage.
//
// A single receiver goroutine owns the input subscription and is the only
// reader of raw image messages. It validates the two-part framing
// (filename, image bytes) and hands work to a pool of detection workers.
// Workers decode the image, run the configured detector, and encode the
// keypoints into fixed 28-byte records. A single sender goroutine owns the
// output side and publishes three-part messages (filename, image bytes,
// keypoint records), so no two goroutines ever publish concurrently.
//
// Malformed input is dropped, never fatal: a message with the wrong part
// count or an undecodable image increments a counter and the stage moves
// on.
package extractor
