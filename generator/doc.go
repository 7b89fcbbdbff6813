// Package generator implements the image source stage. It scans a directory
// for JPEG and PNG files and publishes each one as a two-part message
// (filename, image bytes) at a fixed interval, optionally looping over the
// directory forever.
package generator
