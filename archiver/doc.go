// Package archiver implements the persistence stage. A single receiver
// goroutine owns the feature subscription, validates the three-part framing
// (filename, image bytes, keypoint records), and writes each message to the
// configured store. Stores exist for Postgres and the local filesystem.
package archiver
