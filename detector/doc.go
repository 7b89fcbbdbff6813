// Package detector defines the feature detection interface used by the
// extraction stage. Implementations take a decoded image and return the
// keypoints found in it; the extractor never depends on a concrete
// algorithm.
package detector
