// Package fast implements the FAST-9 corner detector.
//
// A pixel is a corner when at least 9 contiguous pixels on the Bresenham
// circle of radius 3 around it are all brighter than the center plus a
// threshold, or all darker than the center minus it. Detected corners go
// through 3x3 non-maximum suppression on a contrast score so clusters
// collapse to their strongest pixel.
package fast
