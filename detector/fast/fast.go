package fast

import (
	"fmt"
	"image"

	"github.com/c360/visionstream/detector"
	"github.com/c360/visionstream/keypoint"
)

func init() {
	detector.RegisterFactory("fast", func(threshold int) (detector.Detector, error) {
		return New(threshold)
	})
}

// circle is the Bresenham circle of radius 3: 16 pixel offsets in clockwise
// order starting from the top.
var circle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1},
	{3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1},
	{-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

const (
	arcLength = 9
	border    = 3

	// OpenCV keypoint conventions for FAST.
	patchSize = 7
	noAngle   = -1
	noClass   = -1
)

// Detector is a FAST-9 corner detector. It holds no mutable state and is
// safe for concurrent use.
type Detector struct {
	threshold int
}

// New creates a FAST-9 detector with the given contrast threshold.
func New(threshold int) (*Detector, error) {
	if threshold < 1 || threshold > 255 {
		return nil, fmt.Errorf("fast threshold must be in [1,255], got %d", threshold)
	}
	return &Detector{threshold: threshold}, nil
}

// Name implements detector.Detector.
func (d *Detector) Name() string { return "fast" }

// Threshold returns the configured contrast threshold.
func (d *Detector) Threshold() int { return d.threshold }

// Detect implements detector.Detector.
func (d *Detector) Detect(img image.Image) ([]keypoint.Keypoint, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}

	gray := toGray(img)
	bounds := gray.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 2*border || height <= 2*border {
		return nil, nil
	}

	// Scores are kept for the whole image so suppression can compare
	// neighbors without re-running the segment test.
	scores := make([]int32, width*height)
	type candidate struct{ x, y int }
	var candidates []candidate

	for y := border; y < height-border; y++ {
		for x := border; x < width-border; x++ {
			score := d.cornerScore(gray, x, y)
			if score > 0 {
				scores[y*width+x] = score
				candidates = append(candidates, candidate{x, y})
			}
		}
	}

	var kps []keypoint.Keypoint
	for _, c := range candidates {
		score := scores[c.y*width+c.x]
		if !isLocalMax(scores, width, c.x, c.y, score) {
			continue
		}
		kps = append(kps, keypoint.Keypoint{
			X:        float32(c.x),
			Y:        float32(c.y),
			Size:     patchSize,
			Angle:    noAngle,
			Response: float32(score),
			Octave:   0,
			ClassID:  noClass,
		})
	}
	return kps, nil
}

// cornerScore returns a positive contrast score when the pixel passes the
// FAST-9 segment test, and 0 otherwise.
func (d *Detector) cornerScore(gray *image.Gray, x, y int) int32 {
	stride := gray.Stride
	pix := gray.Pix
	base := y*stride + x
	center := int(pix[base])
	bright := center + d.threshold
	dark := center - d.threshold

	var ring [16]int
	for i, off := range circle {
		ring[i] = int(pix[base+off[1]*stride+off[0]])
	}

	// Quick reject: a 9-long arc always contains pixel 0 or pixel 8.
	p0, p8 := ring[0], ring[8]
	if !(p0 > bright || p0 < dark || p8 > bright || p8 < dark) {
		return 0
	}

	if !hasArc(&ring, bright, dark) {
		return 0
	}

	// Contrast score: total deviation of circle pixels beyond the
	// threshold band. Used only for non-maximum suppression.
	var score int32
	for _, v := range ring {
		if v > bright {
			score += int32(v - bright)
		} else if v < dark {
			score += int32(dark - v)
		}
	}
	if score == 0 {
		// Passing the segment test guarantees deviation, but guard so a
		// corner is never reported with a zero score.
		score = 1
	}
	return score
}

// hasArc reports whether the ring contains 9 contiguous pixels that are all
// brighter than bright or all darker than dark, treating the ring as
// circular.
func hasArc(ring *[16]int, bright, dark int) bool {
	brightRun, darkRun := 0, 0
	for i := 0; i < 16+arcLength; i++ {
		v := ring[i%16]
		if v > bright {
			brightRun++
			if brightRun >= arcLength {
				return true
			}
		} else {
			brightRun = 0
		}
		if v < dark {
			darkRun++
			if darkRun >= arcLength {
				return true
			}
		} else {
			darkRun = 0
		}
	}
	return false
}

// isLocalMax reports whether score is the strict maximum of its 3x3
// neighborhood, breaking ties in favor of the first pixel in scan order.
func isLocalMax(scores []int32, width, x, y int, score int32) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			neighbor := scores[(y+dy)*width+(x+dx)]
			if neighbor > score {
				return false
			}
			// Equal neighbors: keep only the earliest in scan order.
			if neighbor == score && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}
