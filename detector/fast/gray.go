package fast

import (
	"image"
	"image/draw"
)

// toGray returns img as a grayscale image anchored at the origin. Gray
// images already at the origin are used as-is without copying.
func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Rect.Min == (image.Point{}) {
		return gray
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
