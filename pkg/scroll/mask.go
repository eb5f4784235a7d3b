package scroll

import (
	"fmt"
	"image"
	"math"
)

// GradientMask builds a single-channel blend mask. Rows above height*offset
// are white; below that the value falls off superlinearly towards black so
// the transition is concentrated near the bottom of the band.
func GradientMask(width, height int, offset float64) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("mask size must be positive, got %dx%d", width, height)
	}
	if offset < 0 || offset > 1 || math.IsNaN(offset) {
		return nil, fmt.Errorf("mask offset must be within [0, 1], got %v", offset)
	}

	mask := image.NewGray(image.Rect(0, 0, width, height))
	start := float64(height) * offset

	for y := 0; y < height; y++ {
		fill := uint8(255)
		if d := float64(y) - start; d >= 0 {
			fill = uint8(255 - min(int(math.Pow(d, maskExponent)/float64(height)*255), 255))
		}
		row := mask.Pix[y*mask.Stride : y*mask.Stride+width]
		for x := range row {
			row[x] = fill
		}
	}

	return mask, nil
}
