package scroll

import (
	"errors"
	"fmt"
	"image"
)

// Default mask parameters
const (
	DefaultMaskOffset = 0.8
	maskExponent      = 1.5
)

// ErrOutputExists is returned by Save when the target path is already taken
// and overwriting was not requested.
var ErrOutputExists = errors.New("output already exists")

// Band is a full-width horizontal slice of an image, rows [Y0, Y1).
type Band struct {
	Y0, Y1 int
}

// Height returns the number of rows covered by the band.
func (b Band) Height() int {
	return b.Y1 - b.Y0
}

// Rect returns the band as a rectangle of the given width.
func (b Band) Rect(width int) image.Rectangle {
	return image.Rect(0, b.Y0, width, b.Y1)
}

// GeometryError reports an overlap or band that does not fit the images it
// is applied to.
type GeometryError struct {
	Op      string
	Overlap int
	Width   int
	Height  int
	Message string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: %s (overlap=%d, image=%dx%d)", e.Op, e.Message, e.Overlap, e.Width, e.Height)
}

func checkStrip(op string, img image.Image, h, factor int) error {
	b := img.Bounds()
	if h < 0 {
		return &GeometryError{Op: op, Overlap: h, Width: b.Dx(), Height: b.Dy(), Message: "negative height"}
	}
	if factor*h > b.Dy() {
		return &GeometryError{Op: op, Overlap: h, Width: b.Dx(), Height: b.Dy(), Message: "band exceeds image height"}
	}
	return nil
}

// checkPair validates that overlap fits both images and that they share a width.
func checkPair(op string, prev, next image.Image, overlap int) error {
	if err := checkStrip(op, prev, overlap, 1); err != nil {
		return err
	}
	if err := checkStrip(op, next, overlap, 1); err != nil {
		return err
	}
	pw, nw := prev.Bounds().Dx(), next.Bounds().Dx()
	if pw != nw {
		return &GeometryError{
			Op:      op,
			Overlap: overlap,
			Width:   nw,
			Height:  next.Bounds().Dy(),
			Message: fmt.Sprintf("width mismatch with previous image (%d)", pw),
		}
	}
	return nil
}
