package scroll

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// BuildGuide returns the conditioning image for the next tile: a white canvas
// of prev's width and overlap+height rows whose top overlap rows repeat the
// bottom of prev.
func BuildGuide(prev image.Image, overlap, height int) (*image.NRGBA, error) {
	return BuildGuideOn(prev, overlap, height, color.White)
}

// BuildGuideOn is BuildGuide with an explicit background for the blank area.
func BuildGuideOn(prev image.Image, overlap, height int, bg color.Color) (*image.NRGBA, error) {
	if height < 0 {
		b := prev.Bounds()
		return nil, &GeometryError{Op: "guide", Overlap: overlap, Width: b.Dx(), Height: b.Dy(), Message: "negative tile height"}
	}
	strip, err := BottomStrip(prev, overlap)
	if err != nil {
		return nil, err
	}

	canvas := imaging.New(prev.Bounds().Dx(), overlap+height, bg)
	return imaging.Paste(canvas, strip, image.Pt(0, 0)), nil
}
