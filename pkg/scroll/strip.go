package scroll

import (
	"image"

	"github.com/disintegration/imaging"
)

// crop returns band of img as a new image anchored at (0,0).
func crop(img image.Image, band Band) *image.NRGBA {
	b := img.Bounds()
	return imaging.Crop(img, band.Rect(b.Dx()).Add(b.Min))
}

// TopStrip returns rows [0, h) of img.
func TopStrip(img image.Image, h int) (*image.NRGBA, error) {
	if err := checkStrip("top strip", img, h, 1); err != nil {
		return nil, err
	}
	return crop(img, Band{0, h}), nil
}

// BottomStrip returns rows [height-h, height) of img.
func BottomStrip(img image.Image, h int) (*image.NRGBA, error) {
	if err := checkStrip("bottom strip", img, h, 1); err != nil {
		return nil, err
	}
	height := img.Bounds().Dy()
	return crop(img, Band{height - h, height}), nil
}

// InnerStrip returns rows [h, height-h) of img, removing h rows from both ends.
func InnerStrip(img image.Image, h int) (*image.NRGBA, error) {
	if err := checkStrip("inner strip", img, h, 2); err != nil {
		return nil, err
	}
	height := img.Bounds().Dy()
	return crop(img, Band{h, height - h}), nil
}

// DropTop returns img without its first h rows.
func DropTop(img image.Image, h int) (*image.NRGBA, error) {
	if err := checkStrip("drop top", img, h, 1); err != nil {
		return nil, err
	}
	return crop(img, Band{h, img.Bounds().Dy()}), nil
}

// DropBottom returns img without its last h rows.
func DropBottom(img image.Image, h int) (*image.NRGBA, error) {
	if err := checkStrip("drop bottom", img, h, 1); err != nil {
		return nil, err
	}
	return crop(img, Band{0, img.Bounds().Dy() - h}), nil
}
