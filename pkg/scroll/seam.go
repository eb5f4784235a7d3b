package scroll

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// BlendSeam masks the bottom overlap rows of prev together with the top
// overlap rows of next. The result favours prev at its top edge and fades
// into next towards its bottom edge.
func BlendSeam(prev, next image.Image, overlap int) (*image.NRGBA, error) {
	return NewCompositor(nil).Blend(prev, next, overlap)
}

func composite(prev, next image.Image, mask *image.Gray, overlap int) (*image.NRGBA, error) {
	prevBand, err := BottomStrip(prev, overlap)
	if err != nil {
		return nil, err
	}
	// the cropped strip is a fresh copy and doubles as the output buffer
	out, err := TopStrip(next, overlap)
	if err != nil {
		return nil, err
	}

	// mask 255 keeps prevBand, 0 keeps the strip of next
	draw.DrawMask(out, out.Bounds(), prevBand, image.Point{}, mask, image.Point{}, draw.Over)
	return out, nil
}

// Concat stacks prev and next with their shared overlap replaced by a smooth
// seam. The seam is returned as well so it can be reused for print images.
func Concat(prev, next image.Image, overlap int) (*image.NRGBA, *image.NRGBA, error) {
	return NewCompositor(nil).Concat(prev, next, overlap)
}

// assemble pastes prev, next and band onto a new canvas in that order; each
// paste overwrites the previous one where they overlap.
func assemble(prev, next, band image.Image, overlap int) *image.NRGBA {
	pb, nb := prev.Bounds(), next.Bounds()
	seamY := pb.Dy() - overlap

	canvas := imaging.New(pb.Dx(), pb.Dy()+nb.Dy()-overlap, color.Black)
	draw.Draw(canvas, image.Rect(0, 0, pb.Dx(), pb.Dy()), prev, pb.Min, draw.Src)
	draw.Draw(canvas, image.Rect(0, seamY, nb.Dx(), seamY+nb.Dy()), next, nb.Min, draw.Src)
	draw.Draw(canvas, image.Rect(0, seamY, pb.Dx(), pb.Dy()), band, band.Bounds().Min, draw.Src)
	return canvas
}

// PrintImage trims the bottom overlap rows off img, which belong to the next
// tile's seam. When band is non-nil it replaces the top rows so stacked print
// segments show the same seam as the concatenated scroll.
func PrintImage(img image.Image, overlap int, band image.Image) (*image.NRGBA, error) {
	out, err := DropBottom(img, overlap)
	if err != nil {
		return nil, err
	}
	if band == nil {
		return out, nil
	}

	bb := band.Bounds()
	if bb.Dx() != out.Bounds().Dx() || bb.Dy() > out.Bounds().Dy() {
		return nil, &GeometryError{
			Op:      "print image",
			Overlap: overlap,
			Width:   out.Bounds().Dx(),
			Height:  out.Bounds().Dy(),
			Message: fmt.Sprintf("seam %dx%d does not fit", bb.Dx(), bb.Dy()),
		}
	}
	draw.Draw(out, image.Rect(0, 0, bb.Dx(), bb.Dy()), band, bb.Min, draw.Src)
	return out, nil
}
