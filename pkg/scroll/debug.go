package scroll

import (
	"image"
	"image/color"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
)

// Well-known names of the intermediate images written to a debug sink.
const (
	DebugGuide   = "debug.guide.png"
	DebugResult  = "debug.res.png"
	DebugMask    = "debug.mask.png"
	DebugOverlap = "debug.smooth_overlap_img.png"
	DebugConcat  = "debug.concat.png"
)

// Sink receives intermediate images for diagnostics.
type Sink interface {
	Save(name string, img image.Image)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Save(string, image.Image) {}

// DirSink writes every image into Dir under its well-known name, replacing
// the previous run's file. Writes are serialized, so concurrent runs leave
// whole files behind, each holding the image of whichever run wrote last.
type DirSink struct {
	Dir string

	mu sync.Mutex
}

func (s *DirSink) Save(name string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.Dir, name)
	if err := imaging.Save(img, path); err != nil {
		slog.Warn("failed to write debug image", "path", path, "error", err)
		return
	}
	slog.Debug("wrote debug image", "path", path)
}

// MemorySink keeps the latest image per name. Used in tests.
type MemorySink struct {
	mu     sync.Mutex
	Images map[string]image.Image
}

func (s *MemorySink) Save(name string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Images == nil {
		s.Images = make(map[string]image.Image)
	}
	s.Images[name] = img
}

// Get returns the image stored under name, if any.
func (s *MemorySink) Get(name string) (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.Images[name]
	return img, ok
}

// Compositor runs the pipeline stages and reports their intermediates to a
// sink.
type Compositor struct {
	Sink       Sink
	MaskOffset float64
	Background color.Color
}

// NewCompositor returns a compositor using the default mask offset and a
// white guide background. A nil sink disables debug output.
func NewCompositor(sink Sink) *Compositor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Compositor{
		Sink:       sink,
		MaskOffset: DefaultMaskOffset,
		Background: color.White,
	}
}

// Guide builds the conditioning image for the next tile.
func (c *Compositor) Guide(prev image.Image, overlap, height int) (*image.NRGBA, error) {
	guide, err := BuildGuideOn(prev, overlap, height, c.Background)
	if err != nil {
		return nil, err
	}
	c.Sink.Save(DebugGuide, guide)
	return guide, nil
}

// Blend builds the smooth seam between prev and next.
func (c *Compositor) Blend(prev, next image.Image, overlap int) (*image.NRGBA, error) {
	if err := checkPair("blend seam", prev, next, overlap); err != nil {
		return nil, err
	}
	if overlap == 0 {
		return image.NewNRGBA(image.Rect(0, 0, prev.Bounds().Dx(), 0)), nil
	}

	mask, err := GradientMask(prev.Bounds().Dx(), overlap, c.MaskOffset)
	if err != nil {
		return nil, err
	}
	c.Sink.Save(DebugMask, mask)

	band, err := composite(prev, next, mask, overlap)
	if err != nil {
		return nil, err
	}
	c.Sink.Save(DebugOverlap, band)
	return band, nil
}

// Concat stacks prev, the smooth seam and next.
func (c *Compositor) Concat(prev, next image.Image, overlap int) (*image.NRGBA, *image.NRGBA, error) {
	band, err := c.Blend(prev, next, overlap)
	if err != nil {
		return nil, nil, err
	}
	out := assemble(prev, next, band, overlap)
	c.Sink.Save(DebugConcat, out)
	return out, band, nil
}
