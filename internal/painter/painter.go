package painter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/likeablob/infinite-mucha-esque-scroll/internal/backend"
	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

// Options configures a Painter
type Options struct {
	// Contrast is the multiplier applied after desaturation.
	Contrast float64
	// Background fills the blank part of guide images.
	Background color.Color
	// Sink receives intermediate images; nil disables debug output.
	Sink scroll.Sink
}

// Painter generates scroll tiles and stitches them onto previous ones
type Painter struct {
	client     backend.Client
	compositor *scroll.Compositor
	sink       scroll.Sink
	contrast   float64
}

// New creates a painter backed by client
func New(client backend.Client, opts Options) (*Painter, error) {
	if client == nil {
		return nil, fmt.Errorf("backend client is required")
	}

	sink := opts.Sink
	if sink == nil {
		sink = scroll.NopSink{}
	}
	contrast := opts.Contrast
	if contrast <= 0 {
		contrast = DefaultContrast
	}

	c := scroll.NewCompositor(sink)
	if opts.Background != nil {
		c.Background = opts.Background
	}

	return &Painter{
		client:     client,
		compositor: c,
		sink:       sink,
		contrast:   contrast,
	}, nil
}

// Run produces one tile and all derived images.
func (p *Painter) Run(ctx context.Context, tile Tile, req *Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	switch t := tile.(type) {
	case FirstTile:
		return p.runFirst(ctx, req)
	case ContinuationTile:
		if t.Previous == nil {
			return nil, fmt.Errorf("continuation tile without a previous image")
		}
		return p.runContinuation(ctx, t.Previous, req)
	default:
		return nil, fmt.Errorf("unknown tile type %T", tile)
	}
}

func validate(req *Request) error {
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("tile size must be positive, got %dx%d", req.Width, req.Height)
	}
	if req.OverlapHeight < 0 {
		return &scroll.GeometryError{Op: "tile", Overlap: req.OverlapHeight, Width: req.Width, Height: req.Height, Message: "negative overlap height"}
	}
	return nil
}

func (p *Painter) runFirst(ctx context.Context, req *Request) (*Result, error) {
	if req.OverlapHeight > req.Height {
		return nil, &scroll.GeometryError{
			Op:      "first tile",
			Overlap: req.OverlapHeight,
			Width:   req.Width,
			Height:  req.Height,
			Message: "overlap exceeds tile height",
		}
	}

	slog.InfoContext(ctx, "Generating a new image", "width", req.Width, "height", req.Height)
	img, seed, err := p.Generate(ctx, &GenerateRequest{
		Width:          req.Width,
		Height:         req.Height,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
	})
	if err != nil {
		return nil, err
	}

	printImg, err := scroll.PrintImage(img, req.OverlapHeight, nil)
	if err != nil {
		return nil, misfit(err)
	}

	return &Result{
		Complete: img,
		New:      img,
		Print:    printImg,
		Seed:     seed,
	}, nil
}

func (p *Painter) runContinuation(ctx context.Context, prev image.Image, req *Request) (*Result, error) {
	width := prev.Bounds().Dx()
	if width != req.Width {
		slog.WarnContext(ctx, "Using the previous image width", "requested", req.Width, "width", width)
	}

	slog.InfoContext(ctx, "Generating a new image based on the previous image",
		"overlap_height", req.OverlapHeight,
		"height", req.Height)

	guide, err := p.compositor.Guide(prev, req.OverlapHeight, req.Height)
	if err != nil {
		return nil, err
	}

	next, seed, err := p.Generate(ctx, &GenerateRequest{
		Guide:           guide,
		Width:           width,
		Height:          guide.Bounds().Dy(),
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Seed:            req.Seed,
		ControlNetModel: req.ControlNetModel,
	})
	if err != nil {
		return nil, err
	}

	complete, band, err := p.compositor.Concat(prev, next, req.OverlapHeight)
	if err != nil {
		return nil, misfit(err)
	}
	// a zero overlap stacks the tiles without a seam
	var overlap image.Image
	if req.OverlapHeight > 0 {
		overlap = band
	}
	newImg, err := scroll.DropTop(next, req.OverlapHeight)
	if err != nil {
		return nil, misfit(err)
	}
	printImg, err := scroll.PrintImage(next, req.OverlapHeight, overlap)
	if err != nil {
		return nil, misfit(err)
	}

	return &Result{
		Complete: complete,
		Overlap:  overlap,
		New:      newImg,
		Print:    printImg,
		Seed:     seed,
	}, nil
}

// misfit reports a generated tile that does not fit the requested geometry.
func misfit(err error) error {
	return &BackendError{Op: "txt2img result", Err: err}
}

// Generate asks the backend for one image and normalizes its tones. With a
// guide image the call is conditioned through the ControlNet model whose
// catalog name contains req.ControlNetModel. The seed the backend sampled
// with is returned alongside.
func (p *Painter) Generate(ctx context.Context, req *GenerateRequest) (*image.NRGBA, int64, error) {
	call := &backend.Txt2ImgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		CFGScale:       CFGScale,
		Steps:          Steps,
		Sampler:        Sampler,
		Width:          req.Width,
		Height:         req.Height,
	}

	if req.Guide != nil {
		name := req.ControlNetModel
		if name == "" {
			name = DefaultControlNetModel
		}
		model, err := p.ResolveModel(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		slog.InfoContext(ctx, "Using ControlNet model", "model", model)

		call.ControlNet = &backend.ControlNetUnit{
			Image:        req.Guide,
			Module:       name,
			Model:        model,
			Weight:       ControlNetWeight,
			ProcessorRes: ControlNetProcessorRes,
			ThresholdA:   ControlNetThresholdA,
			ThresholdB:   ControlNetThresholdB,
		}
	}

	slog.InfoContext(ctx, "Processing...", "width", req.Width, "height", req.Height, "seed", req.Seed)
	res, err := p.client.Txt2Img(ctx, call)
	if err != nil {
		return nil, 0, &BackendError{Op: "txt2img", Err: err}
	}
	p.sink.Save(scroll.DebugResult, res.Image)
	slog.DebugContext(ctx, "Generated", "seed", res.Seed)

	return Postprocess(res.Image, p.contrast), res.Seed, nil
}

// ResolveModel returns the first catalog entry containing name.
func (p *Painter) ResolveModel(ctx context.Context, name string) (string, error) {
	catalog, err := p.client.ControlNetModels(ctx)
	if err != nil {
		return "", &BackendError{Op: "controlnet model list", Err: err}
	}
	for _, m := range catalog {
		if strings.Contains(m, name) {
			return m, nil
		}
	}

	slog.InfoContext(ctx, "Available ControlNet models", "models", catalog)
	return "", &ModelNotFoundError{Requested: name, Catalog: catalog}
}

// Postprocess desaturates img and scales its contrast by factor around the
// mean gray level, so that independently sampled tiles share a tonal range.
func Postprocess(img image.Image, factor float64) *image.NRGBA {
	gray := imaging.Grayscale(img)
	mean := meanLevel(gray)

	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := clamp(mean + factor*(float64(c.R)-mean))
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// meanLevel is the rounded average of the first channel of a gray image.
func meanLevel(img *image.NRGBA) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	var sum uint64
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			sum += uint64(row[x])
		}
	}
	return math.Floor(float64(sum)/float64(b.Dx()*b.Dy()) + 0.5)
}

func clamp(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
