package backend

import (
	"context"
	"fmt"
	"image"
)

// Client is the image generation service the painter talks to.
type Client interface {
	// Txt2Img synthesizes a single image.
	Txt2Img(ctx context.Context, req *Txt2ImgRequest) (*Txt2ImgResult, error)
	// ControlNetModels lists the conditioning models the service knows.
	ControlNetModels(ctx context.Context) ([]string, error)
}

// Txt2ImgRequest contains all parameters of one generation call
type Txt2ImgRequest struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	CFGScale       float64
	Steps          int
	Sampler        string
	Width, Height  int
	ControlNet     *ControlNetUnit
}

// Txt2ImgResult is the first image of a generation call and the seed the
// backend sampled it with.
type Txt2ImgResult struct {
	Image image.Image
	Seed  int64
}

// ControlNetUnit conditions a generation call on a guide image
type ControlNetUnit struct {
	Image        image.Image
	Module       string
	Model        string
	Weight       float64
	ProcessorRes int
	ThresholdA   float64
	ThresholdB   float64
}

// AddressError reports a backend address that has no usable host or port
type AddressError struct {
	Raw    string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid backend address %q: %s", e.Raw, e.Reason)
}

// StatusError is returned when the backend answers with a non-200 status
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
