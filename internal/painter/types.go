package painter

import (
	"fmt"
	"image"
	"strings"
)

// Sampling parameters sent with every generation call
const (
	CFGScale = 7
	Steps    = 20
	Sampler  = "Euler a"

	ControlNetWeight       = 1
	ControlNetProcessorRes = 512
	ControlNetThresholdA   = 100
	ControlNetThresholdB   = 200

	DefaultContrast        = 3.0
	DefaultControlNetModel = "canny"
)

// Tile selects how a tile is produced: from scratch, or continuing a
// previous tile.
type Tile interface {
	isTile()
}

// FirstTile starts a new scroll.
type FirstTile struct{}

// ContinuationTile extends Previous downwards.
type ContinuationTile struct {
	Previous image.Image
}

func (FirstTile) isTile()        {}
func (ContinuationTile) isTile() {}

// Request describes one tile of the scroll
type Request struct {
	Prompt          string
	NegativePrompt  string
	Seed            int64
	Width           int
	Height          int
	OverlapHeight   int
	ControlNetModel string
}

// GenerateRequest is a single call to the generation backend
type GenerateRequest struct {
	// Guide is optional; without it no ControlNet unit is sent.
	Guide           image.Image
	Width, Height   int
	Prompt          string
	NegativePrompt  string
	Seed            int64
	ControlNetModel string
}

// Result holds every image produced for one tile
type Result struct {
	// Complete is the previous image with the new tile attached, or the
	// bare tile when there is no previous image.
	Complete image.Image
	// Overlap is the smooth seam; nil for a first tile or a zero overlap.
	Overlap image.Image
	// New is the generated tile without the rows shared with the previous one.
	New image.Image
	// Print is the tile trimmed for continuous printing.
	Print image.Image
	// Seed is the seed the backend actually sampled with.
	Seed int64
}

// ModelNotFoundError is returned when no catalog entry contains the
// requested ControlNet model name.
type ModelNotFoundError struct {
	Requested string
	Catalog   []string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("ControlNet model '%s' not found (available: %s)", e.Requested, strings.Join(e.Catalog, ", "))
}

// BackendError wraps a failed call to the generation backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
