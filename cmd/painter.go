package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/viper"

	"github.com/likeablob/infinite-mucha-esque-scroll/internal/backend"
	"github.com/likeablob/infinite-mucha-esque-scroll/internal/painter"
	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

const (
	// A single txt2img call on a consumer GPU can take minutes.
	defaultBackendTimeout = 10 * time.Minute
	defaultCatalogTTL     = 5 * time.Minute
)

// newPainter wires the backend client, retries, catalog cache and debug sink
// from the current configuration.
func newPainter() (*painter.Painter, error) {
	client, err := backend.NewHTTPClient(viper.GetString("server-url"), viper.GetDuration("backend.timeout"))
	if err != nil {
		return nil, err
	}

	retrying := backend.WithRetry(client, viper.GetUint64("backend.retries"))
	catalog := backend.NewCachedCatalog(retrying, viper.GetDuration("backend.catalog-ttl"))

	bg, err := colorful.Hex(viper.GetString("guide-background"))
	if err != nil {
		return nil, fmt.Errorf("invalid guide background %q: %w", viper.GetString("guide-background"), err)
	}

	var sink scroll.Sink
	if viper.GetBool("debug") {
		dir := viper.GetString("debug-dir")
		slog.Debug("Writing intermediate images", "dir", dir)
		sink = &scroll.DirSink{Dir: dir}
	}

	return painter.New(catalog, painter.Options{
		Contrast:   viper.GetFloat64("contrast"),
		Background: bg,
		Sink:       sink,
	})
}

// tileRequest collects the generation parameters from the configuration
func tileRequest() painter.Request {
	return painter.Request{
		Prompt:          viper.GetString("prompt"),
		NegativePrompt:  viper.GetString("negative-prompt"),
		Seed:            viper.GetInt64("seed"),
		Width:           viper.GetInt("width"),
		Height:          viper.GetInt("height"),
		OverlapHeight:   viper.GetInt("overlap-height"),
		ControlNetModel: viper.GetString("controlnet-model"),
	}
}
