package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/likeablob/infinite-mucha-esque-scroll/internal/painter"
	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

const (
	defaultPrompt = `a girl, (alphonse mucha), (art work), poster, art nouveau,
<lora:alphonseMucha_v12:0.6>,
a part of long vertical illustration,
monochrome,
<lora:animeLineartStyle_v20Offset:1.0>, line art,`

	defaultNegativePrompt = `(low quality, worst quality:1.4), (bad anatomy),
(inaccurate limb:1.2),bad composition, inaccurate eyes,
extra digit,fewer digits,(extra arms:1.2), nude, nsfw,`
)

var (
	cfgFile string

	// version is overridden at build time
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mucha-scroll",
	Short: "Paint an endless art nouveau scroll one tile at a time",
	Long: `mucha-scroll asks a Stable Diffusion web UI for a new tile and, when a
previous image is given, conditions the tile on the bottom of that image through
ControlNet and blends the seam so the scroll continues without a visible cut.

Examples:
  # Paint the first tile
  mucha-scroll -o scroll.png --output-print-image print-000.png

  # Continue the scroll
  mucha-scroll -i scroll.png -o scroll.png -f --output-new-image tile-001.png --output-print-image print-001.png

  # Use a remote web UI and keep intermediate images
  mucha-scroll -s http://gpu-box:7860 -i scroll.png -o next.png --debug --debug-dir ./debug

  # Start HTTP server
  mucha-scroll serve --port 8080`,
	SilenceUsage: true,
	RunE:         runGenerate,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mucha-scroll.yaml)")

	// Backend
	pf.StringP("server-url", "s", "http://127.0.0.1:7860", "Stable Diffusion web UI address")
	pf.Duration("backend-timeout", defaultBackendTimeout, "timeout of a single backend call")
	pf.Uint64("backend-retries", 0, "retries of a failed backend call")

	// Generation
	pf.StringP("prompt", "P", defaultPrompt, "prompt")
	pf.StringP("negative-prompt", "N", defaultNegativePrompt, "negative prompt")
	pf.IntP("width", "W", 384, "tile width in pixels")
	pf.IntP("height", "H", 800, "tile height in pixels, excluding the overlap")
	pf.IntP("overlap-height", "l", 200, "rows shared with the previous image")
	pf.Int64("seed", -1, "sampling seed (-1 for random)")
	pf.String("controlnet-model", painter.DefaultControlNetModel, "ControlNet model name or a part of it")
	pf.Float64("contrast", painter.DefaultContrast, "contrast multiplier applied to every tile")
	pf.String("guide-background", "#ffffff", "fill colour of the blank part of the guide image")

	// Diagnostics
	pf.Bool("debug", false, "log verbosely and write intermediate images")
	pf.String("debug-dir", ".", "directory for intermediate images")

	// Tile input and outputs
	f := rootCmd.Flags()
	f.StringP("previous-image", "i", "", "image to continue; without it a first tile is painted")
	f.BoolP("force-overwrite", "f", false, "overwrite existing output files")
	f.StringP("output-image", "o", "", "previous image with the new tile attached")
	f.String("output-overlap-image", "", "smoothly blended seam between the previous image and the new tile")
	f.String("output-new-image", "", "new tile without the rows shared with the previous image")
	f.String("output-print-image", "", "tile for continuous printing")

	for _, name := range []string{
		"server-url", "prompt", "negative-prompt", "width", "height", "overlap-height",
		"seed", "controlnet-model", "contrast", "guide-background", "debug", "debug-dir",
	} {
		viper.BindPFlag(name, pf.Lookup(name))
	}
	viper.BindPFlag("backend.timeout", pf.Lookup("backend-timeout"))
	viper.BindPFlag("backend.retries", pf.Lookup("backend-retries"))
	viper.SetDefault("backend.catalog-ttl", defaultCatalogTTL)

	for _, name := range []string{
		"previous-image", "force-overwrite", "output-image",
		"output-overlap-image", "output-new-image", "output-print-image",
	} {
		viper.BindPFlag(name, f.Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".mucha-scroll" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mucha-scroll")
	}

	viper.SetEnvPrefix("SCROLL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	err := viper.ReadInConfig()
	setupLogging(viper.GetBool("debug"))

	if err == nil {
		slog.Info("Using config file", "path", viper.ConfigFileUsed())
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// outputs maps each produced image to its destination; empty paths are skipped
type outputs struct {
	complete string
	overlap  string
	newTile  string
	print    string
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := newPainter()
	if err != nil {
		return err
	}

	out := outputs{
		complete: viper.GetString("output-image"),
		overlap:  viper.GetString("output-overlap-image"),
		newTile:  viper.GetString("output-new-image"),
		print:    viper.GetString("output-print-image"),
	}
	if err := out.validate(); err != nil {
		return err
	}

	var tile painter.Tile = painter.FirstTile{}
	if path := viper.GetString("previous-image"); path != "" {
		prev, err := scroll.Load(path)
		if err != nil {
			return err
		}
		tile = painter.ContinuationTile{Previous: prev}
	} else if out.overlap != "" {
		slog.Warn("Ignoring --output-overlap-image supplied")
		out.overlap = ""
	}

	req := tileRequest()
	res, err := p.Run(ctx, tile, &req)
	if err != nil {
		return err
	}
	slog.Info("Tile generated", "seed", res.Seed)

	return saveOutputs(ctx, res, out, viper.GetBool("force-overwrite"))
}

func (o outputs) validate() error {
	seen := make(map[string]bool)
	for _, path := range []string{o.complete, o.overlap, o.newTile, o.print} {
		if path == "" {
			continue
		}
		if seen[path] {
			return fmt.Errorf("output path %q is used more than once", path)
		}
		seen[path] = true
	}
	if len(seen) == 0 {
		slog.Warn("No output path given, the generated tile will be discarded")
	}
	return nil
}

// saveOutputs writes the requested images concurrently. Existing files are
// skipped with a warning unless force is set.
func saveOutputs(ctx context.Context, res *painter.Result, out outputs, force bool) error {
	g, _ := errgroup.WithContext(ctx)

	for _, o := range []struct {
		path string
		img  image.Image
	}{
		{out.complete, res.Complete},
		{out.overlap, res.Overlap},
		{out.newTile, res.New},
		{out.print, res.Print},
	} {
		if o.path == "" || o.img == nil || o.img.Bounds().Empty() {
			continue
		}
		g.Go(func() error {
			err := scroll.Save(o.img, o.path, force)
			if errors.Is(err, scroll.ErrOutputExists) {
				slog.Warn("Output already exists. Skipping.", "path", o.path)
				return nil
			}
			if err != nil {
				return err
			}
			slog.Info("Successfully saved", "path", o.path)
			return nil
		})
	}

	return g.Wait()
}
