package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/likeablob/infinite-mucha-esque-scroll/pkg/scroll"
)

var maskCmd = &cobra.Command{
	Use:   "mask",
	Short: "Write the seam blending mask as an image",
	Long: `Write the gradient mask used to blend a new tile into the previous image.
The mask is as wide as a tile and as tall as the overlap.

Examples:
  mucha-scroll mask -W 384 -l 200 -o mask.png
  mucha-scroll mask --offset 0.5 -o mask.png`,
	RunE: runMask,
}

func init() {
	rootCmd.AddCommand(maskCmd)

	maskCmd.Flags().StringP("output", "o", "mask.png", "output file")
	maskCmd.Flags().Float64("offset", scroll.DefaultMaskOffset, "fraction of the overlap kept fully opaque")
	maskCmd.Flags().BoolP("force-overwrite", "f", false, "overwrite an existing output file")
}

func runMask(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	offset, _ := cmd.Flags().GetFloat64("offset")
	force, _ := cmd.Flags().GetBool("force-overwrite")

	mask, err := scroll.GradientMask(viper.GetInt("width"), viper.GetInt("overlap-height"), offset)
	if err != nil {
		return err
	}

	if err := scroll.Save(mask, output, force); err != nil {
		return err
	}
	slog.Info("Successfully saved", "path", output)
	return nil
}
