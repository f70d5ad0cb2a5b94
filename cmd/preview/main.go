// Command preview renders the watermarked preview of a single image, the way
// the server does for uploads.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hosseinskia/imageflow/media"
)

var (
	size          int
	watermarkPath string
)

var rootCmd = &cobra.Command{
	Use:          "preview <in> <out>",
	Short:        "Generate a watermarked preview from an image file",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		watermark, err := media.LoadWatermark(watermarkPath)
		if err != nil {
			return err
		}

		return media.NewGenerator(size, watermark).Generate(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.Flags().IntVar(&size, "size", media.DefaultPreviewSize, "longest side of the preview")
	rootCmd.Flags().StringVar(&watermarkPath, "watermark", "", "watermark image, the built-in one when empty")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
