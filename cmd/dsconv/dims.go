package main

import (
	"fmt"
	"os"

	"github.com/sensorable/dsconv"
	"github.com/spf13/cobra"
)

func (a *app) newDimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dims <image>...",
		Short: "Print the dimensions of JPEG images",
		Long: "Print the dimensions of JPEG images, read from the frame header without decoding the" +
			" image. Dimensions that cannot be determined are reported as the 640x480 default.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				w, h, err := dsconv.JPEGDimensions(data)
				if err != nil {
					a.logger.Warn("using the default dimensions", "file", path, "error", err)
					_, _ = fmt.Fprintf(out, "%s: %dx%d (default)\n", path, w, h)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s: %dx%d\n", path, w, h)
			}
			return nil
		},
	}
}
