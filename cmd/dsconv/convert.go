package main

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sensorable/dsconv"
	"github.com/spf13/cobra"
)

// The formats accepted as conversion source and target.
var (
	inputFormats  = []dsconv.Format{dsconv.FormatCOCO, dsconv.FormatYOLO}
	outputFormats = []dsconv.Format{dsconv.FormatCOCO, dsconv.FormatYOLO, dsconv.FormatTFRecord}
)

func (a *app) newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a dataset to another format",
		Example: "  dsconv convert --from coco --to yolo -i dataset.zip -o out/yolo.zip\n" +
			"  dsconv convert --from yolo --to tfrecord -i ./yolo --shards 4 -o out/records",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("from", "f", "", "The source `format`: coco|yolo")
	f.StringP("to", "t", "", "The target `format`: coco|yolo|tfrecord")
	f.StringP("input", "i", "", "The `path` to the input directory or zip archive")
	f.StringP("output", "o", "", "The `path` to the output zip archive (.zip is appended if needed)")
	f.Bool("extract", false, "Write the output as a directory tree instead of a zip archive")
	f.String("map-labels", "", "Comma-separated list of old=new label (sub-)string replacements")
	f.Int("shards", 1, "The number of TFRecord files to create per split (tfrecord only)")
	for _, key := range []string{"from", "to", "input", "output", "extract", "map-labels", "shards"} {
		_ = a.v.BindPFlag(key, f.Lookup(key))
	}
	return cmd
}

func (a *app) runConvert(cmd *cobra.Command) error {
	// Validate the conversion direction.
	from, err := dsconv.ParseFormat(a.v.GetString("from"))
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := dsconv.ParseFormat(a.v.GetString("to"))
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	if !slices.Contains(inputFormats, from) {
		return fmt.Errorf("unsupported input format %q", from)
	}
	if !slices.Contains(outputFormats, to) {
		return fmt.Errorf("unsupported output format %q", to)
	}

	// Validate path arguments.
	input, output := a.v.GetString("input"), a.v.GetString("output")
	if input == "" || output == "" {
		return fmt.Errorf("missing --input or --output path argument")
	}
	if filepath.Clean(input) == filepath.Clean(output) {
		return fmt.Errorf("the input and output paths cannot be identical")
	}
	shards := a.v.GetInt("shards")
	if shards < 1 {
		return fmt.Errorf("invalid --shards %d, must be at least 1", shards)
	}

	opts := []dsconv.Option{dsconv.WithShards(shards)}
	src, err := dsconv.NewConvertor(from, opts...)
	if err != nil {
		return err
	}
	dst, err := dsconv.NewConvertor(to, opts...)
	if err != nil {
		return err
	}

	report := dsconv.NewReport(a.logger)
	doc, err := src.Load(dsconv.FromPath(input), report)
	if err != nil {
		return fmt.Errorf("failed to load the %s dataset: %w", from, err)
	}
	ds, err := src.Normalize(doc, report)
	if err != nil {
		return fmt.Errorf("failed to normalize the %s dataset: %w", from, err)
	}

	// Map labels.
	if m := a.v.GetString("map-labels"); m != "" {
		n, err := ds.RenameCategories(strings.Split(m, ","))
		if err != nil {
			return fmt.Errorf("failed to map labels: %w", err)
		}
		a.logger.Info("mapped labels", "categories", n)
	}

	dest := dsconv.ToPath(output)
	if a.v.GetBool("extract") {
		dest = dsconv.ToDir(output)
	}
	if _, err := dst.Convert(ds, dest, report); err != nil {
		return fmt.Errorf("failed to convert to %s: %w", to, err)
	}

	a.logger.Info("conversion complete", "from", string(from), "to", string(to),
		"output", dest.String(), "images", len(ds.Images), "annotations", len(ds.Annotations),
		"warnings", report.Len())
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d images with %d annotations to %s\n",
		len(ds.Images), len(ds.Annotations), dest)
	return nil
}
