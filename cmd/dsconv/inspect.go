package main

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/sensorable/dsconv"
	"github.com/spf13/cobra"
)

func (a *app) newInspectCmd() *cobra.Command {
	var (
		format  string
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Load a dataset and summarise its normalized content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := dsconv.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("invalid --format: %w", err)
			}
			if !slices.Contains(inputFormats, f) {
				return fmt.Errorf("unsupported input format %q", f)
			}
			c, err := dsconv.NewConvertor(f)
			if err != nil {
				return err
			}

			report := dsconv.NewReport(a.logger)
			doc, err := c.Load(dsconv.FromPath(args[0]), report)
			if err != nil {
				return fmt.Errorf("failed to load the %s dataset: %w", f, err)
			}
			ds, err := c.Normalize(doc, report)
			if err != nil {
				return fmt.Errorf("failed to normalize the %s dataset: %w", f, err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ds)
			}

			_, _ = fmt.Fprintf(out, "%s (%s)\n", ds.Info.DatasetName, ds.Info.DatasetType)
			_, _ = fmt.Fprintf(out, "classes: %d\n", ds.NC)
			for _, c := range ds.Categories {
				_, _ = fmt.Fprintf(out, "  %d: %s\n", c.ID, c.Name)
			}
			for _, s := range dsconv.Splits() {
				if note, ok := ds.Info.Splits[s]; ok {
					_, _ = fmt.Fprintf(out, "%s: %s\n", s, note)
				}
			}
			_, _ = fmt.Fprintf(out, "warnings: %d\n", report.Len())
			if verbose {
				for _, w := range report.Warnings() {
					_, _ = fmt.Fprintf(out, "  %s\n", w)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "The dataset `format`: coco|yolo")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the normalized dataset as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every warning")
	return cmd
}
