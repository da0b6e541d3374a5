package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	geojsonadapter "github.com/samirrijal/georef/internal/adapters/geojson"
	"github.com/samirrijal/georef/internal/adapters/memstore"
	"github.com/samirrijal/georef/internal/adapters/shapefile"
	"github.com/samirrijal/georef/internal/core/ports"
	"github.com/samirrijal/georef/internal/core/usecases"
)

type transformOptions struct {
	pairs   string
	in      string
	out     string
	frame   string
	geojson bool
}

// TransformSummary is printed after a successful transform.
type TransformSummary struct {
	Output      string         `json:"output"`
	Features    int            `json:"features"`
	Transformed int            `json:"transformed"`
	Skipped     int            `json:"skipped"`
	SkipKinds   map[string]int `json:"skipped_kinds,omitempty"`
	Scale       float64        `json:"scale"`
	Rotation    float64        `json:"rotation_deg"`
	RMSE        float64        `json:"rmse"`
}

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &transformOptions{}

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Georeference a dataset with a fitted similarity",
		Long: `Fit a similarity to the control point pairs and apply it to every
geometry of the input dataset. The input is a zipped shapefile, or a GeoJSON
file when it ends in .geojson or .json. The output is a zipped shapefile
unless --geojson is set.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pairs, "pairs", "", "YAML file with control point pairs")
	cmd.Flags().StringVar(&opts.in, "in", "", "input dataset (.zip shapefile or .geojson)")
	cmd.Flags().StringVar(&opts.out, "out", "", "output path")
	cmd.Flags().StringVar(&opts.frame, "frame", usecases.FrameWGS84, "frame tag of the output")
	cmd.Flags().BoolVar(&opts.geojson, "geojson", false, "write GeoJSON instead of a zipped shapefile")
	for _, name := range []string{"pairs", "in", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runTransform(cmd *cobra.Command, rootOpts *RootOptions, opts *transformOptions) error {
	ctx := cmd.Context()

	pairs, err := LoadPairs(opts.pairs)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(opts.in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var in ports.DatasetCodec = shapefile.NewCodec(outputBase(opts.out))
	if isGeoJSON(opts.in) {
		in = geojsonadapter.NewCodec()
	}
	store := memstore.New()
	svc := usecases.NewGeorefService(store, in, nil, usecases.Frames{Target: opts.frame})

	id, _, err := svc.UploadRaw(ctx, filepath.Base(opts.in), data)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	res, err := svc.Transform(ctx, id, pairs, opts.frame)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}

	var buf bytes.Buffer
	if opts.geojson {
		err = geojsonadapter.NewCodec().Encode(ctx, &buf, res.Collection)
	} else {
		err = shapefile.NewCodec(outputBase(opts.out)).Encode(ctx, &buf, res.Collection)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := os.WriteFile(opts.out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	summary := TransformSummary{
		Output:      opts.out,
		Features:    res.Collection.Len(),
		Transformed: res.Report.Transformed,
		Skipped:     res.Report.Skipped,
		SkipKinds:   res.Report.SkippedKinds,
		Scale:       res.Fit.Model.Scale,
		Rotation:    res.Fit.Rotation,
		RMSE:        res.Fit.Residuals.RMSE,
	}
	w := cmd.OutOrStdout()
	if rootOpts.Format == "json" {
		return json.NewEncoder(w).Encode(summary)
	}
	fmt.Fprintf(w, "wrote %s: %d features (%d transformed, %d skipped)\n",
		summary.Output, summary.Features, summary.Transformed, summary.Skipped)
	fmt.Fprintf(w, "scale %.12g, rotation %.6f deg, rmse %.6g\n", summary.Scale, summary.Rotation, summary.RMSE)
	for kind, n := range summary.SkipKinds {
		fmt.Fprintf(w, "  skipped %s: %d\n", kind, n)
	}
	return nil
}

func isGeoJSON(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".geojson" || ext == ".json"
}

// outputBase names the shapefile members inside the output archive.
func outputBase(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
