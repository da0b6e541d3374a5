package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/samirrijal/georef/internal/adapters/memstore"
	"github.com/samirrijal/georef/internal/adapters/shapefile"
	"github.com/samirrijal/georef/internal/core/usecases"
)

type fitOptions struct {
	pairs string
	frame string
}

// NewFitCommand creates the fit command.
func NewFitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &fitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a similarity transform to control point pairs",
		Long: `Fit the least-squares similarity that maps every source point onto its
target and print the model together with the per-pair residuals.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pairs, "pairs", "", "YAML file with control point pairs")
	cmd.Flags().StringVar(&opts.frame, "frame", usecases.FrameWGS84, "reference frame of the target points")
	_ = cmd.MarkFlagRequired("pairs")

	return cmd
}

func runFit(cmd *cobra.Command, rootOpts *RootOptions, opts *fitOptions) error {
	pairs, err := LoadPairs(opts.pairs)
	if err != nil {
		return err
	}

	svc := usecases.NewGeorefService(memstore.New(), shapefile.NewCodec(""), nil, usecases.Frames{})
	res, err := svc.Fit(cmd.Context(), pairs, opts.frame)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	if rootOpts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printFit(cmd.OutOrStdout(), res)
	return nil
}

func printFit(w io.Writer, res *usecases.FitResult) {
	m := res.Model
	fmt.Fprintf(w, "pairs:        %d\n", res.Pairs)
	fmt.Fprintf(w, "scale:        %.12g\n", m.Scale)
	fmt.Fprintf(w, "rotation:     %.6f deg\n", res.Rotation)
	fmt.Fprintf(w, "translation:  %.12g %.12g\n", m.Translation[0], m.Translation[1])
	fmt.Fprintf(w, "rmse:         %.6g\n", res.Residuals.RMSE)
	if res.RMSEMeters != nil {
		fmt.Fprintf(w, "rmse meters:  %.3f\n", *res.RMSEMeters)
	}
	for i, r := range res.Residuals.Residuals {
		fmt.Fprintf(w, "  pair %d: %.6g\n", i, r)
	}
}
