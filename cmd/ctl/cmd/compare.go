package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/jpfielding/imgdiff.go/pkg/codec"
	"github.com/jpfielding/imgdiff.go/pkg/meter"
)

// NewCompareCmd measures the difference of two images
func NewCompareCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "compare two images sample by sample",
		Long: `Load both images, check that their layouts are compatible and print the
mean squared error, PSNR and peak error per component and overall. The command
fails when the images are incompatible or, with --min-psnr, when the overall
PSNR falls below the limit. --exact fails on any difference.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minPSNR, _ := cmd.Flags().GetFloat64("min-psnr")
			exact, _ := cmd.Flags().GetBool("exact")
			a, err := codec.LoadImage(args[0], nil)
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			b, err := codec.LoadImage(args[1], nil)
			if err != nil {
				return fmt.Errorf("load %s: %w", args[1], err)
			}
			per, total, err := meter.Compare(a, b)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, r := range per {
				fmt.Fprintf(w, "component %d: %s\n", i, r)
			}
			fmt.Fprintf(w, "total: %s\n", total)
			switch {
			case exact && !total.Identical():
				return fmt.Errorf("images differ in %d of %d samples", total.Differing, total.Samples)
			case minPSNR > 0 && !math.IsInf(total.PSNR, 1) && total.PSNR < minPSNR:
				return fmt.Errorf("PSNR %.4g dB is below %.4g dB", total.PSNR, minPSNR)
			}
			return nil
		},
	}
	pf := cmd.Flags()
	pf.Float64("min-psnr", 0, "fail when the overall PSNR in dB is lower")
	pf.Bool("exact", false, "fail on any difference")
	return cmd
}
