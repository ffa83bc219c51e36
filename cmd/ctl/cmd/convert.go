package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jpfielding/imgdiff.go/pkg/codec"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// option flags and the Specs field each one sets
var optionFlags = []struct {
	name  string
	usage string
	set   func(s *layout.Specs)
}{
	{"ascii", "write the plain text variant of the format", func(s *layout.Specs) { s.ASCII = layout.Yes }},
	{"interleaved", "interleave components", func(s *layout.Specs) { s.Interleaved = layout.Yes }},
	{"separate", "store components in separate planes or elements", func(s *layout.Specs) { s.Interleaved = layout.No }},
	{"yuv", "treat three components as YCbCr", func(s *layout.Specs) { s.YUVEncoded = layout.Yes }},
	{"palettized", "write a colour palette when the colours fit", func(s *layout.Specs) { s.Palettized = layout.Yes }},
	{"little-endian", "write little endian data", func(s *layout.Specs) { s.LittleEndian = layout.Yes }},
	{"big-endian", "write big endian data", func(s *layout.Specs) { s.LittleEndian = layout.No }},
	{"full-range", "mark YCbCr data as full range", func(s *layout.Specs) { s.FullRange = layout.Yes }},
	{"limited-range", "mark YCbCr data as limited (video) range", func(s *layout.Specs) { s.FullRange = layout.No }},
	{"rle", "run length encode where the format supports it", func(s *layout.Specs) { s.RunLength = layout.Yes }},
}

func addSpecFlags(fs *pflag.FlagSet) {
	for _, o := range optionFlags {
		fs.Bool(o.name, false, o.usage)
	}
	fs.Float64("radiance-scale", 0, "cd/m² of one sample unit, 0 to keep the source's")
}

// specsFromFlags collects the explicit output settings.
func specsFromFlags(fs *pflag.FlagSet) (*layout.Specs, error) {
	s := &layout.Specs{}
	for _, o := range optionFlags {
		if on, _ := fs.GetBool(o.name); on {
			o.set(s)
		}
	}
	for _, pair := range [][2]string{{"interleaved", "separate"}, {"little-endian", "big-endian"}, {"full-range", "limited-range"}} {
		a, _ := fs.GetBool(pair[0])
		b, _ := fs.GetBool(pair[1])
		if a && b {
			return nil, fmt.Errorf("--%s and --%s exclude each other", pair[0], pair[1])
		}
	}
	scale, _ := fs.GetFloat64("radiance-scale")
	if scale < 0 {
		return nil, fmt.Errorf("--radiance-scale must not be negative, got %g", scale)
	}
	s.RadianceScale = scale
	return s, nil
}

// NewConvertCmd loads an image and saves it in the format of the output path
func NewConvertCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "convert an image between formats",
		Long: `Load <in> and save it as <out>, each with the codec its extension selects.
Settings the reader inferred (endianness, interleaving ...) carry over unless
a flag overrides them. A RAW layout follows an '@': frame.raw@640x480x3:{8=0}:{8=1}:{8=2}`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := specsFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return runConvert(ctx, args[0], args[1], specs)
		},
	}
	addSpecFlags(cmd.Flags())
	return cmd
}

func runConvert(ctx context.Context, in, out string, specs *layout.Specs) error {
	var inferred layout.Specs
	img, err := codec.LoadImage(in, &inferred)
	if err != nil {
		return fmt.Errorf("load %s: %w", in, err)
	}
	specs.Merge(&inferred)
	slog.DebugContext(ctx, "converting", "in", in, "out", out, "image", img.String(), "specs", fmt.Sprintf("%+v", *specs))
	if err := codec.SaveImage(out, img, specs); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}
	slog.InfoContext(ctx, "converted", "in", in, "out", out, "width", img.Width, "height", img.Height, "depth", img.Depth())
	return nil
}
