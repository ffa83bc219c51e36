package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpfielding/imgdiff.go/pkg/codec"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/util"
)

type componentInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bits   int    `json:"bits"`
	Kind   string `json:"kind"`
	SubX   int    `json:"sub_x"`
	SubY   int    `json:"sub_y"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

type imageInfo struct {
	Path        string            `json:"path"`
	Codec       string            `json:"codec"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Alpha       int               `json:"alpha"`
	Components  []componentInfo   `json:"components"`
	Specs       map[string]string `json:"specs"`
	Fingerprint string            `json:"fingerprint"`
}

// NewInfoCmd describes the layout of an image file
func NewInfoCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "describe an image: layout, inferred settings and a content fingerprint",
		Long:  "Decodes the file and prints its component layout, sample ranges, the settings the reader inferred and a fingerprint of the pixel content that is equal for any file decoding to the same image.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := codec.ForPath(args[0])
			if err != nil {
				return err
			}
			var specs layout.Specs
			img, err := codec.LoadImage(args[0], &specs)
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			info := describe(args[0], c.Name(), img, &specs)
			w := cmd.OutOrStdout()
			switch format, _ := cmd.Flags().GetString("format"); format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				fmt.Fprintf(w, "%s (%s)\n%s\n", info.Path, info.Codec, img)
				for i, ci := range info.Components {
					fmt.Fprintf(w, "  [%d] range %s..%s\n", i, ci.Min, ci.Max)
				}
				for _, k := range []string{"ascii", "interleaved", "yuv", "palettized", "little_endian", "full_range", "rle", "radiance_scale"} {
					if v, ok := info.Specs[k]; ok {
						fmt.Fprintf(w, "%s: %s\n", k, v)
					}
				}
				fmt.Fprintf(w, "fingerprint: %s\n", info.Fingerprint)
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "text", "output format (text|json)")
	return cmd
}

func describe(path, name string, img *layout.Image, specs *layout.Specs) imageInfo {
	info := imageInfo{
		Path:        path,
		Codec:       name,
		Width:       img.Width,
		Height:      img.Height,
		Alpha:       img.Alpha,
		Specs:       map[string]string{},
		Fingerprint: util.Fingerprint(img),
	}
	for _, c := range img.Components {
		ci := componentInfo{Width: c.Width, Height: c.Height, Bits: c.BitsPerSample, Kind: "unsigned", SubX: c.SubX, SubY: c.SubY}
		switch {
		case c.Float:
			ci.Kind = "float"
		case c.Signed:
			ci.Kind = "signed"
		}
		ci.Min, ci.Max = sampleRange(c)
		info.Components = append(info.Components, ci)
	}
	for k, o := range map[string]layout.Option{
		"ascii":         specs.ASCII,
		"interleaved":   specs.Interleaved,
		"yuv":           specs.YUVEncoded,
		"palettized":    specs.Palettized,
		"little_endian": specs.LittleEndian,
		"full_range":    specs.FullRange,
		"rle":           specs.RunLength,
	} {
		if o != layout.Unspecified {
			info.Specs[k] = o.String()
		}
	}
	if specs.RadianceScale != 0 {
		info.Specs["radiance_scale"] = fmt.Sprintf("%g", specs.RadianceScale)
	}
	return info
}

// sampleRange returns the smallest and largest sample present.
func sampleRange(c *layout.Component) (string, string) {
	if c.Float {
		lo, hi := c.Float64(0, 0), c.Float64(0, 0)
		for y := range c.Height {
			for x := range c.Width {
				v := c.Float64(x, y)
				lo, hi = min(lo, v), max(hi, v)
			}
		}
		return fmt.Sprintf("%g", lo), fmt.Sprintf("%g", hi)
	}
	lo, hi := c.Int(0, 0), c.Int(0, 0)
	for y := range c.Height {
		for x := range c.Width {
			v := c.Int(x, y)
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	return fmt.Sprint(lo), fmt.Sprint(hi)
}
