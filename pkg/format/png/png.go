// Package png reads and writes PNG through the standard image/png coder.
// Grey and colour images of 8 and 16 bits, with or without alpha, round
// trip unchanged; narrower samples are scaled up to 8 bits.
package png

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/format/bridge"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec for .png files.
type Codec struct{}

func (Codec) Name() string { return "png" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("png", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("png", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}

// Decode reads a PNG image. Paletted files set specs.Palettized.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	m, err := png.Decode(r)
	if err != nil {
		return nil, layout.Wrap("png", err)
	}
	if specs != nil {
		_, paletted := m.(*image.Paletted)
		specs.Palettized = layout.Bool(paletted)
	}
	return bridge.FromImage(m)
}

// Encode writes img as PNG. With specs.Palettized set, 8 bit colour data of
// at most 256 distinct colours is written with a palette.
func Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	m, err := bridge.ToImage("png", img)
	if err != nil {
		return err
	}
	if specs != nil && specs.Palettized.IsYes() {
		if p := palettize(m); p != nil {
			m = p
		}
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(w, m); err != nil {
		return layout.Wrap("png", err)
	}
	return nil
}

// palettize returns m as an image.Paletted, or nil when m is not 8 bit
// colour or has more than 256 colours.
func palettize(m image.Image) *image.Paletted {
	var at func(x, y int) color.Color
	switch m := m.(type) {
	case *image.RGBA:
		at = func(x, y int) color.Color { return m.RGBAAt(x, y) }
	case *image.NRGBA:
		at = func(x, y int) color.Color { return m.NRGBAAt(x, y) }
	default:
		return nil
	}
	b := m.Bounds()
	index := map[color.Color]uint8{}
	var pal color.Palette
	out := image.NewPaletted(b, nil)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := at(x, y)
			i, ok := index[c]
			if !ok {
				if len(pal) == 256 {
					return nil
				}
				i = uint8(len(pal))
				index[c] = i
				pal = append(pal, c)
			}
			out.SetColorIndex(x, y, i)
		}
	}
	out.Palette = pal
	return out
}
