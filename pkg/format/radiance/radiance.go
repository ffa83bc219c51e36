// Package radiance reads and writes Radiance RGBE (.hdr) images. Samples are
// three 32 bit float components in Radiance units, watts per steradian per
// square metre, where one unit is 179 cd/m².
package radiance

import (
	"image"
	"io"
	"log/slog"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Efficacy is the luminous efficacy Radiance assumes, in lm/W.
const Efficacy = 179

// Codec implements layout.StreamCodec for .hdr files.
type Codec struct{}

func (Codec) Name() string { return "hdr" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("hdr", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("hdr", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}

// Decode reads an RGBE image. specs.RadianceScale receives Efficacy.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	m, err := rgbe.Decode(r)
	if err != nil {
		return nil, layout.Wrap("hdr", err)
	}
	hm, ok := m.(hdr.Image)
	if !ok {
		return nil, layout.Formatf("hdr", "decoder returned %T", m)
	}
	b := hm.Bounds()
	img := layout.NewImage(b.Dx(), b.Dy())
	for range 3 {
		if _, err := img.AddComponent(32, true, true, 1, 1); err != nil {
			return nil, err
		}
	}
	for y := range img.Height {
		for x := range img.Width {
			cr, cg, cb, _ := hm.HDRAt(b.Min.X+x, b.Min.Y+y).HDRRGBA()
			img.Components[0].SetFloat64(x, y, cr)
			img.Components[1].SetFloat64(x, y, cg)
			img.Components[2].SetFloat64(x, y, cb)
		}
	}
	if specs != nil {
		specs.RadianceScale = Efficacy
	}
	return img, nil
}

// Encode writes one grey or three colour components; alpha is dropped.
// When specs.RadianceScale gives the cd/m² of one sample unit, samples are
// converted to Radiance units first. Integer samples are normalised to 0..1.
func Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	n := img.Depth() - img.Alpha
	switch {
	case n != 1 && n != 3:
		return layout.Unsupportedf("hdr", "%d colour components, need 1 or 3", n)
	case img.Subsampled():
		return layout.Unsupportedf("hdr", "subsampled components")
	}
	if img.Alpha > 0 {
		slog.Warn("hdr: alpha is not stored", "components", img.Alpha)
	}
	scale := 1.0
	if specs != nil && specs.RadianceScale > 0 {
		scale = specs.RadianceScale / Efficacy
	}
	value := func(i, x, y int) float64 {
		c := img.Components[i]
		if c.Float {
			return c.Float64(x, y) * scale
		}
		return float64(c.Int(x, y)) / float64(c.Max()) * scale
	}
	m := hdr.NewRGB(image.Rect(0, 0, img.Width, img.Height))
	for y := range img.Height {
		for x := range img.Width {
			r := value(0, x, y)
			g, b := r, r
			if n == 3 {
				g, b = value(1, x, y), value(2, x, y)
			}
			m.SetRGB(x, y, hdrcolor.RGB{R: r, G: g, B: b})
		}
	}
	if err := rgbe.Encode(w, m); err != nil {
		return layout.Wrap("hdr", err)
	}
	return nil
}
