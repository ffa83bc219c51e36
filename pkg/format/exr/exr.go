// Package exr reads and writes OpenEXR scanline files as RGBA. Decoded
// images hold 32 bit float components, three for colour plus alpha unless
// every alpha sample is 1. Files are written with ZIP compressed half
// float channels.
package exr

import (
	"image"
	"log/slog"
	"os"

	"github.com/mrjoshuak/go-openexr/exr"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.Codec for .exr files. The container needs
// random access, so there is no stream form.
type Codec struct{}

func (Codec) Name() string { return "exr" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, layout.IOError("exr", err)
	}
	m, err := exr.DecodeFile(path)
	if err != nil {
		return nil, layout.Wrap("exr", err)
	}
	return FromRGBA(m)
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	m, err := ToRGBA(img)
	if err != nil {
		return err
	}
	if err := exr.EncodeFile(path, m); err != nil {
		_ = os.Remove(path)
		return layout.Wrap("exr", err)
	}
	slog.Debug("saved image", "codec", "exr", "path", path)
	return nil
}

// FromRGBA converts a decoded EXR image.
func FromRGBA(m *exr.RGBAImage) (*layout.Image, error) {
	b := m.Bounds()
	img := layout.NewImage(b.Dx(), b.Dy())
	alpha := false
	for i := 3; i < len(m.Pix); i += m.Stride {
		if m.Pix[i] != 1 {
			alpha = true
			break
		}
	}
	n := 3
	if alpha {
		n, img.Alpha = 4, 1
	}
	for range n {
		if _, err := img.AddComponent(32, true, true, 1, 1); err != nil {
			return nil, err
		}
	}
	for y := range img.Height {
		for x := range img.Width {
			r, g, bl, a := m.RGBA(b.Min.X+x, b.Min.Y+y)
			for i, v := range []float32{r, g, bl, a}[:n] {
				img.Components[i].SetFloat64(x, y, float64(v))
			}
		}
	}
	return img, nil
}

// ToRGBA converts one grey or three colour components, optionally followed
// by alpha. Integer samples are normalised to 0..1, signed ones to -1..1.
func ToRGBA(img *layout.Image) (*exr.RGBAImage, error) {
	n := img.Depth() - img.Alpha
	switch {
	case img.Alpha > 1:
		return nil, layout.Unsupportedf("exr", "%d alpha components", img.Alpha)
	case n != 1 && n != 3:
		return nil, layout.Unsupportedf("exr", "%d colour components, need 1 or 3", n)
	case img.Subsampled():
		return nil, layout.Unsupportedf("exr", "subsampled components")
	}
	for i, c := range img.Components {
		if !c.Float || c.BitsPerSample > 16 {
			slog.Debug("exr: samples are stored as half floats", "component", i, "bits", c.BitsPerSample, "float", c.Float)
		}
	}
	value := func(i, x, y int) float32 {
		c := img.Components[i]
		if c.Float {
			return float32(c.Float64(x, y))
		}
		return float32(float64(c.Int(x, y)) / float64(c.Max()))
	}
	m := exr.NewRGBAImage(image.Rect(0, 0, img.Width, img.Height))
	for y := range img.Height {
		for x := range img.Width {
			r := value(0, x, y)
			g, b := r, r
			if n == 3 {
				g, b = value(1, x, y), value(2, x, y)
			}
			a := float32(1)
			if img.Alpha == 1 {
				a = value(n, x, y)
			}
			m.SetRGBA(x, y, r, g, b, a)
		}
	}
	return m, nil
}
