// Package bridge converts between layout images and image.Image, for the
// formats whose coding is done by packages built on the image package.
package bridge

import (
	"image"
	"image/color"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// FromImage copies m into a layout image of 8 or 16 bit unsigned
// components: one for grey images, three for colour, plus a trailing alpha
// component unless m is opaque.
func FromImage(m image.Image) (*layout.Image, error) {
	b := m.Bounds()
	gray, bits := classify(m)
	alpha := !opaque(m)

	img := layout.NewImage(b.Dx(), b.Dy())
	n := 3
	if gray {
		n = 1
	}
	if alpha {
		n++
		img.Alpha = 1
	}
	for range n {
		if _, err := img.AddComponent(bits, false, false, 1, 1); err != nil {
			return nil, err
		}
	}
	for y := range img.Height {
		for x := range img.Width {
			var v [4]uint64
			if bits == 8 {
				c := color.NRGBAModel.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				v = [4]uint64{uint64(c.R), uint64(c.G), uint64(c.B), uint64(c.A)}
			} else {
				c := color.NRGBA64Model.Convert(m.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				v = [4]uint64{uint64(c.R), uint64(c.G), uint64(c.B), uint64(c.A)}
			}
			for i, c := range img.Components {
				switch {
				case alpha && i == n-1:
					c.SetRaw(x, y, v[3])
				default:
					c.SetRaw(x, y, v[i])
				}
			}
		}
	}
	return img, nil
}

func classify(m image.Image) (gray bool, bits int) {
	switch m.(type) {
	case *image.Gray:
		return true, 8
	case *image.Gray16:
		return true, 16
	case *image.Paletted, *image.RGBA, *image.NRGBA, *image.YCbCr, *image.NYCbCrA, *image.CMYK, *image.Alpha:
		return false, 8
	}
	return false, 16
}

func opaque(m image.Image) bool {
	if o, ok := m.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := m.At(x, y).RGBA(); a != 0xFFFF {
				return false
			}
		}
	}
	return true
}

// Check reports whether img can be represented by ToImage.
func Check(op string, img *layout.Image) error {
	n := img.Depth() - img.Alpha
	switch {
	case img.Alpha > 1:
		return layout.Unsupportedf(op, "%d alpha components", img.Alpha)
	case n != 1 && n != 3:
		return layout.Unsupportedf(op, "%d colour components, need 1 or 3", n)
	case img.Subsampled():
		return layout.Unsupportedf(op, "subsampled components")
	}
	for i, c := range img.Components {
		if c.Float || c.Signed || c.BitsPerSample > 16 {
			return layout.Unsupportedf(op, "component %d: %d bit %s samples, need unsigned integers of up to 16 bits",
				i, c.BitsPerSample, kind(c))
		}
	}
	return nil
}

func kind(c *layout.Component) string {
	switch {
	case c.Float:
		return "float"
	case c.Signed:
		return "signed"
	}
	return "unsigned"
}

// Wide reports whether ToImage produces 16 bit samples for img.
func Wide(img *layout.Image) bool {
	for _, c := range img.Components {
		if c.BitsPerSample > 8 {
			return true
		}
	}
	return false
}

// ToImage copies img into an image.Gray, Gray16, RGBA, RGBA64, NRGBA or
// NRGBA64. Samples narrower than the 8 or 16 bit container are scaled to
// its full range; the original precision is not recorded.
func ToImage(op string, img *layout.Image) (image.Image, error) {
	if err := Check(op, img); err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, img.Width, img.Height)
	wide := Wide(img)
	top := uint64(0xFF)
	if wide {
		top = 0xFFFF
	}
	at := func(i, x, y int) uint64 {
		c := img.Components[i]
		full := uint64(1)<<c.BitsPerSample - 1
		return (c.Raw(x, y)*top + full/2) / full
	}

	gray := img.Depth()-img.Alpha == 1
	alpha := img.Alpha == 1
	switch {
	case gray && !alpha && !wide:
		m := image.NewGray(bounds)
		for y := range img.Height {
			for x := range img.Width {
				m.SetGray(x, y, color.Gray{Y: uint8(at(0, x, y))})
			}
		}
		return m, nil
	case gray && !alpha:
		m := image.NewGray16(bounds)
		for y := range img.Height {
			for x := range img.Width {
				m.SetGray16(x, y, color.Gray16{Y: uint16(at(0, x, y))})
			}
		}
		return m, nil
	}

	rgba := func(x, y int) (r, g, b, a uint64) {
		if gray {
			r = at(0, x, y)
			g, b = r, r
		} else {
			r, g, b = at(0, x, y), at(1, x, y), at(2, x, y)
		}
		a = top
		if alpha {
			a = at(img.Depth()-1, x, y)
		}
		return r, g, b, a
	}
	switch {
	case !alpha && !wide:
		m := image.NewRGBA(bounds)
		for y := range img.Height {
			for x := range img.Width {
				r, g, b, _ := rgba(x, y)
				m.SetRGBA(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xFF})
			}
		}
		return m, nil
	case !alpha:
		m := image.NewRGBA64(bounds)
		for y := range img.Height {
			for x := range img.Width {
				r, g, b, _ := rgba(x, y)
				m.SetRGBA64(x, y, color.RGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: 0xFFFF})
			}
		}
		return m, nil
	case !wide:
		m := image.NewNRGBA(bounds)
		for y := range img.Height {
			for x := range img.Width {
				r, g, b, a := rgba(x, y)
				m.SetNRGBA(x, y, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)})
			}
		}
		return m, nil
	}
	m := image.NewNRGBA64(bounds)
	for y := range img.Height {
		for x := range img.Width {
			r, g, b, a := rgba(x, y)
			m.SetNRGBA64(x, y, color.NRGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(a)})
		}
	}
	return m, nil
}
