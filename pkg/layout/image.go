// Package layout holds the in-memory image model shared by every codec: an
// Image is an ordered list of Components, each a sample plane with its own
// geometry and sample encoding.
package layout

import (
	"fmt"
	"strings"
)

// Image is the decoded form of any supported file.
type Image struct {
	// Width and Height are the nominal dimensions, the size of an
	// unsubsampled component.
	Width  int
	Height int
	// Components in file order; at least one for a valid image.
	Components []*Component
	// Alpha is the number of trailing alpha components.
	Alpha int
}

// NewImage returns an empty image of the given nominal size.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height}
}

// Depth is the number of components.
func (img *Image) Depth() int {
	return len(img.Components)
}

// Component returns component i.
func (img *Image) Component(i int) *Component {
	return img.Components[i]
}

// AddComponent allocates a component whose size follows from the nominal
// dimensions and the subsampling factors, rounding up.
func (img *Image) AddComponent(bits int, signed, float bool, subX, subY int) (*Component, error) {
	if subX <= 0 {
		subX = 1
	}
	if subY <= 0 {
		subY = 1
	}
	w := (img.Width + subX - 1) / subX
	h := (img.Height + subY - 1) / subY
	if w > 0 && h > 0 && bits > 0 && bits <= MaxBitsPerSample {
		size := int64(w) * int64(h) * int64(BytesForBits(bits, float))
		if total := img.Bytes() + size; total > MaxImageBytes {
			return nil, ResourceError("layout", total)
		}
	}
	c, err := NewComponent(w, h, bits, signed, float, subX, subY)
	if err != nil {
		return nil, err
	}
	img.Components = append(img.Components, c)
	return c, nil
}

// Bytes is the size of all sample buffers.
func (img *Image) Bytes() int64 {
	var n int64
	for _, c := range img.Components {
		n += int64(c.Height) * int64(c.BytesPerRow)
	}
	return n
}

// Validate checks the structural invariants of an image.
func (img *Image) Validate() error {
	if len(img.Components) == 0 {
		return Formatf("layout", "image has no components")
	}
	if img.Width <= 0 || img.Height <= 0 {
		return Formatf("layout", "invalid image dimensions %dx%d", img.Width, img.Height)
	}
	if img.Alpha < 0 || img.Alpha > len(img.Components) {
		return Formatf("layout", "alpha count %d exceeds depth %d", img.Alpha, len(img.Components))
	}
	for i, c := range img.Components {
		if c.BitsPerSample <= 0 || c.BitsPerSample > MaxBitsPerSample {
			return Formatf("layout", "component %d has invalid bit depth %d", i, c.BitsPerSample)
		}
		if len(c.Data) < c.Height*c.BytesPerRow {
			return Formatf("layout", "component %d buffer holds %d bytes, need %d", i, len(c.Data), c.Height*c.BytesPerRow)
		}
	}
	return nil
}

// CloneLayout copies the geometry and sample encoding into freshly
// allocated, zeroed components. It is how a derived output image is made.
func (img *Image) CloneLayout() (*Image, error) {
	out := &Image{Width: img.Width, Height: img.Height, Alpha: img.Alpha}
	for _, c := range img.Components {
		n, err := NewComponent(c.Width, c.Height, c.BitsPerSample, c.Signed, c.Float, c.SubX, c.SubY)
		if err != nil {
			return nil, err
		}
		out.Components = append(out.Components, n)
	}
	return out, nil
}

// Clone returns a deep copy including pixel data.
func (img *Image) Clone() *Image {
	out := &Image{Width: img.Width, Height: img.Height, Alpha: img.Alpha}
	for _, c := range img.Components {
		out.Components = append(out.Components, c.Clone())
	}
	return out
}

// Swap exchanges the complete contents of two images. Pixel buffers change
// owner, they are not copied.
func (img *Image) Swap(other *Image) {
	*img, *other = *other, *img
}

// Subsampled reports whether any component is subsampled.
func (img *Image) Subsampled() bool {
	for _, c := range img.Components {
		if c.SubX != 1 || c.SubY != 1 {
			return true
		}
	}
	return false
}

// Uniform reports whether components first..last (inclusive) share bit depth,
// signedness and float-ness.
func (img *Image) Uniform(first, last int) bool {
	for i := first + 1; i <= last; i++ {
		if !img.Components[i].SameEncoding(img.Components[first]) {
			return false
		}
	}
	return true
}

// CheckCompatible verifies that two images can be compared sample by sample:
// same depth, per-component dimensions and float-ness and, for integer data,
// the same bit depth and signedness.
func CheckCompatible(a, b *Image) error {
	if a.Depth() != b.Depth() {
		return Formatf("compare", "images have different depths, %d and %d", a.Depth(), b.Depth())
	}
	for i := range a.Components {
		ca, cb := a.Components[i], b.Components[i]
		if ca.Width != cb.Width || ca.Height != cb.Height {
			return Formatf("compare", "component %d has different dimensions, %dx%d and %dx%d",
				i, ca.Width, ca.Height, cb.Width, cb.Height)
		}
		if ca.Float != cb.Float {
			return Formatf("compare", "component %d differs in floating point representation", i)
		}
		if ca.Float {
			continue
		}
		if ca.BitsPerSample != cb.BitsPerSample {
			return Formatf("compare", "component %d has different bit depths, %d and %d",
				i, ca.BitsPerSample, cb.BitsPerSample)
		}
		if ca.Signed != cb.Signed {
			return Formatf("compare", "component %d differs in signedness", i)
		}
	}
	return nil
}

func (img *Image) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%dx%d, %d component(s), %d alpha", img.Width, img.Height, img.Depth(), img.Alpha)
	for i, c := range img.Components {
		kind := "unsigned"
		switch {
		case c.Float:
			kind = "float"
		case c.Signed:
			kind = "signed"
		}
		fmt.Fprintf(&sb, "\n  [%d] %dx%d %d bit %s, subsampling %dx%d", i, c.Width, c.Height, c.BitsPerSample, kind, c.SubX, c.SubY)
	}
	return sb.String()
}
