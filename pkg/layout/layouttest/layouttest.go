// Package layouttest builds deterministic test images and compares decoded
// results.
package layouttest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Comp describes one component of a test image.
type Comp struct {
	Bits       int
	Signed     bool
	Float      bool
	SubX, SubY int
}

// Uint returns n unsigned unsubsampled components of the given depth.
func Uint(bits, n int) []Comp {
	out := make([]Comp, n)
	for i := range out {
		out[i] = Comp{Bits: bits}
	}
	return out
}

// New allocates an image and fills it with Fill.
func New(t testing.TB, w, h, alpha int, comps ...Comp) *layout.Image {
	t.Helper()
	img := layout.NewImage(w, h)
	for _, c := range comps {
		_, err := img.AddComponent(c.Bits, c.Signed, c.Float, c.SubX, c.SubY)
		require.NoError(t, err)
	}
	img.Alpha = alpha
	Fill(img)
	return img
}

// Fill writes a position dependent pattern that exercises every bit of an
// integer sample. Float samples get small multiples of 1/4, exact even in
// half precision.
func Fill(img *layout.Image) {
	for i, c := range img.Components {
		for y := range c.Height {
			for x := range c.Width {
				if c.Float {
					c.SetFloat64(x, y, float64((x*3+y*5+i)%64)/4-4)
					continue
				}
				v := uint64(x*7+y*13+i*29+1) * 0x9E3779B97F4A7C15
				v ^= v >> 29
				c.SetRaw(x, y, v&bitio.Mask(c.BitsPerSample))
			}
		}
	}
}

// RequireEqual fails unless both images have the same geometry, sample
// encodings and pixel data.
func RequireEqual(t testing.TB, want, got *layout.Image) {
	t.Helper()
	require.Equal(t, want.Width, got.Width, "width")
	require.Equal(t, want.Height, got.Height, "height")
	require.Equal(t, want.Depth(), got.Depth(), "depth")
	require.Equal(t, want.Alpha, got.Alpha, "alpha")
	for i, a := range want.Components {
		b := got.Components[i]
		require.Equal(t, a.Width, b.Width, "component %d width", i)
		require.Equal(t, a.Height, b.Height, "component %d height", i)
		require.Equal(t, a.BitsPerSample, b.BitsPerSample, "component %d bits", i)
		require.Equal(t, a.Signed, b.Signed, "component %d signedness", i)
		require.Equal(t, a.Float, b.Float, "component %d float", i)
		require.Equal(t, a.SubX, b.SubX, "component %d horizontal subsampling", i)
		require.Equal(t, a.SubY, b.SubY, "component %d vertical subsampling", i)
		n := a.Height * a.BytesPerRow
		if !bytes.Equal(a.Data[:n], b.Data[:n]) {
			for y := range a.Height {
				for x := range a.Width {
					require.Equal(t, a.Raw(x, y), b.Raw(x, y), "component %d sample (%d,%d)", i, x, y)
				}
			}
		}
	}
}
