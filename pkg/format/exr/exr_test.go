package exr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/layout/layouttest"
)

func requireSameValues(t *testing.T, want, got *layout.Image) {
	t.Helper()
	require.Equal(t, want.Depth(), got.Depth())
	for i, a := range want.Components {
		b := got.Components[i]
		for y := range a.Height {
			for x := range a.Width {
				require.InDelta(t, a.Float64(x, y), b.Float64(x, y), 1e-9, "component %d (%d,%d)", i, x, y)
			}
		}
	}
}

func TestRoundTrip(t *testing.T) {
	half := layouttest.Comp{Bits: 16, Float: true}
	for name, alpha := range map[string]int{"RGB": 0, "RGBA": 1} {
		t.Run(name, func(t *testing.T) {
			comps := []layouttest.Comp{half, half, half}
			if alpha == 1 {
				comps = append(comps, half)
			}
			img := layouttest.New(t, 7, 5, alpha, comps...)
			path := filepath.Join(t.TempDir(), "a.exr")
			var c Codec
			require.NoError(t, c.Save(path, img, nil))
			got, err := c.Load(path, nil)
			require.NoError(t, err)
			assert.Equal(t, alpha, got.Alpha)
			assert.True(t, got.Components[0].Float)
			requireSameValues(t, img, got)
		})
	}
}

func TestToRGBA(t *testing.T) {
	img := layouttest.New(t, 2, 1, 0, layouttest.Comp{Bits: 8})
	img.Components[0].SetRaw(0, 0, 255)
	img.Components[0].SetRaw(1, 0, 51)
	m, err := ToRGBA(img)
	require.NoError(t, err)
	r, g, b, a := m.RGBA(0, 0)
	assert.Equal(t, []float32{1, 1, 1, 1}, []float32{r, g, b, a})
	r, _, _, _ = m.RGBA(1, 0)
	assert.InDelta(t, 0.2, r, 1e-6)

	back, err := FromRGBA(m)
	require.NoError(t, err)
	assert.Equal(t, 3, back.Depth())
	assert.Equal(t, 0, back.Alpha)

	_, err = ToRGBA(layouttest.New(t, 2, 2, 0, layouttest.Uint(8, 2)...))
	require.ErrorIs(t, err, layout.ErrFormat)
	_, err = ToRGBA(layouttest.New(t, 4, 4, 0, layouttest.Comp{Bits: 8}, layouttest.Comp{Bits: 8, SubX: 2}, layouttest.Comp{Bits: 8, SubX: 2}))
	require.ErrorIs(t, err, layout.ErrFormat)
}

func TestLoadMissing(t *testing.T) {
	_, err := Codec{}.Load(filepath.Join(t.TempDir(), "missing.exr"), nil)
	require.ErrorIs(t, err, layout.ErrIO)
}
