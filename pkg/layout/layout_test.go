package layout

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGray(t *testing.T, w, h, bits int, signed bool) *Image {
	t.Helper()
	img := NewImage(w, h)
	_, err := img.AddComponent(bits, signed, false, 1, 1)
	require.NoError(t, err)
	return img
}

func TestNewComponent(t *testing.T) {
	tests := []struct {
		name   string
		bits   int
		signed bool
		float  bool
		bpp    int
		err    bool
	}{
		{"1bit", 1, false, false, 1, false},
		{"8bit", 8, false, false, 1, false},
		{"10bit", 10, false, false, 2, false},
		{"24bit", 24, true, false, 4, false},
		{"40bit", 40, false, false, 8, false},
		{"64bit", 64, true, false, 8, false},
		{"half", 16, false, true, 4, false},
		{"float", 32, false, true, 4, false},
		{"double", 64, false, true, 8, false},
		{"zero", 0, false, false, 0, true},
		{"65bit", 65, false, false, 0, true},
		{"float24", 24, false, true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewComponent(3, 2, tt.bits, tt.signed, tt.float, 1, 1)
			if tt.err {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bpp, c.BytesPerPixel)
			assert.Equal(t, 3*tt.bpp, c.BytesPerRow)
			assert.Len(t, c.Data, 2*3*tt.bpp)
			assert.Equal(t, tt.signed || tt.float, c.Signed)
		})
	}

	_, err := NewComponent(0, 4, 8, false, false, 1, 1)
	assert.ErrorIs(t, err, ErrFormat)

	_, err = NewComponent(1<<20, 1<<20, 64, false, false, 1, 1)
	assert.ErrorIs(t, err, ErrResource)
}

func TestImageAllocationLimit(t *testing.T) {
	// planes that fit on their own but not together; the existing ones are
	// described without buffers so nothing large is allocated
	img := NewImage(1<<15, 1<<15)
	for range 3 {
		img.Components = append(img.Components, &Component{Width: 1 << 15, Height: 1 << 15, BitsPerSample: 8, BytesPerPixel: 1, BytesPerRow: 1 << 15})
	}
	assert.Equal(t, int64(3<<30), img.Bytes())
	_, err := img.AddComponent(16, false, false, 1, 1)
	assert.ErrorIs(t, err, ErrResource)
	assert.Len(t, img.Components, 3)

	img = NewImage(1<<20, 1<<20)
	_, err = img.AddComponent(8, false, false, 1, 1)
	assert.ErrorIs(t, err, ErrResource)
	assert.Empty(t, img.Components)
}

func TestNeedBytes(t *testing.T) {
	assert.NoError(t, NeedBytes("dpx", "element data", 10, 10))
	err := NeedBytes("dpx", "element data", 11, 10)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorContains(t, err, "need 11 bytes, have 10")
}

func TestSampleAccess(t *testing.T) {
	c, err := NewComponent(4, 1, 12, true, false, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-2048), c.Min())
	assert.Equal(t, int64(2047), c.Max())

	c.SetInt(0, 0, -1)
	c.SetInt(1, 0, 2047)
	c.SetInt(2, 0, -2048)
	assert.Equal(t, uint64(0xFFF), c.Raw(0, 0))
	assert.Equal(t, int64(-1), c.Int(0, 0))
	assert.Equal(t, int64(2047), c.Int(1, 0))
	assert.Equal(t, int64(-2048), c.Int(2, 0))

	c.SetFloat64(3, 0, 5000)
	assert.Equal(t, int64(2047), c.Int(3, 0))
	c.SetFloat64(3, 0, -2.6)
	assert.Equal(t, int64(-3), c.Int(3, 0))

	u, err := NewComponent(1, 1, 64, false, false, 1, 1)
	require.NoError(t, err)
	u.SetRaw(0, 0, 0xFFFFFFFFFFFFFFFF)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), u.Raw(0, 0))

	f, err := NewComponent(2, 1, 16, false, true, 1, 1)
	require.NoError(t, err)
	f.SetFloat64(0, 0, 0.25)
	f.SetFloat64(1, 0, -1.5)
	assert.Equal(t, 0.25, f.Float64(0, 0))
	assert.Equal(t, -1.5, f.Float64(1, 0))

	d, err := NewComponent(1, 1, 64, false, true, 1, 1)
	require.NoError(t, err)
	d.SetFloat64(0, 0, 1e300)
	assert.Equal(t, 1e300, d.Float64(0, 0))
}

func TestSubsampledComponents(t *testing.T) {
	img := NewImage(5, 3)
	for _, sub := range [][2]int{{1, 1}, {2, 2}, {2, 1}} {
		_, err := img.AddComponent(8, false, false, sub[0], sub[1])
		require.NoError(t, err)
	}
	require.NoError(t, img.Validate())
	assert.True(t, img.Subsampled())
	assert.Equal(t, 3, img.Component(1).Width)
	assert.Equal(t, 2, img.Component(1).Height)
	assert.Equal(t, 3, img.Component(2).Width)
	assert.Equal(t, 3, img.Component(2).Height)
	assert.True(t, img.Uniform(0, 2))
}

func TestValidate(t *testing.T) {
	img := NewImage(2, 2)
	assert.ErrorIs(t, img.Validate(), ErrFormat)

	img = newGray(t, 2, 2, 8, false)
	require.NoError(t, img.Validate())

	img.Alpha = 2
	assert.Error(t, img.Validate())
	img.Alpha = 1
	require.NoError(t, img.Validate())

	img.Components[0].Data = img.Components[0].Data[:1]
	assert.Error(t, img.Validate())
}

func TestCheckCompatible(t *testing.T) {
	float := func(w, h, bits int) *Image {
		img := NewImage(w, h)
		_, err := img.AddComponent(bits, false, true, 1, 1)
		require.NoError(t, err)
		return img
	}
	tests := []struct {
		name string
		a, b *Image
		ok   bool
	}{
		{"same", newGray(t, 4, 4, 8, false), newGray(t, 4, 4, 8, false), true},
		{"dimensions", newGray(t, 4, 4, 8, false), newGray(t, 4, 5, 8, false), false},
		{"bits", newGray(t, 4, 4, 8, false), newGray(t, 4, 4, 10, false), false},
		{"signedness", newGray(t, 4, 4, 8, false), newGray(t, 4, 4, 8, true), false},
		{"float vs int", newGray(t, 4, 4, 32, true), float(4, 4, 32), false},
		{"half vs float", float(4, 4, 16), float(4, 4, 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCompatible(tt.a, tt.b)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	rgb := newGray(t, 4, 4, 8, false)
	_, err := rgb.AddComponent(8, false, false, 1, 1)
	require.NoError(t, err)
	assert.Error(t, CheckCompatible(rgb, newGray(t, 4, 4, 8, false)))
}

func TestCloneLayoutAndSwap(t *testing.T) {
	a := newGray(t, 3, 3, 16, false)
	a.Components[0].SetInt(1, 1, 999)
	a.Alpha = 1

	b, err := a.CloneLayout()
	require.NoError(t, err)
	assert.Equal(t, a.Alpha, b.Alpha)
	assert.Equal(t, int64(0), b.Components[0].Int(1, 1))

	c := a.Clone()
	assert.Equal(t, int64(999), c.Components[0].Int(1, 1))
	c.Components[0].SetInt(1, 1, 1)
	assert.Equal(t, int64(999), a.Components[0].Int(1, 1))

	bufA := a.Components[0]
	a.Swap(b)
	assert.Same(t, bufA, b.Components[0])
	assert.Equal(t, int64(999), b.Components[0].Int(1, 1))
	assert.Equal(t, int64(0), a.Components[0].Int(1, 1))
}

func TestSpecsMerge(t *testing.T) {
	s := Specs{ASCII: Yes}
	s.Merge(&Specs{ASCII: No, LittleEndian: Yes, RadianceScale: 179})
	assert.Equal(t, Yes, s.ASCII)
	assert.Equal(t, Yes, s.LittleEndian)
	assert.Equal(t, Unspecified, s.Interleaved)
	assert.Equal(t, 179.0, s.RadianceScale)
	s.Merge(nil)

	assert.True(t, Unspecified.Or(true))
	assert.False(t, No.Or(true))
	assert.Equal(t, Yes, Bool(true))
	assert.Equal(t, "no", No.String())
}

func TestErrorKinds(t *testing.T) {
	err := Formatf("bmp", "bad magic %q", "XX")
	assert.Equal(t, `bmp: bad magic "XX"`, err.Error())
	assert.ErrorIs(t, err, ErrFormat)
	assert.NotErrorIs(t, err, ErrIO)
	assert.Equal(t, KindFormat, KindOf(err))

	assert.Contains(t, Unsupportedf("tiff", "compression %d", 7).Error(), "unsupported compression 7")
	assert.ErrorIs(t, Truncated("dpx", "header"), ErrTruncated)

	wrapped := Wrap("pgx", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, wrapped, ErrTruncated)
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)

	_, openErr := os.Open("/nonexistent/file.bmp")
	assert.ErrorIs(t, Wrap("bmp", openErr), ErrIO)
	assert.ErrorIs(t, Wrap("raw", errors.New("boom")), ErrFormat)

	// wrapping an *Error keeps its kind
	inner := ResourceError("dpx", 1<<40)
	assert.Equal(t, KindResource, KindOf(Wrap("outer", fmt.Errorf("ctx: %w", inner))))
	assert.Nil(t, Wrap("x", nil))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}
