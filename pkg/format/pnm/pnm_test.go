package pnm

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/layout/layouttest"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		comps []layouttest.Comp
		ascii bool
		magic string
	}{
		{"PBM", layouttest.Uint(1, 1), false, "P4"},
		{"PlainPBM", layouttest.Uint(1, 1), true, "P1"},
		{"PGM8", layouttest.Uint(8, 1), false, "P5"},
		{"PGM10", layouttest.Uint(10, 1), false, "P5"},
		{"PlainPGM", layouttest.Uint(12, 1), true, "P2"},
		{"PPM8", layouttest.Uint(8, 3), false, "P6"},
		{"PPM16", layouttest.Uint(16, 3), false, "P6"},
		{"PlainPPM", layouttest.Uint(5, 3), true, "P3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := layouttest.New(t, 13, 5, 0, tt.comps...)
			specs := &layout.Specs{ASCII: layout.Bool(tt.ascii)}
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, img, specs))
			assert.True(t, strings.HasPrefix(buf.String(), tt.magic+"\n"))

			var got layout.Specs
			out, err := Decode(&buf, &got)
			require.NoError(t, err)
			layouttest.RequireEqual(t, img, out)
			assert.Equal(t, tt.ascii, got.ASCII.IsYes())
		})
	}
}

func TestDecode(t *testing.T) {
	src := "P2\n# a comment\n3 2 # trailing\n1023\n0 1 2\n1021 1022 1023\n"
	img, err := Decode(strings.NewReader(src), nil)
	require.NoError(t, err)
	require.Equal(t, 1, img.Depth())
	c := img.Components[0]
	assert.Equal(t, 10, c.BitsPerSample)
	assert.Equal(t, uint64(2), c.Raw(2, 0))
	assert.Equal(t, uint64(1023), c.Raw(2, 1))

	// plain bitmaps need no separators, 1 is black
	img, err = Decode(strings.NewReader("P1 4 1 0110"), nil)
	require.NoError(t, err)
	c = img.Components[0]
	assert.Equal(t, []uint64{1, 0, 0, 1}, []uint64{c.Raw(0, 0), c.Raw(1, 0), c.Raw(2, 0), c.Raw(3, 0)})

	img, err = Decode(strings.NewReader("P4\n10 2\n\x80\x40\x00\x00"), nil)
	require.NoError(t, err)
	c = img.Components[0]
	assert.Equal(t, uint64(0), c.Raw(0, 0))
	assert.Equal(t, uint64(1), c.Raw(1, 0))
	assert.Equal(t, uint64(0), c.Raw(9, 0))
	assert.Equal(t, uint64(1), c.Raw(9, 1))
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
	}{
		{"Magic", "P7\n1 1\n255\n\x00", layout.ErrFormat},
		{"Width", "P5\n0 1\n255\n", layout.ErrFormat},
		{"MaxVal", "P5\n1 1\n70000\n", layout.ErrFormat},
		{"Sample", "P2\n2 1\n15\n3 16\n", layout.ErrFormat},
		{"RawSample", "P5\n1 1\n15\n\x10", layout.ErrFormat},
		{"Short", "P6\n2 2\n255\n\x00\x00\x00", layout.ErrTruncated},
		{"ShortPlain", "P2\n2 2\n255\n1 2 3", layout.ErrTruncated},
		{"Empty", "P", layout.ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.src), nil)
			require.ErrorIs(t, err, tt.kind)
		})
	}

	for name, img := range map[string]*layout.Image{
		"Alpha":  layouttest.New(t, 2, 2, 1, layouttest.Uint(8, 4)...),
		"Two":    layouttest.New(t, 2, 2, 0, layouttest.Uint(8, 2)...),
		"Mixed":  layouttest.New(t, 2, 2, 0, layouttest.Comp{Bits: 8}, layouttest.Comp{Bits: 10}, layouttest.Comp{Bits: 8}),
		"Signed": layouttest.New(t, 2, 2, 0, layouttest.Comp{Bits: 8, Signed: true}),
		"Wide":   layouttest.New(t, 2, 2, 0, layouttest.Comp{Bits: 24}),
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, Encode(&bytes.Buffer{}, img, nil), layout.ErrFormat)
		})
	}
}

func TestCodecFiles(t *testing.T) {
	img := layouttest.New(t, 7, 3, 0, layouttest.Uint(8, 3)...)
	path := filepath.Join(t.TempDir(), "a.ppm")
	var c Codec
	require.NoError(t, c.Save(path, img, nil))
	got, err := c.Load(path, nil)
	require.NoError(t, err)
	layouttest.RequireEqual(t, img, got)
}
