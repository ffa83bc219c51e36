package raw

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/layout/layouttest"
)

func TestParsePackedBits(t *testing.T) {
	l, err := ParseLayout("64x1x1:{1-},{7-=0}")
	require.NoError(t, err)
	assert.Equal(t, 64, l.Width)
	assert.Equal(t, 1, l.Height)
	assert.Equal(t, 1, l.Depth)
	require.Len(t, l.Groups, 1)

	g := l.Groups[0]
	assert.True(t, g.Packed())
	assert.Equal(t, 8, g.Bits)
	assert.True(t, g.LittleEndian)
	require.Len(t, g.Fields, 2)
	assert.Equal(t, Padding, g.Fields[0].Channel)
	assert.Equal(t, 1, g.Fields[0].Bits)
	assert.Equal(t, 0, g.Fields[1].Channel)
	assert.Equal(t, 7, g.Fields[1].Bits)
	for _, f := range g.Fields {
		assert.True(t, f.LittleEndian)
	}

	// LSB-first: the padding bit is the lowest bit of every byte
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i<<1 | 1)
	}
	img, err := Decode(data, l)
	require.NoError(t, err)
	c := img.Components[0]
	assert.Equal(t, 7, c.BitsPerSample)
	for x := range 64 {
		assert.Equal(t, int64(x), c.Int(x, 0))
	}

	out, err := Encode(img, l)
	require.NoError(t, err)
	for i := range out {
		assert.Equal(t, data[i]&^1, out[i], "padding is written as zero")
	}
}

func TestParseLayoutErrors(t *testing.T) {
	tests := map[string]string{
		"4x4:{8=0":            "unterminated bracket",
		"4x4:{3=0},{3=1}":     "packed fields total 6 bits",
		"4x4:{4-=0},{4+=1}":   "mixed endianness in packed group",
		"4x4:{8=0}/2x2":       "subsampling is only legal for separate plane fields",
		"4x4x1:{8=1}":         "channel 1 out of range for depth 1",
		"4x4x2:{8=0}":         "channel 1 is not defined",
		"4x4:{8=0}:{10=0}":    "declared with 8 and 10 bits",
		"4x4:{8s=0}:{8=0}":    "different sample formats",
		"4x4:{24f=0}":         "floating point field of 24 bits",
		"4x1:{8F=0}":          "floating point field of 8 bits",
		"4xa:{8=0}":           "expected a number for the height",
		"0x4:{8=0}":           "must be positive",
		"4x4:{8=0};":          "expected ':' or ','",
		"4x4:{8=0},[8=1]":     "mixes interleaved and separate",
		"4x4:[8=0]:[8=0]":     "more than one plane",
		"4x4:[8=0]:{8=0}":     "more than one plane",
		"4x4:{65=0}":          "field width 65",
		"4x4:{8}":             "layout defines no channels",
		"4x4:(8=0)":           "expected '{' or '['",
		"4x4:[8=0]/2":         "expected 'x'",
		"4x4:[8=0]/0x1":       "subsampling 0x1",
		"4x4:[4=0]/2x2,[4=1]": "differ in subsampling",
		"4x4:{8=0}:":          "expected a field, found end of layout",
		"4x4;":                "expected ':'",
	}
	for grammar, msg := range tests {
		t.Run(grammar, func(t *testing.T) {
			_, err := ParseLayout(grammar)
			require.ErrorIs(t, err, layout.ErrFormat)
			assert.Contains(t, err.Error(), msg)
		})
	}
}

func TestLayoutString(t *testing.T) {
	tests := map[string]string{
		"8x2x3:{10=0},{10=1},{10=2},{2}":     "8x2x3:{10=0},{10=1},{10=2},{2}",
		"4x4:[8=0]:-[16s=1]/2x2:[32f=2]/2x1": "4x4x3:[8=0]:-[16s=1]/2x2:[32f=2]/2x1",
		"4x4:{16-=0}:{8+=1}":                 "4x4x2:-{16=0}:{8=1}",
		"64x1x1:{1-},{7-=0}":                 "64x1x1:-{1},{7=0}",
		"2x2:[4=0]/2x2,[4=1]/2x2":            "2x2x2:[4=0]/2x2,[4=1]/2x2",
		"4x1:{16F=0}":                        "4x1x1:{16f=0}",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			l, err := ParseLayout(in)
			require.NoError(t, err)
			assert.Equal(t, want, l.String())
			again, err := ParseLayout(l.String())
			require.NoError(t, err)
			assert.Equal(t, want, again.String())
		})
	}
}

func TestInterleavedSubsampling(t *testing.T) {
	l, err := ParseLayout("6x2:{8=0},{8=1},{8=0},{8=2}")
	require.NoError(t, err)
	chans, err := l.Channels()
	require.NoError(t, err)
	assert.Equal(t, []Channel{
		{Bits: 8, SubX: 1, SubY: 1},
		{Bits: 8, SubX: 2, SubY: 1},
		{Bits: 8, SubX: 2, SubY: 1},
	}, chans)

	data := []byte{
		10, 100, 11, 200, 12, 101, 13, 201, 14, 102, 15, 202,
		20, 110, 21, 210, 22, 111, 23, 211, 24, 112, 25, 212,
	}
	img, err := Decode(data, l)
	require.NoError(t, err)
	y, cb, cr := img.Components[0], img.Components[1], img.Components[2]
	assert.Equal(t, 3, cb.Width)
	assert.Equal(t, int64(15), y.Int(5, 0))
	assert.Equal(t, int64(21), y.Int(1, 1))
	assert.Equal(t, int64(102), cb.Int(2, 0))
	assert.Equal(t, int64(211), cr.Int(1, 1))

	// uneven counts are rounded down: 3 luma and 2 chroma samples per
	// tuple give a chroma factor of 1, a documented approximation
	l, err = ParseLayout("6x1:{8=0}:{8=0}:{8=0}:{8=1}:{8=1}")
	require.NoError(t, err)
	chans, err = l.Channels()
	require.NoError(t, err)
	assert.Equal(t, 1, chans[1].SubX)
}

func TestSampleBitOrder(t *testing.T) {
	tests := []struct {
		grammar string
		data    []byte
		want    []int64
	}{
		{"1x1:{4=0},{4=1}", []byte{0xAB}, []int64{0xA, 0xB}},
		{"1x1:-{4=0},{4=1}", []byte{0xAB}, []int64{0xB, 0xA}},
		{"1x1:{4-=0},{4=1}", []byte{0xAB}, []int64{0xB, 0xA}},
		{"1x1:-{16=0}", []byte{0x34, 0x12}, []int64{0x1234}},
		{"1x1:{16=0}", []byte{0x12, 0x34}, []int64{0x1234}},
		{"1x1:{12=0}", []byte{0xAB, 0xC0}, []int64{0xABC}},
		{"1x1:-{12=0}", []byte{0xBC, 0x0A}, []int64{0xABC}},
		{"1x1:{12s=0}", []byte{0xFF, 0xF0}, []int64{-1}},
		{"1x1:{5=0},{6=1},{5=2}", []byte{0xF8, 0x1F}, []int64{31, 0, 31}},
		{"1x1:{4=0}:{4=1}", []byte{0xAB}, []int64{0xA, 0xB}},
		{"1x1:{24=0}", []byte{1, 2, 3}, []int64{0x010203}},
		{"1x1:-{24=0}", []byte{1, 2, 3}, []int64{0x030201}},
	}
	for _, tt := range tests {
		t.Run(tt.grammar, func(t *testing.T) {
			l, err := ParseLayout(tt.grammar)
			require.NoError(t, err)
			img, err := Decode(tt.data, l)
			require.NoError(t, err)
			for i, want := range tt.want {
				assert.Equal(t, want, img.Components[i].Int(0, 0), "channel %d", i)
			}
			out, err := Encode(img, l)
			require.NoError(t, err)
			assert.Equal(t, tt.data, out)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		grammar string
		size    int
	}{
		{"5x3:{8=0}:{8=1}:{8=2}", 45},
		{"5x3:-{16=0}:-{16=1}", 60},
		{"7x3:{12s=0}", 33},
		{"7x3:-{12s=0}", 33},
		{"5x2:{10=0},{10=1},{10=2},{2}", 40},
		{"5x2:-{10=0},{10=1},{10=2},{2}", 40},
		{"9x2:{1=0}", 4},
		{"5x5:[8=0]:[8=1]/2x2:[8=2]/2x2", 25 + 9 + 9},
		{"4x3:[16f=0]:[32f=1]:-[64f=2]", 24 + 48 + 96},
		{"4x3:{16f=0},{16f=1}", 48},
		{"5x2:{8=0},{8=1},{8=0},{8=2}", 24},
		{"3x2:{64=0}:{3=1}:{5s=2}", 3 * 2 * 9},
		{"4x2:[4=0],[4=1]", 8},
		{"5x3:{5=0},{6=1},{5=2}", 30},
		{"7x2:{7=0}:{9=1}", 28},
		{"6x1:{8=0},{8=1},{8=2},{8}", 24},
		{"3x3:[6=0]/1x2", 6},
	}
	for _, tt := range tests {
		t.Run(tt.grammar, func(t *testing.T) {
			l, err := ParseLayout(tt.grammar)
			require.NoError(t, err)
			img, err := l.NewImage()
			require.NoError(t, err)
			layouttest.Fill(img)

			data, err := Encode(img, l)
			require.NoError(t, err)
			assert.Len(t, data, tt.size)

			got, err := Decode(data, l)
			require.NoError(t, err)
			layouttest.RequireEqual(t, img, got)
		})
	}
}

func TestV210(t *testing.T) {
	img := layouttest.New(t, 6, 2, 0,
		layouttest.Comp{Bits: 10}, layouttest.Comp{Bits: 10, SubX: 2}, layouttest.Comp{Bits: 10, SubX: 2})
	path := filepath.Join(t.TempDir(), "clip.v210")
	require.NoError(t, Save(path+"@6x2", img, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 2*128)

	y, cb, cr := img.Components[0], img.Components[1], img.Components[2]
	w0 := binary.LittleEndian.Uint32(data)
	assert.Equal(t, uint32(cb.Raw(0, 0)|y.Raw(0, 0)<<10|cr.Raw(0, 0)<<20), w0)
	w3 := binary.LittleEndian.Uint32(data[12:])
	assert.Equal(t, uint32(y.Raw(4, 0)|cr.Raw(2, 0)<<10|y.Raw(5, 0)<<20), w3)
	w4 := binary.LittleEndian.Uint32(data[128:])
	assert.Equal(t, uint32(cb.Raw(0, 1)|y.Raw(0, 1)<<10|cr.Raw(0, 1)<<20), w4)

	var specs layout.Specs
	got, err := Codec{}.Load(path+"@6x2", &specs)
	require.NoError(t, err)
	layouttest.RequireEqual(t, img, got)
	assert.True(t, specs.YUVEncoded.IsYes())
	assert.True(t, specs.LittleEndian.IsYes())
	assert.True(t, specs.Interleaved.IsYes())
}

func TestYUV(t *testing.T) {
	img := layouttest.New(t, 5, 3, 0,
		layouttest.Comp{Bits: 8}, layouttest.Comp{Bits: 8, SubX: 2, SubY: 2}, layouttest.Comp{Bits: 8, SubX: 2, SubY: 2})
	path := filepath.Join(t.TempDir(), "frame.yuv")
	require.NoError(t, Save(path+"@5x3", img, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(15+6+6), info.Size())

	var specs layout.Specs
	got, err := Load(path+"@5x3x3", &specs)
	require.NoError(t, err)
	layouttest.RequireEqual(t, img, got)
	assert.True(t, specs.YUVEncoded.IsYes())
	assert.True(t, specs.Interleaved.IsNo())

	_, err = Load(path+"@5x3x4", nil)
	require.ErrorIs(t, err, layout.ErrFormat)
}

func TestDefaultLayout(t *testing.T) {
	img := layouttest.New(t, 5, 3, 0, layouttest.Comp{Bits: 8}, layouttest.Comp{Bits: 12, Signed: true}, layouttest.Comp{Bits: 32, Float: true})
	tests := []struct {
		specs layout.Specs
		want  string
	}{
		{layout.Specs{}, "5x3x3:[8=0]:[12s=1]:[32f=2]"},
		{layout.Specs{Interleaved: layout.Yes}, "5x3x3:{8=0}:{12s=1}:{32f=2}"},
		{layout.Specs{LittleEndian: layout.Yes}, "5x3x3:-[8=0]:-[12s=1]:-[32f=2]"},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			l := DefaultLayout(img, &tt.specs)
			assert.Equal(t, tt.want, l.String())

			path := filepath.Join(dir, "img.raw")
			require.NoError(t, Codec{}.Save(path+"@5x3", img, &tt.specs))
			got, err := Codec{}.Load(path+"@"+l.String(), nil)
			require.NoError(t, err)
			layouttest.RequireEqual(t, img, got)
		})
	}

	sub := layouttest.New(t, 4, 4, 0, layouttest.Comp{Bits: 8}, layouttest.Comp{Bits: 8, SubX: 2, SubY: 2})
	assert.Equal(t, "4x4x2:[8=0]:[8=1]/2x2", DefaultLayout(sub, &layout.Specs{Interleaved: layout.Yes}).String())

	// no grammar at all: the image supplies everything
	path := filepath.Join(dir, "plain.craw")
	require.NoError(t, Save(path, sub, nil))
	got, err := Load(path+"@4x4:[8=0]:[8=1]/2x2", nil)
	require.NoError(t, err)
	layouttest.RequireEqual(t, sub, got)
}

func TestMinBytes(t *testing.T) {
	tests := []struct {
		grammar string
		want    int64
	}{
		{"4x2:{8=0}:{8=1}:{8=2}", 24},
		{"3x2:{1-},{7-=0}", 6},
		{"5x1:{1=0}", 1},
		{"4x4:[8=0]:[8=1]/2x2:[8=2]/2x2", 16 + 4 + 4},
		{"3x3:[10=0]", 3 * 4},
	}
	for _, tt := range tests {
		t.Run(tt.grammar, func(t *testing.T) {
			l, err := ParseLayout(tt.grammar)
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.MinBytes())
		})
	}
}

func TestSplitPath(t *testing.T) {
	file, grammar := SplitPath("/data/a@b/frame.raw@4x4:[8=0]:[8=1]/2x2")
	assert.Equal(t, "/data/a@b/frame.raw", file)
	assert.Equal(t, "4x4:[8=0]:[8=1]/2x2", grammar)

	file, grammar = SplitPath("frame.raw")
	assert.Equal(t, "frame.raw", file)
	assert.Empty(t, grammar)
}

func TestErrors(t *testing.T) {
	l, err := ParseLayout("2x2:{8=0}")
	require.NoError(t, err)
	_, err = Decode([]byte{1, 2, 3}, l)
	require.ErrorIs(t, err, layout.ErrTruncated)

	// a layout far larger than the data fails before buffers are sized
	big, err := ParseLayout("100000x100000:{16=0}:{16=1}:{16=2}")
	require.NoError(t, err)
	_, err = Decode(make([]byte, 64), big)
	require.ErrorIs(t, err, layout.ErrTruncated)
	assert.Contains(t, err.Error(), "need 60000000000 bytes, have 64")

	v210, err := LayoutFor(".v210", "6x1", nil, nil)
	require.NoError(t, err)
	_, err = Decode(make([]byte, 16), v210)
	require.ErrorIs(t, err, layout.ErrTruncated, "row alignment padding is required")

	dir := t.TempDir()
	_, err = Load(filepath.Join(dir, "x.raw"), nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	_, err = Load(filepath.Join(dir, "x.raw@4x4"), nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	assert.Contains(t, err.Error(), "has no fields")
	_, err = Load(filepath.Join(dir, "missing.raw@4x4:{8=0}"), nil)
	require.ErrorIs(t, err, layout.ErrIO)

	img := layouttest.New(t, 5, 3, 0, layouttest.Uint(8, 1)...)
	err = Save(filepath.Join(dir, "x.raw@4x4:{8=0}"), img, nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	assert.Contains(t, err.Error(), "image is 5x3")
	err = Save(filepath.Join(dir, "x.raw@5x3:{16=0}"), img, nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	err = Save(filepath.Join(dir, "x.raw@5x3x2:{8=0}:{8=1}"), img, nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	err = Save(filepath.Join(dir, "x.raw@4x3"), img, nil)
	require.ErrorIs(t, err, layout.ErrFormat)
	_, err = os.Stat(filepath.Join(dir, "x.raw"))
	assert.True(t, os.IsNotExist(err))
}
