package dpx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/layout/layouttest"
)

type comp = layouttest.Comp

func descriptors(t *testing.T, data []byte) []Descriptor {
	t.Helper()
	h, err := ParseHeader(data)
	require.NoError(t, err)
	var out []Descriptor
	for _, e := range h.Elements {
		out = append(out, e.Descriptor)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	yuv := layout.Specs{YUVEncoded: layout.Yes}
	tests := []struct {
		name  string
		w, h  int
		alpha int
		comps []comp
		specs layout.Specs
		want  []Descriptor
	}{
		{"RGB10", 5, 3, 0, layouttest.Uint(10, 3), layout.Specs{}, []Descriptor{DescRGB}},
		{"RGB8", 5, 3, 0, layouttest.Uint(8, 3), layout.Specs{}, []Descriptor{DescRGB}},
		{"RGB12", 5, 3, 0, layouttest.Uint(12, 3), layout.Specs{}, []Descriptor{DescRGB}},
		{"RGBA16", 4, 2, 1, layouttest.Uint(16, 4), layout.Specs{}, []Descriptor{DescRGBA}},
		{"RGB16Alpha8", 4, 2, 1, []comp{{Bits: 16}, {Bits: 16}, {Bits: 16}, {Bits: 8}}, layout.Specs{}, []Descriptor{DescRGB, DescAlpha}},
		{"RGBFloat", 3, 3, 0, []comp{{Bits: 32, Float: true}, {Bits: 32, Float: true}, {Bits: 32, Float: true}}, layout.Specs{}, []Descriptor{DescRGB}},
		{"RGBDouble", 3, 2, 0, []comp{{Bits: 64, Float: true}, {Bits: 64, Float: true}, {Bits: 64, Float: true}}, layout.Specs{}, []Descriptor{DescRGB}},
		{"RGBMixed", 5, 2, 0, []comp{{Bits: 8}, {Bits: 10}, {Bits: 12}}, layout.Specs{}, []Descriptor{DescRed, DescGreen, DescBlue}},
		{"RGBSeparate", 5, 2, 1, layouttest.Uint(10, 4), layout.Specs{Interleaved: layout.No}, []Descriptor{DescRed, DescGreen, DescBlue, DescAlpha}},
		{"Bilevel", 37, 3, 0, layouttest.Uint(1, 1), layout.Specs{}, []Descriptor{DescLuma}},
		{"Gray8", 7, 3, 0, layouttest.Uint(8, 1), layout.Specs{}, []Descriptor{DescLuma}},
		{"Gray9", 7, 3, 0, layouttest.Uint(9, 1), layout.Specs{}, []Descriptor{DescLuma}},
		{"GraySigned12", 7, 3, 0, []comp{{Bits: 12, Signed: true}}, layout.Specs{}, []Descriptor{DescLuma}},
		{"GrayAlpha", 7, 3, 1, layouttest.Uint(16, 2), layout.Specs{}, []Descriptor{DescLuma, DescAlpha}},
		{"YCbCr422", 6, 2, 0, []comp{{Bits: 10}, {Bits: 10, SubX: 2}, {Bits: 10, SubX: 2}}, yuv, []Descriptor{DescCbYCrY}},
		{"YCbCr422Odd", 5, 2, 0, []comp{{Bits: 8}, {Bits: 8, SubX: 2}, {Bits: 8, SubX: 2}}, layout.Specs{}, []Descriptor{DescCbYCrY}},
		{"YCbCrA422", 6, 2, 1, []comp{{Bits: 10}, {Bits: 10, SubX: 2}, {Bits: 10, SubX: 2}, {Bits: 10}}, yuv, []Descriptor{DescCbYACrYA}},
		{"YCbCr444", 4, 2, 0, layouttest.Uint(12, 3), yuv, []Descriptor{DescCbYCr}},
		{"YCbCrA444", 4, 2, 1, layouttest.Uint(8, 4), yuv, []Descriptor{DescCbYCrA}},
		{"YCbCr422Mixed", 6, 2, 0, []comp{{Bits: 10}, {Bits: 8, SubX: 2}, {Bits: 8, SubX: 2}}, yuv, []Descriptor{DescLuma, DescChroma}},
		{"YCbCr444Separate", 4, 2, 0, layouttest.Uint(8, 3), layout.Specs{YUVEncoded: layout.Yes, Interleaved: layout.No}, []Descriptor{DescLuma, DescGeneric2}},
		{"Generic2", 4, 2, 0, layouttest.Uint(16, 2), layout.Specs{}, []Descriptor{DescGeneric2}},
		{"GenericRuns", 4, 2, 0, []comp{{Bits: 8}, {Bits: 8}, {Bits: 16}, {Bits: 16}, {Bits: 16}}, layout.Specs{}, []Descriptor{DescGeneric2, genericDescriptor(3)}},
		{"GenericLoneLast", 4, 2, 0, []comp{{Bits: 16}, {Bits: 16}, {Bits: 16}, {Bits: 8}}, layout.Specs{}, []Descriptor{genericDescriptor(3), DescDepth}},
		{"GenericLoneFirst", 4, 2, 0, []comp{{Bits: 8}, {Bits: 16}, {Bits: 16}, {Bits: 16}}, layout.Specs{}, []Descriptor{DescLuma, genericDescriptor(3)}},
		{"Generic10", 3, 2, 0, layouttest.Uint(12, 10), layout.Specs{}, []Descriptor{DescGeneric8, DescGeneric2}},
		{"LittleEndian", 5, 3, 0, layouttest.Uint(10, 3), layout.Specs{LittleEndian: layout.Yes}, []Descriptor{DescRGB}},
		{"LittleEndian12", 5, 3, 0, layouttest.Uint(12, 3), layout.Specs{LittleEndian: layout.Yes}, []Descriptor{DescRGB}},
		{"RLE8", 9, 4, 0, layouttest.Uint(8, 3), layout.Specs{RunLength: layout.Yes}, []Descriptor{DescRGB}},
		{"RLE10", 9, 4, 0, layouttest.Uint(10, 3), layout.Specs{RunLength: layout.Yes, LittleEndian: layout.Yes}, []Descriptor{DescRGB}},
		{"LimitedRange", 6, 2, 0, []comp{{Bits: 10}, {Bits: 10, SubX: 2}, {Bits: 10, SubX: 2}}, layout.Specs{FullRange: layout.No}, []Descriptor{DescCbYCrY}},
		{"LimitedRange9", 6, 2, 0, []comp{{Bits: 9}, {Bits: 9, SubX: 2}, {Bits: 9, SubX: 2}}, layout.Specs{YUVEncoded: layout.Yes, FullRange: layout.No}, []Descriptor{DescCbYCrY}},
		{"LimitedRange14", 6, 2, 0, []comp{{Bits: 14}, {Bits: 14, SubX: 2}, {Bits: 14, SubX: 2}}, layout.Specs{FullRange: layout.No}, []Descriptor{DescCbYCrY}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := layouttest.New(t, tt.w, tt.h, tt.alpha, tt.comps...)
			if tt.name == "RLE8" || tt.name == "RLE10" {
				// long runs with a few literals
				for _, c := range img.Components {
					for y := range c.Height {
						for x := range c.Width {
							if x%4 != 3 {
								c.SetRaw(x, y, uint64(y+1))
							}
						}
					}
				}
			}
			data, err := EncodeBytes(img, &tt.specs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, descriptors(t, data))

			var specs layout.Specs
			got, err := DecodeBytes(data, &specs)
			require.NoError(t, err)
			layouttest.RequireEqual(t, img, got)
			assert.Equal(t, tt.specs.LittleEndian.IsYes(), specs.LittleEndian.IsYes())
			assert.Equal(t, tt.specs.RunLength.IsYes(), specs.RunLength.IsYes())
		})
	}
}

func TestPlanElements(t *testing.T) {
	// 4:2:2 with alpha of one precision is a single interleaved element
	img := layouttest.New(t, 4, 2, 1, comp{Bits: 10}, comp{Bits: 10, SubX: 2}, comp{Bits: 10, SubX: 2}, comp{Bits: 10})
	descs, err := PlanElements(img, nil)
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{DescCbYACrYA}, descs)

	// alpha of another precision moves to its own element
	img = layouttest.New(t, 4, 2, 1, comp{Bits: 10}, comp{Bits: 10, SubX: 2}, comp{Bits: 10, SubX: 2}, comp{Bits: 8})
	descs, err = PlanElements(img, nil)
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{DescCbYCrY, DescAlpha}, descs)

	// an explicit request for separate elements
	img = layouttest.New(t, 4, 2, 0, comp{Bits: 10}, comp{Bits: 10, SubX: 2}, comp{Bits: 10, SubX: 2})
	descs, err = PlanElements(img, &layout.Specs{Interleaved: layout.No})
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{DescLuma, DescChroma}, descs)

	// YUVEncoded=No does not turn a subsampled image into RGB
	_, err = PlanElements(img, &layout.Specs{YUVEncoded: layout.No})
	require.ErrorIs(t, err, layout.ErrFormat)
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		alpha int
		comps []comp
		specs layout.Specs
		msg   string
	}{
		{"Chroma", 0, []comp{{Bits: 10}, {Bits: 10, SubX: 2}, {Bits: 8, SubX: 2}}, layout.Specs{}, "inconsistent chroma bit depths"},
		{"420", 0, []comp{{Bits: 8}, {Bits: 8, SubX: 2, SubY: 2}, {Bits: 8, SubX: 2, SubY: 2}}, layout.Specs{}, "chroma subsampling 2x2"},
		{"Half", 0, []comp{{Bits: 16, Float: true}}, layout.Specs{}, "16 bit floating point"},
		{"Wide", 0, []comp{{Bits: 24}}, layout.Specs{}, "24 bit integer samples"},
		{"TwoAlpha", 2, layouttest.Uint(8, 3), layout.Specs{}, "2 alpha components"},
		{"SubsampledGray", 0, []comp{{Bits: 8}, {Bits: 8, SubX: 2}}, layout.Specs{}, "subsampled components"},
		{"TooMany", 0, alternating(9), layout.Specs{}, "needs 9 elements"},
		{"LoneComponents", 0, []comp{{Bits: 8}, {Bits: 8}, {Bits: 16}, {Bits: 8}, {Bits: 8}, {Bits: 16}}, layout.Specs{}, "only one such component"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := layouttest.New(t, 4, 4, tt.alpha, tt.comps...)
			_, err := EncodeBytes(img, &tt.specs)
			require.ErrorIs(t, err, layout.ErrFormat)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// alternating returns n pairs of components, the pairs alternating
// between 8 and 16 bits.
func alternating(n int) []comp {
	var out []comp
	for i := range n {
		bits := 8 << (i % 2)
		out = append(out, comp{Bits: bits}, comp{Bits: bits})
	}
	return out
}

func TestHeader(t *testing.T) {
	img := layouttest.New(t, 5, 3, 0, layouttest.Uint(10, 3)...)
	data, err := EncodeBytes(img, nil)
	require.NoError(t, err)
	assert.Equal(t, "SDPX", string(data[:4]))
	assert.Equal(t, uint32(2048), binary.BigEndian.Uint32(data[4:]))
	assert.Equal(t, "V2.0", string(data[8:12]))
	assert.Equal(t, uint32(len(data)), binary.BigEndian.Uint32(data[16:]))
	assert.Equal(t, uint32(genericHeaderLen), binary.BigEndian.Uint32(data[20:]))
	assert.Equal(t, Undefined, binary.BigEndian.Uint32(data[660:]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(data[770:]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(data[772:]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[776:]))
	// 5 pixels of 3 datums in filled 32 bit words: 5 words per line
	assert.Len(t, data, 2048+3*5*4)

	h, err := ParseHeader(data)
	require.NoError(t, err)
	e := h.Elements[0]
	assert.Equal(t, uint8(10), e.BitSize)
	assert.Equal(t, PackingFilledA, e.Packing)
	assert.Equal(t, uint32(2048), e.DataOffset)
	assert.Equal(t, uint32(0), e.RefLowData)
	assert.Equal(t, uint32(1023), e.RefHighData)

	// first word: R, G, B from the top bits down, two bits of padding
	r, g, b := img.Components[0].Raw(0, 0), img.Components[1].Raw(0, 0), img.Components[2].Raw(0, 0)
	assert.Equal(t, uint32(r<<22|g<<12|b<<2), binary.BigEndian.Uint32(data[2048:]))

	le, err := EncodeBytes(img, &layout.Specs{LittleEndian: layout.Yes})
	require.NoError(t, err)
	assert.Equal(t, "XPDS", string(le[:4]))
	assert.Equal(t, uint32(r<<22|g<<12|b<<2), binary.LittleEndian.Uint32(le[2048:]))
}

func TestDatumPacking(t *testing.T) {
	tests := []struct {
		name    string
		bits    uint8
		packing uint16
		datums  []uint64
		want    []byte
	}{
		{"10FilledA", 10, PackingFilledA, []uint64{1, 2, 3, 4},
			[]byte{0x00, 0x40, 0x20, 0x0C, 0x01, 0x00, 0x00, 0x00}},
		{"10FilledB", 10, PackingFilledB, []uint64{1, 2, 3},
			[]byte{0x00, 0x10, 0x08, 0x03}},
		{"10Packed", 10, PackingPacked, []uint64{0x3FF, 0, 0x3FF, 0, 1},
			[]byte{0xFF, 0xC0, 0x0F, 0xFC, 0x00, 0x00, 0x40, 0x00}},
		{"12FilledA", 12, PackingFilledA, []uint64{0xABC, 0x123},
			[]byte{0xAB, 0xC0, 0x12, 0x30}},
		{"12FilledB", 12, PackingFilledB, []uint64{0xABC},
			[]byte{0x0A, 0xBC, 0x00, 0x00}},
		{"12Packed", 12, PackingPacked, []uint64{0xABC, 0xDEF, 0x123},
			[]byte{0xAB, 0xCD, 0xEF, 0x12, 0x30, 0x00, 0x00, 0x00}},
		{"1Bit", 1, PackingPacked, []uint64{1, 0, 1, 1},
			[]byte{0xB0, 0x00, 0x00, 0x00}},
		{"8Bit", 8, PackingFilledA, []uint64{1, 2, 3, 4, 5},
			[]byte{1, 2, 3, 4, 5, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Element{BitSize: tt.bits, Packing: tt.packing}
			w := bitio.NewWriter(bitio.BigEndian)
			d := newDatumWriter(w, e)
			for _, v := range tt.datums {
				d.put(v)
			}
			d.endLine()
			out := w.Bytes()
			assert.Equal(t, tt.want, out)

			r := newDatumReader(bitio.NewReader(out, bitio.BigEndian), e)
			for i, want := range tt.datums {
				v, err := r.next()
				require.NoError(t, err)
				assert.Equal(t, want, v, "datum %d", i)
			}
			require.NoError(t, r.endLine(0))
			assert.Equal(t, 0, r.r.Len())
		})
	}
}

func TestRunLength(t *testing.T) {
	e := &Element{BitSize: 8, Packing: PackingFilledA, Encoding: 1}
	line := []uint64{5, 5, 5, 5, 1, 2, 3, 7, 7, 7}
	w := bitio.NewWriter(bitio.BigEndian)
	d := newDatumWriter(w, e)
	for _, v := range line {
		d.put(v)
	}
	d.endLine()
	// odd flag: repeat, even flag: literal run, count above the flag bit
	assert.Equal(t, []byte{9, 5, 6, 1, 2, 3, 7, 7}, w.Bytes())

	r := newDatumReader(bitio.NewReader(w.Bytes(), bitio.BigEndian), e)
	for _, want := range line {
		v, err := r.next()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	// runs longer than the largest count are split
	long := bytes.Repeat([]byte{4}, 300)
	var got []uint64
	encodeRuns(toDatums(long), 127, func(v uint64) { got = append(got, v) })
	assert.Equal(t, []uint64{255, 4, 255, 4, 93, 4}, got)

	_, err := newDatumReader(bitio.NewReader([]byte{0, 0, 0, 0}, bitio.BigEndian), e).next()
	require.ErrorIs(t, err, layout.ErrFormat)
}

func toDatums(p []byte) []uint64 {
	out := make([]uint64, len(p))
	for i, b := range p {
		out[i] = uint64(b)
	}
	return out
}

func TestOrientation(t *testing.T) {
	img := layouttest.New(t, 6, 3, 0, comp{Bits: 8}, comp{Bits: 8, SubX: 2}, comp{Bits: 8, SubX: 2})
	data, err := EncodeBytes(img, nil)
	require.NoError(t, err)

	for o := range Orientation(8) {
		t.Run(fmt.Sprintf("orientation%d", o), func(t *testing.T) {
			p := bytes.Clone(data)
			binary.BigEndian.PutUint16(p[fileHeaderLen:], uint16(o))
			got, err := DecodeBytes(p, nil)
			require.NoError(t, err)

			for i, want := range img.Components {
				c := got.Components[i]
				if o&Transpose != 0 {
					assert.Equal(t, 3, got.Width)
					assert.Equal(t, 6, got.Height)
					assert.Equal(t, want.SubX, c.SubY)
					assert.Equal(t, want.SubY, c.SubX)
				}
				for v := range want.Height {
					for u := range want.Width {
						x, y := u, v
						if o&Transpose != 0 {
							x, y = v, u
						}
						if o&FlipX != 0 {
							x = c.Width - 1 - x
						}
						if o&FlipY != 0 {
							y = c.Height - 1 - y
						}
						require.Equal(t, want.Raw(u, v), c.Raw(x, y), "component %d (%d,%d)", i, u, v)
					}
				}
			}
		})
	}
}

func TestTrueDepth(t *testing.T) {
	e := Element{BitSize: 10, RefLowData: 0, RefHighData: 511}
	assert.Equal(t, 9, e.trueBits())
	e.RefHighData = 1023
	assert.Equal(t, 10, e.trueBits())
	e.RefHighData = 940
	assert.Equal(t, 10, e.trueBits())
	e.RefLowData, e.RefHighData = 64, 511
	assert.Equal(t, 10, e.trueBits())
	e = Element{BitSize: 32, RefHighData: 255}
	assert.Equal(t, 32, e.trueBits())

	// video range codes scaled to the sample precision
	e = Element{BitSize: 10, RefLowData: 16 << 1, RefHighData: 235 << 1}
	assert.Equal(t, 9, e.trueBits())
	e = Element{BitSize: 12, RefLowData: 16 << 3, RefHighData: 235 << 3}
	assert.Equal(t, 11, e.trueBits())
	e = Element{BitSize: 16, RefLowData: 16 << 5, RefHighData: 235 << 5}
	assert.Equal(t, 13, e.trueBits())
	e = Element{BitSize: 10, RefLowData: Undefined, RefHighData: 511}
	assert.Equal(t, 10, e.trueBits())
}

func TestDecodeErrors(t *testing.T) {
	img := layouttest.New(t, 4, 2, 0, layouttest.Uint(10, 3)...)
	good, err := EncodeBytes(img, nil)
	require.NoError(t, err)

	patch := func(off int, v []byte) []byte {
		p := bytes.Clone(good)
		copy(p[off:], v)
		return p
	}
	u16 := func(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
	el := fileHeaderLen + 12

	tests := []struct {
		name string
		data []byte
		kind error
		msg  string
	}{
		{"Magic", patch(0, []byte("DPX!")), layout.ErrFormat, "invalid magic"},
		{"Version", patch(8, []byte("V3.0")), layout.ErrFormat, "unsupported version"},
		{"NoElements", patch(770, u16(0)), layout.ErrFormat, "0 image elements"},
		{"NineElements", patch(770, u16(9)), layout.ErrFormat, "9 image elements"},
		{"Orientation", patch(768, u16(8)), layout.ErrFormat, "invalid orientation 8"},
		{"Composite", patch(el+20, []byte{9}), layout.ErrFormat, "composite video"},
		{"Descriptor", patch(el+20, []byte{200}), layout.ErrFormat, "unsupported descriptor 200"},
		{"BitSize", patch(el+23, []byte{7}), layout.ErrFormat, "bit size 7"},
		{"Packing", patch(el+24, u16(3)), layout.ErrFormat, "packing 3"},
		{"Encoding", patch(el+26, u16(2)), layout.ErrFormat, "encoding 2"},
		{"Width", patch(772, u32(0)), layout.ErrFormat, "invalid image size"},
		{"Data", good[:len(good)-1], layout.ErrTruncated, "element data"},
		{"Header", good[:100], layout.ErrTruncated, "file header"},
		// dimensions far beyond the data fail before buffers are sized
		{"Dimensions", patch(772, append(u32(12000), u32(12000)...)), layout.ErrTruncated, "element 0 data: need"},
		{"HugeDimensions", patch(772, append(u32(0xFFFFFFF0), u32(0xFFFFFFF0)...)), layout.ErrTruncated, "element 0 data: need"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBytes(tt.data, nil)
			require.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	// an encryption key is only a warning
	got, err := DecodeBytes(patch(660, u32(0x12345678)), nil)
	require.NoError(t, err)
	layouttest.RequireEqual(t, img, got)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEncodeWriteError(t *testing.T) {
	img := layouttest.New(t, 2, 2, 0, layouttest.Uint(8, 3)...)
	err := Encode(failingWriter{}, img, nil)
	require.ErrorIs(t, err, layout.ErrIO)
	assert.ErrorContains(t, err, "disk full")
}

func TestCodecFiles(t *testing.T) {
	img := layouttest.New(t, 6, 4, 0, comp{Bits: 10}, comp{Bits: 10, SubX: 2}, comp{Bits: 10, SubX: 2})
	path := filepath.Join(t.TempDir(), "frame.dpx")
	var c Codec
	require.NoError(t, c.Save(path, img, &layout.Specs{FullRange: layout.No}))

	var specs layout.Specs
	got, err := c.Load(path, &specs)
	require.NoError(t, err)
	layouttest.RequireEqual(t, img, got)
	assert.True(t, specs.YUVEncoded.IsYes())
	assert.True(t, specs.Interleaved.IsYes())
	assert.True(t, specs.FullRange.IsNo())
	assert.True(t, specs.LittleEndian.IsNo())

	_, err = c.Load(filepath.Join(t.TempDir(), "missing.dpx"), nil)
	require.ErrorIs(t, err, layout.ErrIO)

	require.Error(t, c.Save(path, layouttest.New(t, 2, 2, 0, comp{Bits: 40}), nil))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "a failed save leaves no file behind")
}
