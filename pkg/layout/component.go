package layout

import (
	"encoding/binary"
	"math"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
)

// MaxBitsPerSample is the widest sample any codec can carry.
const MaxBitsPerSample = 64

// MaxImageBytes bounds the sample buffers of one image; larger requests are
// reported as resource exhaustion instead of being attempted.
const MaxImageBytes = 1 << 32

// Component is one sample plane of an image (R, G, B, Y, Cb, Cr, alpha ...).
//
// Samples are kept little endian in Data regardless of the host: integers in
// 1, 2, 4 or 8 bytes (two's complement when Signed), floats as float32 when
// BitsPerSample <= 32 (half precision is widened on load) and as float64 for
// 64 bit samples.
type Component struct {
	Width         int
	Height        int
	BitsPerSample int
	Signed        bool
	Float         bool
	SubX          int
	SubY          int
	BytesPerPixel int
	BytesPerRow   int
	Data          []byte
}

// NewComponent validates the sample encoding and allocates a zeroed buffer
// of Height*BytesPerRow bytes.
func NewComponent(width, height, bits int, signed, float bool, subX, subY int) (*Component, error) {
	if width <= 0 || height <= 0 {
		return nil, Formatf("layout", "invalid component dimensions %dx%d", width, height)
	}
	if bits <= 0 || bits > MaxBitsPerSample {
		return nil, Formatf("layout", "invalid bits per sample %d, must be between 1 and %d", bits, MaxBitsPerSample)
	}
	if float && bits != 16 && bits != 32 && bits != 64 {
		return nil, Unsupportedf("layout", "floating point sample width %d", bits)
	}
	if subX <= 0 {
		subX = 1
	}
	if subY <= 0 {
		subY = 1
	}
	bpp := BytesForBits(bits, float)
	size := int64(width) * int64(height) * int64(bpp)
	if size > MaxImageBytes {
		return nil, ResourceError("layout", size)
	}
	return &Component{
		Width:         width,
		Height:        height,
		BitsPerSample: bits,
		Signed:        signed || float,
		Float:         float,
		SubX:          subX,
		SubY:          subY,
		BytesPerPixel: bpp,
		BytesPerRow:   width * bpp,
		Data:          make([]byte, size),
	}, nil
}

// BytesForBits returns the in-memory storage width of one sample.
func BytesForBits(bits int, float bool) int {
	switch {
	case float && bits <= 32:
		return 4
	case float:
		return 8
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	case bits <= 32:
		return 4
	}
	return 8
}

func (c *Component) offset(x, y int) int {
	return y*c.BytesPerRow + x*c.BytesPerPixel
}

// Raw returns the stored bit pattern at (x, y) without sign extension.
func (c *Component) Raw(x, y int) uint64 {
	p := c.Data[c.offset(x, y):]
	switch c.BytesPerPixel {
	case 1:
		return uint64(p[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(p))
	case 4:
		return uint64(binary.LittleEndian.Uint32(p))
	}
	return binary.LittleEndian.Uint64(p)
}

// SetRaw stores a bit pattern at (x, y); the caller is responsible for masking.
func (c *Component) SetRaw(x, y int, v uint64) {
	p := c.Data[c.offset(x, y):]
	switch c.BytesPerPixel {
	case 1:
		p[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(p, uint32(v))
	default:
		binary.LittleEndian.PutUint64(p, v)
	}
}

// Int returns an integer sample, sign extended when the component is signed.
func (c *Component) Int(x, y int) int64 {
	v := c.Raw(x, y)
	if c.Signed && !c.Float {
		return bitio.SignExtend(v, c.BitsPerSample)
	}
	return int64(v)
}

// SetInt stores an integer sample, masked to BitsPerSample.
func (c *Component) SetInt(x, y int, v int64) {
	c.SetRaw(x, y, uint64(v)&bitio.Mask(c.BitsPerSample))
}

// Float64 returns a floating point sample. Integer components are converted.
func (c *Component) Float64(x, y int) float64 {
	if !c.Float {
		return float64(c.Int(x, y))
	}
	if c.BytesPerPixel == 4 {
		return float64(math.Float32frombits(uint32(c.Raw(x, y))))
	}
	return math.Float64frombits(c.Raw(x, y))
}

// SetFloat64 stores a floating point sample. Integer components are rounded
// and clamped to their range.
func (c *Component) SetFloat64(x, y int, v float64) {
	if !c.Float {
		c.SetInt(x, y, c.Clamp(int64(math.Round(v))))
		return
	}
	if c.BytesPerPixel == 4 {
		c.SetRaw(x, y, uint64(math.Float32bits(float32(v))))
		return
	}
	c.SetRaw(x, y, math.Float64bits(v))
}

// Min returns the smallest representable integer sample.
func (c *Component) Min() int64 {
	if !c.Signed || c.Float {
		return 0
	}
	if c.BitsPerSample == 64 {
		return math.MinInt64
	}
	return -(int64(1) << (c.BitsPerSample - 1))
}

// Max returns the largest representable integer sample.
func (c *Component) Max() int64 {
	switch {
	case c.Float:
		return 1
	case c.Signed && c.BitsPerSample == 64, !c.Signed && c.BitsPerSample >= 63:
		return math.MaxInt64
	case c.Signed:
		return int64(1)<<(c.BitsPerSample-1) - 1
	}
	return int64(1)<<c.BitsPerSample - 1
}

// Clamp limits v to the integer range of the component.
func (c *Component) Clamp(v int64) int64 {
	if v < c.Min() {
		return c.Min()
	}
	if v > c.Max() {
		return c.Max()
	}
	return v
}

// SameEncoding reports whether two components store samples identically,
// ignoring geometry.
func (c *Component) SameEncoding(o *Component) bool {
	return c.BitsPerSample == o.BitsPerSample && c.Signed == o.Signed && c.Float == o.Float
}

// Clone returns a deep copy including pixel data.
func (c *Component) Clone() *Component {
	n := *c
	n.Data = append([]byte(nil), c.Data...)
	return &n
}
