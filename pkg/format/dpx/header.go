package dpx

import (
	"bytes"
	"math"
	"strings"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

const (
	magicSDPX = "SDPX" // big endian
	magicXPDS = "XPDS" // little endian

	fileHeaderLen        = 768
	imageHeaderLen       = 640
	orientationHeaderLen = 256
	genericHeaderLen     = fileHeaderLen + imageHeaderLen + orientationHeaderLen
	industryHeaderLen    = 384
	headerLen            = genericHeaderLen + industryHeaderLen
	elementLen           = 72
	maxElements          = 8

	// Undefined marks an unset 32 bit field.
	Undefined  uint32 = 0xFFFFFFFF
	encryptOff uint32 = 0xFFFFFFFF
)

// Orientation is the scan direction of the lines: a combination of FlipX,
// FlipY and Transpose, 0 meaning left to right, top to bottom.
type Orientation uint16

const (
	FlipX     Orientation = 1
	FlipY     Orientation = 2
	Transpose Orientation = 4
)

// Element describes one of up to eight image elements.
type Element struct {
	Signed          bool
	RefLowData      uint32
	RefLowQuantity  float32
	RefHighData     uint32
	RefHighQuantity float32
	Descriptor      Descriptor
	Transfer        uint8
	Colorimetric    uint8
	BitSize         uint8
	Packing         uint16
	Encoding        uint16
	DataOffset      uint32
	EOLPadding      uint32
	EOIPadding      uint32
	Description     string
}

// Float reports whether datums are IEEE floating point.
func (e *Element) Float() bool { return e.BitSize == 32 || e.BitSize == 64 }

// RLE reports run length encoded data.
func (e *Element) RLE() bool { return e.Encoding == 1 }

// trueBits is the sample precision, narrower than BitSize when the
// reference codes span 0..2^k-1, or the video range 16..235 scaled to k
// bits, for a smaller k.
func (e *Element) trueBits() int {
	bits := int(e.BitSize)
	if e.Float() || e.RefLowData == Undefined || e.RefHighData == Undefined || e.RefHighData == 0 {
		return bits
	}
	if e.RefLowData != 0 {
		for k := 8; k <= bits && k <= 32; k++ {
			if e.RefLowData == 16<<(k-8) && e.RefHighData == 235<<(k-8) {
				return k
			}
		}
		return bits
	}
	v := uint64(e.RefHighData) + 1
	if v&(v-1) != 0 {
		return bits
	}
	k := 0
	for v > 1 {
		v >>= 1
		k++
	}
	return min(k, bits)
}

// Header holds the generic file, image and orientation headers. The
// industry specific header is not interpreted.
type Header struct {
	LittleEndian  bool
	ImageOffset   uint32
	Version       string
	FileSize      uint32
	FileName      string
	TimeStamp     string
	Creator       string
	Project       string
	Copyright     string
	EncryptionKey uint32
	Orientation   Orientation
	PixelsPerLine uint32
	LinesPerImage uint32
	Elements      []Element
}

func (h *Header) context() bitio.Context {
	if h.LittleEndian {
		return bitio.LittleEndian
	}
	return bitio.BigEndian
}

// ParseHeader reads the generic header at the start of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < genericHeaderLen {
		return nil, layout.Truncated("dpx", "file header")
	}
	h := &Header{}
	switch string(data[:4]) {
	case magicSDPX:
	case magicXPDS:
		h.LittleEndian = true
	default:
		return nil, layout.Formatf("dpx", "invalid magic %q, expected SDPX or XPDS", data[:4])
	}
	r := bitio.NewReader(data, h.context())
	_ = r.Seek(4)
	h.ImageOffset, _ = r.ReadUint32()
	h.Version = readString(r, 8)
	h.FileSize, _ = r.ReadUint32()
	_ = r.Skip(16) // ditto key and section sizes
	h.FileName = readString(r, 100)
	h.TimeStamp = readString(r, 24)
	h.Creator = readString(r, 100)
	h.Project = readString(r, 200)
	h.Copyright = readString(r, 200)
	h.EncryptionKey, _ = r.ReadUint32()

	_ = r.Seek(fileHeaderLen)
	o, _ := r.ReadUint16()
	h.Orientation = Orientation(o)
	n, _ := r.ReadUint16()
	h.PixelsPerLine, _ = r.ReadUint32()
	h.LinesPerImage, _ = r.ReadUint32()

	switch {
	case h.Version != "V1.0" && h.Version != "V2.0":
		return nil, layout.Unsupportedf("dpx", "version %q", h.Version)
	case n == 0 || n > maxElements:
		return nil, layout.Formatf("dpx", "%d image elements, must be between 1 and %d", n, maxElements)
	case h.Orientation > FlipX|FlipY|Transpose:
		return nil, layout.Formatf("dpx", "invalid orientation %d", h.Orientation)
	case h.PixelsPerLine == 0 || h.LinesPerImage == 0 || h.PixelsPerLine == Undefined || h.LinesPerImage == Undefined:
		return nil, layout.Formatf("dpx", "invalid image size %dx%d", h.PixelsPerLine, h.LinesPerImage)
	}

	for i := range int(n) {
		_ = r.Seek(fileHeaderLen + 12 + i*elementLen)
		var e Element
		sign, _ := r.ReadUint32()
		e.Signed = sign == 1
		e.RefLowData, _ = r.ReadUint32()
		e.RefLowQuantity, _ = r.ReadFloat32()
		e.RefHighData, _ = r.ReadUint32()
		e.RefHighQuantity, _ = r.ReadFloat32()
		b, _ := r.ReadByte()
		e.Descriptor = Descriptor(b)
		e.Transfer, _ = r.ReadByte()
		e.Colorimetric, _ = r.ReadByte()
		e.BitSize, _ = r.ReadByte()
		e.Packing, _ = r.ReadUint16()
		e.Encoding, _ = r.ReadUint16()
		e.DataOffset, _ = r.ReadUint32()
		e.EOLPadding, _ = r.ReadUint32()
		e.EOIPadding, _ = r.ReadUint32()
		e.Description = readString(r, 32)
		if err := e.check(i); err != nil {
			return nil, err
		}
		h.Elements = append(h.Elements, e)
	}
	return h, nil
}

func (e *Element) check(i int) error {
	if _, err := scanOf(e.Descriptor); err != nil {
		return err
	}
	switch e.BitSize {
	case 1, 8, 10, 12, 16, 32, 64:
	default:
		return layout.Unsupportedf("dpx", "element %d bit size %d", i, e.BitSize)
	}
	if e.Packing > 2 {
		return layout.Unsupportedf("dpx", "element %d packing %d", i, e.Packing)
	}
	if e.Encoding > 1 {
		return layout.Unsupportedf("dpx", "element %d encoding %d", i, e.Encoding)
	}
	if e.RLE() && e.BitSize < 8 {
		return layout.Unsupportedf("dpx", "element %d run length encoding of %d bit data", i, e.BitSize)
	}
	return nil
}

func readString(r *bitio.Reader, n int) string {
	p, _ := r.ReadBytes(n)
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSpace(string(p))
}

// encode writes the headers, padded to ImageOffset.
func (h *Header) encode(w *bitio.Writer) {
	start := w.Len()
	magic := magicSDPX
	if h.LittleEndian {
		magic = magicXPDS
	}
	w.WriteString(magic)
	w.WriteUint32(h.ImageOffset)
	w.WriteFixedString(h.Version, 8)
	w.WriteUint32(h.FileSize)
	w.WriteUint32(1) // ditto key: new image
	w.WriteUint32(genericHeaderLen)
	w.WriteUint32(industryHeaderLen)
	w.WriteUint32(0) // user data
	w.WriteFixedString(h.FileName, 100)
	w.WriteFixedString(h.TimeStamp, 24)
	w.WriteFixedString(h.Creator, 100)
	w.WriteFixedString(h.Project, 200)
	w.WriteFixedString(h.Copyright, 200)
	w.WriteUint32(h.EncryptionKey)
	w.Fill(fileHeaderLen-(w.Len()-start), 0xFF)

	w.WriteUint16(uint16(h.Orientation))
	w.WriteUint16(uint16(len(h.Elements)))
	w.WriteUint32(h.PixelsPerLine)
	w.WriteUint32(h.LinesPerImage)
	for _, e := range h.Elements {
		sign := uint32(0)
		if e.Signed {
			sign = 1
		}
		w.WriteUint32(sign)
		w.WriteUint32(e.RefLowData)
		w.WriteFloat32(e.RefLowQuantity)
		w.WriteUint32(e.RefHighData)
		w.WriteFloat32(e.RefHighQuantity)
		_ = w.WriteByte(byte(e.Descriptor))
		_ = w.WriteByte(e.Transfer)
		_ = w.WriteByte(e.Colorimetric)
		_ = w.WriteByte(e.BitSize)
		w.WriteUint16(e.Packing)
		w.WriteUint16(e.Encoding)
		w.WriteUint32(e.DataOffset)
		w.WriteUint32(e.EOLPadding)
		w.WriteUint32(e.EOIPadding)
		w.WriteFixedString(e.Description, 32)
	}
	w.Fill((maxElements-len(h.Elements))*elementLen, 0xFF)
	w.Fill(fileHeaderLen+imageHeaderLen-(w.Len()-start), 0xFF)

	// orientation header: offsets and centres undefined, no source names
	w.Fill(24, 0xFF)
	w.Fill(100+24+32+32, 0)
	w.Fill(16, 0xFF)
	w.Fill(genericHeaderLen-(w.Len()-start), 0)

	w.Fill(int(h.ImageOffset)-(w.Len()-start), 0xFF)
}

// undefinedFloat is the all ones bit pattern used for unset float fields.
var undefinedFloat = math.Float32frombits(Undefined)
