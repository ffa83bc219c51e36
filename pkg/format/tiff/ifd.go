package tiff

import (
	"encoding/binary"
	"log/slog"
	"math"
	"slices"

	"github.com/jpfielding/imgdiff.go/pkg/format/tiff/tag"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

const (
	leHeader = "II\x2A\x00"
	beHeader = "MM\x00\x2A"

	entryLen = 12
)

// Entry is one IFD field. Data holds the raw value bytes in file byte order,
// whether they were inlined in the entry or stored at an offset.
type Entry struct {
	Tag   tag.Tag
	Type  tag.Type
	Count uint32
	Data  []byte
}

// IFD is an image file directory, entries sorted by tag.
type IFD struct {
	Order   binary.ByteOrder
	Entries []Entry
}

// ParseHeader checks the 8 byte header and returns the byte order and the
// offset of the first IFD.
func ParseHeader(data []byte) (binary.ByteOrder, uint32, error) {
	if len(data) < 8 {
		return nil, 0, layout.Truncated("tiff", "header")
	}
	var order binary.ByteOrder
	switch string(data[:4]) {
	case leHeader:
		order = binary.LittleEndian
	case beHeader:
		order = binary.BigEndian
	default:
		if string(data[:2]) == "II" || string(data[:2]) == "MM" {
			return nil, 0, layout.Unsupportedf("tiff", "version %d, only classic TIFF (42) is handled", binary.LittleEndian.Uint16(data[2:]))
		}
		return nil, 0, layout.Formatf("tiff", "invalid byte order marker %q", data[:2])
	}
	return order, order.Uint32(data[4:8]), nil
}

// ParseIFD reads the header and the first image file directory of data.
func ParseIFD(data []byte) (*IFD, error) {
	order, off, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if int64(off)+2 > int64(len(data)) {
		return nil, layout.Truncated("tiff", "image file directory")
	}
	n := int(order.Uint16(data[off:]))
	start := int(off) + 2
	if start+n*entryLen > len(data) {
		return nil, layout.Truncated("tiff", "image file directory")
	}

	ifd := &IFD{Order: order, Entries: make([]Entry, 0, n)}
	for i := range n {
		p := data[start+i*entryLen : start+(i+1)*entryLen]
		e := Entry{
			Tag:   tag.Tag(order.Uint16(p[0:])),
			Type:  tag.Type(order.Uint16(p[2:])),
			Count: order.Uint32(p[4:]),
		}
		size := e.Type.Size()
		if size == 0 {
			slog.Debug("tiff: skipping entry of unknown type", "tag", e.Tag, "type", e.Type)
			continue
		}
		total := int64(size) * int64(e.Count)
		if total <= 4 {
			e.Data = p[8 : 8+total]
		} else {
			voff := int64(order.Uint32(p[8:]))
			if voff+total > int64(len(data)) {
				return nil, layout.Truncated("tiff", "value of "+e.Tag.String())
			}
			e.Data = data[voff : voff+total]
		}
		if !e.Tag.Known() {
			slog.Debug("tiff: unknown tag", "tag", e.Tag, "type", e.Type, "count", e.Count)
		}
		ifd.Entries = append(ifd.Entries, e)
	}
	if !slices.IsSortedFunc(ifd.Entries, compareEntries) {
		slog.Warn("tiff: directory entries are not sorted by tag")
		slices.SortStableFunc(ifd.Entries, compareEntries)
	}
	return ifd, nil
}

func compareEntries(a, b Entry) int {
	return int(a.Tag) - int(b.Tag)
}

// Find returns the entry for t.
func (d *IFD) Find(t tag.Tag) (*Entry, bool) {
	i, ok := slices.BinarySearchFunc(d.Entries, t, func(e Entry, t tag.Tag) int {
		return int(e.Tag) - int(t)
	})
	if !ok {
		return nil, false
	}
	return &d.Entries[i], true
}

// Has reports whether t is present.
func (d *IFD) Has(t tag.Tag) bool {
	_, ok := d.Find(t)
	return ok
}

// Uints returns the values of an integer entry, nil when absent.
func (d *IFD) Uints(t tag.Tag) []uint64 {
	e, ok := d.Find(t)
	if !ok {
		return nil
	}
	return e.Uints(d.Order)
}

// Uint returns the first value of t, or def when absent.
func (d *IFD) Uint(t tag.Tag, def uint64) uint64 {
	if v := d.Uints(t); len(v) > 0 {
		return v[0]
	}
	return def
}

// Float returns the first value of t converted to float64, or def.
func (d *IFD) Float(t tag.Tag, def float64) float64 {
	e, ok := d.Find(t)
	if !ok {
		return def
	}
	if v := e.Floats(d.Order); len(v) > 0 {
		return v[0]
	}
	return def
}

// Uints decodes the integer values of the entry. Rational and floating types
// yield nil.
func (e *Entry) Uints(order binary.ByteOrder) []uint64 {
	out := make([]uint64, 0, e.Count)
	for i := range int(e.Count) {
		switch e.Type {
		case tag.Byte, tag.Undefined, tag.ASCII:
			out = append(out, uint64(e.Data[i]))
		case tag.SByte:
			out = append(out, uint64(int64(int8(e.Data[i]))))
		case tag.Short:
			out = append(out, uint64(order.Uint16(e.Data[2*i:])))
		case tag.SShort:
			out = append(out, uint64(int64(int16(order.Uint16(e.Data[2*i:])))))
		case tag.Long:
			out = append(out, uint64(order.Uint32(e.Data[4*i:])))
		case tag.SLong:
			out = append(out, uint64(int64(int32(order.Uint32(e.Data[4*i:])))))
		default:
			return nil
		}
	}
	return out
}

// Floats decodes the values of the entry as float64, for any numeric type.
func (e *Entry) Floats(order binary.ByteOrder) []float64 {
	out := make([]float64, 0, e.Count)
	for i := range int(e.Count) {
		switch e.Type {
		case tag.Float:
			out = append(out, float64(math.Float32frombits(order.Uint32(e.Data[4*i:]))))
		case tag.Double:
			out = append(out, math.Float64frombits(order.Uint64(e.Data[8*i:])))
		case tag.Rational:
			num, den := order.Uint32(e.Data[8*i:]), order.Uint32(e.Data[8*i+4:])
			if den == 0 {
				out = append(out, 0)
				continue
			}
			out = append(out, float64(num)/float64(den))
		case tag.SRational:
			num, den := int32(order.Uint32(e.Data[8*i:])), int32(order.Uint32(e.Data[8*i+4:]))
			if den == 0 {
				out = append(out, 0)
				continue
			}
			out = append(out, float64(num)/float64(den))
		default:
			u := e.Uints(order)
			if u == nil {
				return nil
			}
			for _, v := range u {
				out = append(out, float64(int64(v)))
			}
			return out
		}
	}
	return out
}
