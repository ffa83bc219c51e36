package raw

import (
	"errors"
	"log/slog"

	"github.com/mrjoshuak/go-openexr/half"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// cell is the destination of one field; comp is nil for padding and for
// positions past the edge of the component.
type cell struct {
	comp *layout.Component
	x, y int
}

// walker visits every group of the layout in file order with the component
// positions its fields map to.
type walker struct {
	l     *Layout
	img   *layout.Image
	cells []cell
}

func (w *walker) run(group func(g *Group, cells []cell) error, rowEnd func() error) error {
	for _, seg := range w.l.segments() {
		if seg.separate {
			cw := (w.l.Width + seg.subX - 1) / seg.subX
			ch := (w.l.Height + seg.subY - 1) / seg.subY
			g := &seg.groups[0]
			for y := range ch {
				for x := range cw {
					w.cells = w.cells[:0]
					for _, f := range g.Fields {
						w.cells = append(w.cells, w.at(f.Channel, x, y))
					}
					if err := group(g, w.cells); err != nil {
						return err
					}
				}
				if err := rowEnd(); err != nil {
					return err
				}
			}
			continue
		}

		tuples := (w.l.Width + seg.tuple - 1) / seg.tuple
		occ := make([]int, len(seg.counts))
		for y := range w.l.Height {
			for t := range tuples {
				clear(occ)
				for i := range seg.groups {
					g := &seg.groups[i]
					w.cells = w.cells[:0]
					for _, f := range g.Fields {
						if f.Channel == Padding {
							w.cells = append(w.cells, cell{})
							continue
						}
						x := t*seg.counts[f.Channel] + occ[f.Channel]
						occ[f.Channel]++
						w.cells = append(w.cells, w.at(f.Channel, x, y))
					}
					if err := group(g, w.cells); err != nil {
						return err
					}
				}
			}
			if err := rowEnd(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) at(ch, x, y int) cell {
	if ch == Padding {
		return cell{}
	}
	c := w.img.Components[ch]
	if x >= c.Width || y >= c.Height {
		return cell{}
	}
	return cell{comp: c, x: x, y: y}
}

func groupContext(g *Group) bitio.Context {
	if g.LittleEndian {
		return bitio.LittleEndian
	}
	return bitio.BigEndian
}

// shifts returns the bit offset of every field inside the group word. The
// first field takes the most significant bits in MSB-first order and the
// least significant bits in LSB-first order.
func shifts(g *Group, out []int) []int {
	out = out[:0]
	if g.LittleEndian {
		s := 0
		for _, f := range g.Fields {
			out = append(out, s)
			s += f.Bits
		}
		return out
	}
	s := g.Bits
	for _, f := range g.Fields {
		s -= f.Bits
		out = append(out, s)
	}
	return out
}

// Decode unpacks data according to l.
func Decode(data []byte, l *Layout) (*layout.Image, error) {
	if len(l.Groups) == 0 {
		return nil, layout.Formatf("raw", "layout %s has no fields", l)
	}
	if err := layout.NeedBytes("raw", "sample data", l.MinBytes(), int64(len(data))); err != nil {
		return nil, err
	}
	img, err := l.NewImage()
	if err != nil {
		return nil, err
	}
	r := bitio.NewReader(data, bitio.BigEndian)
	rowStart := 0
	var sh []int
	w := &walker{l: l, img: img}
	err = w.run(func(g *Group, cells []cell) error {
		r.SetContext(groupContext(g))
		word, err := r.ReadSample(g.Bits)
		if err != nil {
			return err
		}
		sh = shifts(g, sh)
		for i, f := range g.Fields {
			if cells[i].comp == nil {
				continue
			}
			setSample(cells[i], f, word>>sh[i]&bitio.Mask(f.Bits))
		}
		return nil
	}, func() error {
		r.ByteAlign()
		if pad := rowPadding(r.Pos()-rowStart, l.RowAlign); pad > 0 {
			if err := r.Skip(pad); err != nil {
				return err
			}
		}
		rowStart = r.Pos()
		return nil
	})
	if err != nil {
		if errors.Is(err, bitio.ErrShortBuffer) {
			return nil, layout.Truncated("raw", "sample data")
		}
		return nil, layout.Wrap("raw", err)
	}
	if extra := r.Len(); extra > 0 {
		slog.Warn("raw: trailing data after image", "layout", l.String(), "bytes", extra)
	}
	return img, nil
}

// Encode packs img according to l.
func Encode(img *layout.Image, l *Layout) ([]byte, error) {
	if len(l.Groups) == 0 {
		return nil, layout.Formatf("raw", "layout %s has no fields", l)
	}
	if err := l.Check(img); err != nil {
		return nil, err
	}
	bw := bitio.NewWriter(bitio.BigEndian)
	rowStart := 0
	var sh []int
	w := &walker{l: l, img: img}
	err := w.run(func(g *Group, cells []cell) error {
		bw.SetContext(groupContext(g))
		sh = shifts(g, sh)
		var word uint64
		for i, f := range g.Fields {
			if cells[i].comp == nil {
				continue
			}
			word |= sample(cells[i], f) << sh[i]
		}
		return bw.WriteSample(word, g.Bits)
	}, func() error {
		bw.ByteAlign()
		bw.Pad(rowPadding(bw.Len()-rowStart, l.RowAlign))
		rowStart = bw.Len()
		return nil
	})
	if err != nil {
		return nil, layout.Wrap("raw", err)
	}
	return bw.Bytes(), nil
}

func rowPadding(n, align int) int {
	if align <= 1 || n%align == 0 {
		return 0
	}
	return align - n%align
}

func setSample(c cell, f Field, v uint64) {
	switch {
	case f.Float && f.Bits == 16:
		c.comp.SetFloat64(c.x, c.y, float64(half.FromBits(uint16(v)).Float32()))
	case f.Float:
		c.comp.SetRaw(c.x, c.y, v)
	default:
		c.comp.SetRaw(c.x, c.y, v&bitio.Mask(c.comp.BitsPerSample))
	}
}

func sample(c cell, f Field) uint64 {
	switch {
	case f.Float && f.Bits == 16:
		return uint64(half.FromFloat32(float32(c.comp.Float64(c.x, c.y))).Bits())
	case f.Float:
		return c.comp.Raw(c.x, c.y)
	}
	return c.comp.Raw(c.x, c.y) & bitio.Mask(f.Bits)
}
