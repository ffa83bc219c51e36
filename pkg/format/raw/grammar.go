package raw

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Padding is the channel of a field that carries no image data.
const Padding = -1

// Field is one sample slot of the pixel layout.
type Field struct {
	Bits   int
	Signed bool
	Float  bool
	// LittleEndian selects little endian bytes and LSB-first bit fill.
	LittleEndian bool
	// Channel is the component index or Padding.
	Channel int
	// Separate marks a field of a plane stored on its own ([...]).
	Separate bool
	// SubX and SubY are the plane subsampling of a separate field.
	SubX, SubY int

	explicitOrder bool
}

// Group is a run of fields bit-packed into one word, or a single field.
type Group struct {
	Fields       []Field
	Bits         int
	LittleEndian bool
	Separate     bool
	SubX, SubY   int
}

// Packed reports whether the group combines several fields in one word.
func (g *Group) Packed() bool { return len(g.Fields) > 1 }

// Layout is a parsed pixel layout description such as
// "64x1x1:{1-},{7-=0}".
type Layout struct {
	Width, Height int
	Depth         int
	Groups        []Group
	// RowAlign pads every row to a multiple of this many bytes; 0 or 1
	// means rows end at the next byte.
	RowAlign int
}

// ParseLayout parses <w>x<h>[x<depth>][:<fields>]. The field list may be
// empty, the caller then supplies a preset. Without an explicit depth the
// highest channel plus one is used.
func ParseLayout(s string) (*Layout, error) {
	p := &parser{s: s}
	l := &Layout{}
	var err error
	if l.Width, err = p.number("width"); err != nil {
		return nil, err
	}
	if err := p.expect('x'); err != nil {
		return nil, err
	}
	if l.Height, err = p.number("height"); err != nil {
		return nil, err
	}
	if p.accept('x') {
		if l.Depth, err = p.number("depth"); err != nil {
			return nil, err
		}
	}
	if l.Width <= 0 || l.Height <= 0 {
		return nil, p.errorf("image dimensions %dx%d must be positive", l.Width, l.Height)
	}
	if p.done() {
		return l, nil
	}
	if err := p.expect(':'); err != nil {
		return nil, err
	}
	if l.Groups, err = p.groups(); err != nil {
		return nil, err
	}
	if err := l.resolveDepth(); err != nil {
		return nil, err
	}
	return l, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return layout.Formatf("raw", "%s at offset %d of %q", fmt.Sprintf(format, args...), p.pos, p.s)
}

func (p *parser) done() bool { return p.pos >= len(p.s) }

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) accept(c byte) bool {
	if !p.done() && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if !p.accept(c) {
		if p.done() {
			return p.errorf("expected %q, found end of layout", c)
		}
		return p.errorf("expected %q, found %q", c, p.peek())
	}
	return nil
}

func (p *parser) number(what string) (int, error) {
	start := p.pos
	for !p.done() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, p.errorf("expected a number for the %s", what)
	}
	v, err := strconv.Atoi(p.s[start:p.pos])
	if err != nil {
		return 0, p.errorf("bad number %q for the %s", p.s[start:p.pos], what)
	}
	return v, nil
}

// groups parses item { (':' | ',') item }.
func (p *parser) groups() ([]Group, error) {
	var groups []Group
	var cur []Field
	var prefix byte
	for {
		// optional group default order
		if c := p.peek(); (c == '+' || c == '-') && len(cur) == 0 {
			prefix = c
			p.pos++
		}
		f, err := p.field()
		if err != nil {
			return nil, err
		}
		cur = append(cur, f)

		switch {
		case p.accept(','):
			continue
		case p.done(), p.peek() == ':':
			g, err := p.closeGroup(cur, prefix)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
			cur, prefix = nil, 0
			if p.done() {
				return groups, nil
			}
			p.pos++
		default:
			return nil, p.errorf("expected ':' or ',' after a field, found %q", p.peek())
		}
	}
}

// field parses '{' spec '}' or '[' spec ']' ['/' sx 'x' sy].
func (p *parser) field() (Field, error) {
	f := Field{Channel: Padding, SubX: 1, SubY: 1}
	var closing byte
	switch {
	case p.accept('{'):
		closing = '}'
	case p.accept('['):
		closing, f.Separate = ']', true
	case p.done():
		return f, p.errorf("expected a field, found end of layout")
	default:
		return f, p.errorf("expected '{' or '[' to start a field, found %q", p.peek())
	}

	var err error
	if f.Bits, err = p.number("field width"); err != nil {
		return f, err
	}
	if f.Bits < 1 || f.Bits > layout.MaxBitsPerSample {
		return f, p.errorf("field width %d, must be between 1 and %d", f.Bits, layout.MaxBitsPerSample)
	}
modifiers:
	for {
		switch p.peek() {
		case 's':
			f.Signed = true
		case 'f', 'F':
			f.Float = true
		case '+':
			f.LittleEndian, f.explicitOrder = false, true
		case '-':
			f.LittleEndian, f.explicitOrder = true, true
		default:
			break modifiers
		}
		p.pos++
	}
	if f.Float && f.Bits != 16 && f.Bits != 32 && f.Bits != 64 {
		return f, p.errorf("floating point field of %d bits, must be 16, 32 or 64", f.Bits)
	}
	if p.accept('=') {
		if f.Channel, err = p.number("channel"); err != nil {
			return f, err
		}
	}
	if !p.accept(closing) {
		if p.done() {
			return f, p.errorf("unterminated bracket, expected %q", closing)
		}
		return f, p.errorf("unexpected %q in field, expected %q", p.peek(), closing)
	}

	if p.peek() == '/' {
		if !f.Separate {
			return f, p.errorf("subsampling is only legal for separate plane fields")
		}
		p.pos++
		if f.SubX, err = p.number("horizontal subsampling"); err != nil {
			return f, err
		}
		if err := p.expect('x'); err != nil {
			return f, err
		}
		if f.SubY, err = p.number("vertical subsampling"); err != nil {
			return f, err
		}
		if f.SubX < 1 || f.SubY < 1 {
			return f, p.errorf("subsampling %dx%d must be positive", f.SubX, f.SubY)
		}
	}
	return f, nil
}

// closeGroup settles the byte order of a group and checks packing rules.
func (p *parser) closeGroup(fields []Field, prefix byte) (Group, error) {
	g := Group{Fields: fields, Separate: fields[0].Separate, SubX: fields[0].SubX, SubY: fields[0].SubY}
	switch {
	case prefix != 0:
		g.LittleEndian = prefix == '-'
	default:
		for _, f := range fields {
			if f.explicitOrder {
				g.LittleEndian = f.LittleEndian
				break
			}
		}
	}
	for i := range g.Fields {
		f := &g.Fields[i]
		if f.explicitOrder && f.LittleEndian != g.LittleEndian {
			return g, p.errorf("mixed endianness in packed group")
		}
		f.LittleEndian = g.LittleEndian
		if f.Separate != g.Separate {
			return g, p.errorf("packed group mixes interleaved and separate fields")
		}
		if f.SubX != g.SubX || f.SubY != g.SubY {
			return g, p.errorf("packed separate fields differ in subsampling")
		}
		g.Bits += f.Bits
	}
	if g.Packed() {
		switch g.Bits {
		case 8, 16, 32, 64:
		default:
			return g, p.errorf("packed fields total %d bits, not divisible into 8, 16, 32 or 64 bit words", g.Bits)
		}
	}
	return g, nil
}

// resolveDepth derives or checks the depth against the channels used.
func (l *Layout) resolveDepth() error {
	highest := -1
	for _, g := range l.Groups {
		for _, f := range g.Fields {
			highest = max(highest, f.Channel)
		}
	}
	if l.Depth == 0 {
		l.Depth = highest + 1
	}
	if l.Depth == 0 {
		return layout.Formatf("raw", "layout defines no channels")
	}
	if highest >= l.Depth {
		return layout.Formatf("raw", "channel %d out of range for depth %d", highest, l.Depth)
	}
	_, err := l.Channels()
	return err
}

// String formats the layout in the grammar ParseLayout reads.
func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%dx%dx%d", l.Width, l.Height, l.Depth)
	for _, g := range l.Groups {
		sb.WriteByte(':')
		if g.LittleEndian {
			sb.WriteByte('-')
		}
		for j, f := range g.Fields {
			if j > 0 {
				sb.WriteByte(',')
			}
			open, closing := "{", "}"
			if f.Separate {
				open, closing = "[", "]"
			}
			sb.WriteString(open)
			sb.WriteString(strconv.Itoa(f.Bits))
			if f.Signed && !f.Float {
				sb.WriteByte('s')
			}
			if f.Float {
				sb.WriteByte('f')
			}
			if f.Channel != Padding {
				fmt.Fprintf(&sb, "=%d", f.Channel)
			}
			sb.WriteString(closing)
			if f.Separate && (f.SubX != 1 || f.SubY != 1) {
				fmt.Fprintf(&sb, "/%dx%d", f.SubX, f.SubY)
			}
		}
	}
	return sb.String()
}
