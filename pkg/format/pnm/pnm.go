// Package pnm reads and writes the Netpbm formats PBM, PGM and PPM in their
// plain (P1, P2, P3) and raw (P4, P5, P6) variants.
//
// The maximum value of a file fixes the component depth: maxval 1023 gives
// 10 bit samples. Bitmaps decode to a 1 bit component where 1 is white.
package pnm

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"strconv"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec for .pbm, .pgm, .ppm and .pnm files.
type Codec struct{}

func (Codec) Name() string { return "pnm" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("pnm", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("pnm", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}

const maxVal = 65535

type header struct {
	magic         byte // '1' to '6'
	width, height int
	maxval        int
}

func (h header) plain() bool  { return h.magic <= '3' }
func (h header) bitmap() bool { return h.magic == '1' || h.magic == '4' }

func (h header) depth() int {
	if h.magic == '3' || h.magic == '6' {
		return 3
	}
	return 1
}

type scanner struct {
	r *bufio.Reader
}

// token returns the next whitespace separated word, skipping comments.
func (s *scanner) token() (string, error) {
	var tok []byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := s.r.ReadString('\n'); err != nil {
				return "", err
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}

func (s *scanner) number(what string, lo, hi int) (int, error) {
	tok, err := s.token()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < lo || n > hi {
		return 0, layout.Formatf("pnm", "invalid %s %q", what, tok)
	}
	return n, nil
}

func readHeader(s *scanner) (header, error) {
	var h header
	magic := make([]byte, 2)
	if _, err := io.ReadFull(s.r, magic); err != nil {
		return h, layout.Truncated("pnm", "header")
	}
	if magic[0] != 'P' || magic[1] < '1' || magic[1] > '6' {
		return h, layout.Formatf("pnm", "invalid magic %q", magic)
	}
	h.magic = magic[1]
	var err error
	if h.width, err = s.number("width", 1, 1<<30); err != nil {
		return h, err
	}
	if h.height, err = s.number("height", 1, 1<<30); err != nil {
		return h, err
	}
	h.maxval = 1
	if !h.bitmap() {
		if h.maxval, err = s.number("maximum value", 1, maxVal); err != nil {
			return h, err
		}
	}
	return h, nil
}

// Decode reads a Netpbm image. specs.ASCII reports the plain variants.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	s := &scanner{r: bufio.NewReader(r)}
	h, err := readHeader(s)
	if err != nil {
		return nil, layout.Wrap("pnm", err)
	}
	depth := bits.Len(uint(h.maxval))
	img := layout.NewImage(h.width, h.height)
	for range h.depth() {
		if _, err := img.AddComponent(depth, false, false, 1, 1); err != nil {
			return nil, err
		}
	}
	if h.plain() {
		err = readPlain(s, h, img)
	} else {
		err = readRaw(s.r, h, img)
	}
	if err != nil {
		return nil, layout.Wrap("pnm", err)
	}
	if specs != nil {
		specs.ASCII = layout.Bool(h.plain())
	}
	return img, nil
}

func readPlain(s *scanner, h header, img *layout.Image) error {
	for y := range h.height {
		for x := range h.width {
			for _, c := range img.Components {
				var v int
				if h.bitmap() {
					// bits may be written without separators
					b, err := nextBit(s.r)
					if err != nil {
						return err
					}
					v = 1 - b
				} else {
					n, err := s.number("sample", 0, h.maxval)
					if err != nil {
						return err
					}
					v = n
				}
				c.SetRaw(x, y, uint64(v))
			}
		}
	}
	return nil
}

func nextBit(r *bufio.Reader) (int, error) {
	for {
		c, err := r.ReadByte()
		switch {
		case err == io.EOF:
			return 0, io.ErrUnexpectedEOF
		case err != nil:
			return 0, err
		case c == '0' || c == '1':
			return int(c - '0'), nil
		case c == '#':
			if _, err := r.ReadString('\n'); err != nil {
				return 0, io.ErrUnexpectedEOF
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
		default:
			return 0, layout.Formatf("pnm", "invalid bitmap sample %q", c)
		}
	}
}

func readRaw(r *bufio.Reader, h header, img *layout.Image) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bitio.NewReader(data, bitio.BigEndian)
	for y := range h.height {
		for x := range h.width {
			for _, c := range img.Components {
				var v uint64
				switch {
				case h.bitmap():
					v, err = br.ReadBits(1)
					v = 1 - v
				case h.maxval < 256:
					var b byte
					b, err = br.ReadByte()
					v = uint64(b)
				default:
					var u uint16
					u, err = br.ReadUint16()
					v = uint64(u)
				}
				if err != nil {
					return layout.Truncated("pnm", "sample data")
				}
				if v > uint64(h.maxval) {
					return layout.Formatf("pnm", "sample %d at (%d,%d) exceeds the maximum value %d", v, x, y, h.maxval)
				}
				c.SetRaw(x, y, v)
			}
		}
		if h.bitmap() {
			br.ByteAlign()
		}
	}
	return nil
}

// Encode writes one grey or three colour components of unsigned integers
// up to 16 bits. A 1 bit grey image becomes a bitmap. specs.ASCII selects
// the plain variants.
func Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	n := img.Depth()
	switch {
	case img.Alpha > 0:
		return layout.Unsupportedf("pnm", "alpha components")
	case n != 1 && n != 3:
		return layout.Unsupportedf("pnm", "%d components, need 1 or 3", n)
	case img.Subsampled():
		return layout.Unsupportedf("pnm", "subsampled components")
	case !img.Uniform(0, n-1):
		return layout.Unsupportedf("pnm", "components of different precision")
	}
	c0 := img.Components[0]
	if c0.Float || c0.Signed || c0.BitsPerSample > 16 {
		return layout.Unsupportedf("pnm", "%d bit samples that are signed or float or wider than 16 bits", c0.BitsPerSample)
	}
	plain := specs != nil && specs.ASCII.IsYes()
	h := header{width: img.Width, height: img.Height, maxval: int(bitio.Mask(c0.BitsPerSample))}
	switch {
	case n == 1 && c0.BitsPerSample == 1:
		h.magic = '4'
	case n == 1:
		h.magic = '5'
	default:
		h.magic = '6'
	}
	if plain {
		h.magic -= 3
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "P%c\n%d %d\n", h.magic, h.width, h.height)
	if !h.bitmap() {
		fmt.Fprintf(bw, "%d\n", h.maxval)
	}
	if plain {
		writePlain(bw, h, img)
	} else {
		out := bitio.NewWriter(bitio.BigEndian)
		for y := range h.height {
			for x := range h.width {
				for _, c := range img.Components {
					v := c.Raw(x, y)
					switch {
					case h.bitmap():
						_ = out.WriteBits(1-v, 1)
					case h.maxval < 256:
						_ = out.WriteByte(byte(v))
					default:
						out.WriteUint16(uint16(v))
					}
				}
			}
			out.ByteAlign()
		}
		_, _ = bw.Write(out.Bytes())
	}
	if err := bw.Flush(); err != nil {
		return layout.IOError("pnm", err)
	}
	return nil
}

// writePlain keeps lines under 70 characters.
func writePlain(bw *bufio.Writer, h header, img *layout.Image) {
	for y := range h.height {
		col := 0
		for x := range h.width {
			for _, c := range img.Components {
				v := c.Raw(x, y)
				var tok string
				if h.bitmap() {
					tok = strconv.FormatUint(1-v, 10)
				} else {
					tok = strconv.FormatUint(v, 10)
				}
				if col > 0 && col+len(tok)+1 > 70 {
					_ = bw.WriteByte('\n')
					col = 0
				} else if col > 0 {
					_ = bw.WriteByte(' ')
					col++
				}
				_, _ = bw.WriteString(tok)
				col += len(tok)
			}
		}
		_ = bw.WriteByte('\n')
	}
}
