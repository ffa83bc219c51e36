package bmp

import (
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// RLE escape codes, the byte after a zero count
const (
	escEOL   = 0
	escEOB   = 1
	escDelta = 2
)

// decodeRLE expands RLE8 or RLE4 data of a bottom-up bitmap into one index
// byte per pixel, top row first. Pixels a delta skips stay zero.
func decodeRLE(src []byte, width, height int, nibbles bool) ([]byte, error) {
	out := make([]byte, width*height)
	x, fy := 0, 0
	put := func(v byte) error {
		if x >= width || fy >= height {
			return layout.Formatf("bmp", "run crosses the end of row %d", fy)
		}
		out[(height-1-fy)*width+x] = v
		x++
		return nil
	}

	pos := 0
	next := func() (byte, error) {
		if pos >= len(src) {
			return 0, layout.Truncated("bmp", "run length data")
		}
		b := src[pos]
		pos++
		return b, nil
	}

	for {
		count, err := next()
		if err != nil {
			return nil, err
		}
		value, err := next()
		if err != nil {
			return nil, err
		}
		if count > 0 {
			for i := range int(count) {
				v := value
				if nibbles {
					v = nibble(value, i)
				}
				if err := put(v); err != nil {
					return nil, err
				}
			}
			continue
		}

		switch value {
		case escEOL:
			x, fy = 0, fy+1
		case escEOB:
			return out, nil
		case escDelta:
			dx, err := next()
			if err != nil {
				return nil, err
			}
			dy, err := next()
			if err != nil {
				return nil, err
			}
			x += int(dx)
			fy += int(dy)
			if x > width || fy > height {
				return nil, layout.Formatf("bmp", "delta moves outside the image to (%d,%d)", x, fy)
			}
		default:
			n := int(value)
			size := n
			if nibbles {
				size = (n + 1) / 2
			}
			if pos+size > len(src) {
				return nil, layout.Truncated("bmp", "literal run")
			}
			for i := range n {
				v := src[pos+i]
				if nibbles {
					v = nibble(src[pos+i/2], i)
				}
				if err := put(v); err != nil {
					return nil, err
				}
			}
			// literal runs are padded to a 16 bit boundary
			pos += size + size&1
		}
	}
}

// nibble returns the i-th pixel of a byte holding two 4 bit pixels, the
// high nibble first.
func nibble(b byte, i int) byte {
	if i&1 == 0 {
		return b >> 4
	}
	return b & 0x0F
}

// encodeRLE compresses index rows, top row first, into an RLE8 or RLE4
// stream written bottom-up. Every row ends with an end-of-line escape and
// the bitmap with end-of-bitmap.
func encodeRLE(indices []byte, width, height int, nibbles bool) []byte {
	var out []byte
	runAt := func(row []byte, i int) int {
		n := 1
		for i+n < len(row) && n < 255 && row[i+n] == row[i] {
			n++
		}
		return n
	}
	run := func(v byte, n int) {
		if nibbles {
			v = v<<4 | v&0x0F
		}
		out = append(out, byte(n), v)
	}
	literal := func(p []byte) {
		out = append(out, 0, byte(len(p)))
		size := len(p)
		if nibbles {
			for i := 0; i < len(p); i += 2 {
				b := p[i] << 4
				if i+1 < len(p) {
					b |= p[i+1] & 0x0F
				}
				out = append(out, b)
			}
			size = (len(p) + 1) / 2
		} else {
			out = append(out, p...)
		}
		if size&1 == 1 {
			out = append(out, 0)
		}
	}

	for y := height - 1; y >= 0; y-- {
		row := indices[y*width : (y+1)*width]
		for i := 0; i < len(row); {
			if n := runAt(row, i); n >= 3 || len(row)-i < 3 {
				run(row[i], n)
				i += n
				continue
			}
			// a literal run lasts until the next run of three
			j := i
			for j < len(row) && j-i < 255 && runAt(row, j) < 3 {
				j++
			}
			if j-i >= 3 {
				literal(row[i:j])
				i = j
				continue
			}
			for i < j {
				n := min(runAt(row, i), j-i)
				run(row[i], n)
				i += n
			}
		}
		out = append(out, 0, escEOL)
	}
	return append(out, 0, escEOB)
}
