package pgx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Header is the one line text header of a PGX component, e.g.
// "PG ML +12 640 480".
type Header struct {
	Float        bool // PF instead of PG
	LittleEndian bool // LM instead of ML
	Signed       bool
	Bits         int
	Width        int
	Height       int
}

// ParseHeader parses the header line at the start of p and returns it with
// the number of bytes it occupied, line break included.
func ParseHeader(p []byte) (Header, int, error) {
	var h Header
	end := bytes.IndexByte(p, '\n')
	if end < 0 {
		if len(p) > 256 {
			return h, 0, layout.Formatf("pgx", "header line is not terminated")
		}
		end = len(p)
	}
	line := strings.TrimRight(string(p[:end]), "\r")
	n := min(end+1, len(p))

	fields := strings.Fields(line)
	if len(fields) < 5 {
		return h, 0, layout.Formatf("pgx", "invalid header %q", line)
	}
	switch fields[0] {
	case "PG":
	case "PF":
		h.Float = true
	default:
		return h, 0, layout.Formatf("pgx", "invalid magic %q, expected PG or PF", fields[0])
	}
	switch fields[1] {
	case "ML":
	case "LM":
		h.LittleEndian = true
	default:
		return h, 0, layout.Formatf("pgx", "invalid byte order %q, expected ML or LM", fields[1])
	}

	rest := fields[2:]
	depth := rest[0]
	switch depth[0] {
	case '+', '-':
		h.Signed = depth[0] == '-'
		depth = depth[1:]
		if depth == "" {
			// "+ 8": sign and depth separated by a space
			rest = rest[1:]
			depth = rest[0]
		}
	}
	if len(rest) < 3 {
		return h, 0, layout.Formatf("pgx", "invalid header %q", line)
	}
	var err error
	if h.Bits, err = headerInt(depth, "bit depth"); err != nil {
		return h, 0, err
	}
	if h.Width, err = headerInt(rest[1], "width"); err != nil {
		return h, 0, err
	}
	if h.Height, err = headerInt(rest[2], "height"); err != nil {
		return h, 0, err
	}
	if h.Bits > layout.MaxBitsPerSample {
		return h, 0, layout.Unsupportedf("pgx", "bit depth %d", h.Bits)
	}
	if h.Float && h.Bits != 16 && h.Bits != 32 && h.Bits != 64 {
		return h, 0, layout.Unsupportedf("pgx", "floating point samples of %d bits", h.Bits)
	}
	return h, n, nil
}

func headerInt(s, what string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, layout.Formatf("pgx", "invalid %s %q", what, s)
	}
	return v, nil
}

// String formats the header line without the line break.
func (h Header) String() string {
	magic, order, sign := "PG", "ML", "+"
	if h.Float {
		magic = "PF"
	}
	if h.LittleEndian {
		order = "LM"
	}
	if h.Signed {
		sign = "-"
	}
	return fmt.Sprintf("%s %s %s%d %d %d", magic, order, sign, h.Bits, h.Width, h.Height)
}

// SampleBytes is the storage size of one sample: 1, 2, 4 or 8 bytes.
func (h Header) SampleBytes() int {
	switch {
	case h.Bits <= 8:
		return 1
	case h.Bits <= 16:
		return 2
	case h.Bits <= 32:
		return 4
	}
	return 8
}

// DataSize is the number of data bytes following the header.
func (h Header) DataSize() int {
	return h.Width * h.Height * h.SampleBytes()
}

func (h Header) context() bitio.Context {
	if h.LittleEndian {
		return bitio.LittleEndian
	}
	return bitio.BigEndian
}
