// Package pgx reads and writes PGX, the one-component-per-file format of the
// JPEG 2000 conformance suite.
//
// Two layouts are understood. In index mode the .pgx file lists one header
// file per line ("img_0.h"), each header paired with a data file of the same
// name ending in .raw. In embedded mode the .pgx file itself starts with the
// header and carries the data; further components are found by incrementing
// the trailing number of the name (img_0.pgx, img_1.pgx ...). Saving always
// produces index mode.
package pgx

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mrjoshuak/go-openexr/half"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.Codec for .pgx files.
type Codec struct{}

func (Codec) Name() string { return "pgx" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return Load(path, specs)
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return Save(path, img, specs)
}

// DecodeComponent reads one component given its header and data.
func DecodeComponent(h Header, data []byte) (*layout.Component, error) {
	if len(data) < h.DataSize() {
		return nil, layout.Truncated("pgx", "sample data")
	}
	c, err := layout.NewComponent(h.Width, h.Height, h.Bits, h.Signed, h.Float, 1, 1)
	if err != nil {
		return nil, err
	}
	r := bitio.NewReader(data, h.context())
	n := 8 * h.SampleBytes()
	for y := range h.Height {
		for x := range h.Width {
			v, _ := r.ReadSample(n)
			switch {
			case h.Float && h.Bits == 16:
				c.SetFloat64(x, y, float64(half.FromBits(uint16(v)).Float32()))
			case h.Float:
				c.SetRaw(x, y, v)
			default:
				c.SetRaw(x, y, v&bitio.Mask(h.Bits))
			}
		}
	}
	return c, nil
}

// EncodeComponent returns the header and sample data of c.
func EncodeComponent(c *layout.Component, littleEndian bool) (Header, []byte) {
	h := Header{
		Float:        c.Float,
		LittleEndian: littleEndian,
		Signed:       c.Signed,
		Bits:         c.BitsPerSample,
		Width:        c.Width,
		Height:       c.Height,
	}
	w := bitio.NewWriter(h.context())
	n := 8 * h.SampleBytes()
	for y := range c.Height {
		for x := range c.Width {
			var v uint64
			switch {
			case c.Float && c.BitsPerSample == 16:
				v = uint64(half.FromFloat32(float32(c.Float64(x, y))).Bits())
			case c.Float:
				v = c.Raw(x, y)
			default:
				// signed samples are sign extended to the storage size
				v = uint64(c.Int(x, y))
			}
			_ = w.WriteSample(v&bitio.Mask(n), n)
		}
	}
	return h, w.Bytes()
}

// Load reads every component of a PGX image.
func Load(path string, specs *layout.Specs) (*layout.Image, error) {
	first, err := readAll(path)
	if err != nil {
		return nil, err
	}
	var comps []*layout.Component
	if bytes.HasPrefix(first, []byte("PG")) || bytes.HasPrefix(first, []byte("PF")) {
		comps, err = loadEmbedded(path, first)
	} else {
		comps, err = loadIndex(path, first)
	}
	if err != nil {
		return nil, err
	}
	img, err := assemble(comps)
	if err != nil {
		return nil, err
	}
	if specs != nil {
		specs.YUVEncoded = layout.Bool(img.Depth() == 3 && img.Subsampled())
	}
	slog.Debug("pgx: loaded components", "path", path, "components", len(comps))
	return img, nil
}

func readAll(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, layout.IOError("pgx", err)
	}
	return data, nil
}

func loadEmbedded(path string, first []byte) ([]*layout.Component, error) {
	var comps []*layout.Component
	data := first
	for {
		h, n, err := ParseHeader(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		c, err := DecodeComponent(h, data[n:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		comps = append(comps, c)

		next, ok := siblingPath(path, 1)
		if !ok {
			return comps, nil
		}
		if _, err := os.Stat(next); errors.Is(err, fs.ErrNotExist) {
			return comps, nil
		}
		if data, err = readAll(next); err != nil {
			return nil, err
		}
		path = next
	}
}

// siblingPath replaces the trailing number of the base name of path by the
// number offset steps further, keeping its zero padding.
func siblingPath(path string, offset int) (string, bool) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	i := len(stem)
	for i > 0 && stem[i-1] >= '0' && stem[i-1] <= '9' {
		i--
	}
	digits := stem[i:]
	if digits == "" || strings.ContainsRune(digits, filepath.Separator) {
		return "", false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s%0*d%s", stem[:i], len(digits), n+offset, ext), true
}

func loadIndex(path string, index []byte) ([]*layout.Component, error) {
	dir := filepath.Dir(path)
	var comps []*layout.Component
	sc := bufio.NewScanner(bytes.NewReader(index))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		hdr, err := readAll(name)
		if err != nil {
			return nil, err
		}
		h, _, err := ParseHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rawPath := strings.TrimSuffix(name, filepath.Ext(name)) + ".raw"
		data, err := readAll(rawPath)
		if err != nil {
			return nil, err
		}
		c, err := DecodeComponent(h, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rawPath, err)
		}
		comps = append(comps, c)
	}
	if err := sc.Err(); err != nil {
		return nil, layout.IOError("pgx", err)
	}
	if len(comps) == 0 {
		return nil, layout.Formatf("pgx", "index file %s lists no components", path)
	}
	return comps, nil
}

// assemble derives the subsampling of every component from its size
// relative to the largest component.
func assemble(comps []*layout.Component) (*layout.Image, error) {
	img := &layout.Image{Components: comps}
	for _, c := range comps {
		img.Width = max(img.Width, c.Width)
		img.Height = max(img.Height, c.Height)
	}
	for i, c := range comps {
		var ok bool
		if c.SubX, ok = inferSub(img.Width, c.Width); !ok {
			return nil, layout.Formatf("pgx", "component %d width %d is no subsampling of %d", i, c.Width, img.Width)
		}
		if c.SubY, ok = inferSub(img.Height, c.Height); !ok {
			return nil, layout.Formatf("pgx", "component %d height %d is no subsampling of %d", i, c.Height, img.Height)
		}
	}
	return img, nil
}

// inferSub finds the smallest factor s with ceil(full/s) == n.
func inferSub(full, n int) (int, bool) {
	for s := 1; s <= full; s++ {
		if (full+s-1)/s == n {
			return s, true
		}
	}
	return 0, false
}

// Save writes path as an index listing <base>_N.h, with the samples of
// component N in <base>_N.raw. Data is big endian unless specs asks for
// little endian.
func Save(path string, img *layout.Image, specs *layout.Specs) error {
	if err := img.Validate(); err != nil {
		return err
	}
	little := specs != nil && specs.LittleEndian.IsYes()
	base := strings.TrimSuffix(path, filepath.Ext(path))

	var index bytes.Buffer
	for i, c := range img.Components {
		h, data := EncodeComponent(c, little)
		stem := fmt.Sprintf("%s_%d", base, i)
		if err := writeBytes(stem+".h", []byte(h.String()+"\n")); err != nil {
			return err
		}
		if err := writeBytes(stem+".raw", data); err != nil {
			return err
		}
		fmt.Fprintln(&index, filepath.Base(stem)+".h")
	}
	return writeBytes(path, index.Bytes())
}

func writeBytes(path string, p []byte) error {
	return layout.WriteFile("pgx", path, func(w io.Writer) error {
		_, err := w.Write(p)
		return err
	})
}
