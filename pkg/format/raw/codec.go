// Package raw reads and writes headerless sample data whose pixel layout is
// described by a small grammar appended to the file name after '@':
//
//	frame.raw@1920x1080x3:{10=0},{10=1},{10=2},{2}
//	frame.raw@640x480:[8=0]:[8=1]/2x2:[8=2]/2x2
//
// A field is {bits[s][f][+|-][=channel]} for interleaved samples or the
// same in square brackets for a plane stored on its own, optionally
// followed by /<sx>x<sy> subsampling. ':' starts a new group, ',' packs the
// next field into the same word. '-' selects little endian bytes with
// LSB-first bit fill, '+' (the default) big endian with MSB-first fill; a
// sign before the opening bracket sets the default of the whole group. A
// field without a channel is padding.
//
// The .yuv and .v210 extensions supply a layout when only the dimensions
// are given.
package raw

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Preset field lists by extension.
const (
	// planar 8 bit 4:2:0
	yuvFields = "[8=0]:[8=1]/2x2:[8=2]/2x2"
	// 6 pixels of 10 bit 4:2:2 in four little endian 32 bit words
	v210Fields = "-{10=1},{10=0},{10=2},{2}:-{10=0},{10=1},{10=0},{2}:" +
		"-{10=2},{10=0},{10=1},{2}:-{10=0},{10=2},{10=0},{2}"
	v210RowAlign = 128
)

// Codec implements layout.Codec for .raw, .craw, .yuv and .v210 files.
type Codec struct{}

func (Codec) Name() string { return "raw" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return Load(path, specs)
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return Save(path, img, specs)
}

// SplitPath separates the file name from the layout grammar after the last
// '@'. The grammar is empty when path has none.
func SplitPath(path string) (file, grammar string) {
	if i := strings.LastIndexByte(path, '@'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// LayoutFor resolves the layout of a file with extension ext. A grammar
// without fields takes the preset of the extension or, when img is given,
// the default layout of img. img also supplies missing dimensions.
func LayoutFor(ext, grammar string, img *layout.Image, specs *layout.Specs) (*Layout, error) {
	var l *Layout
	if grammar != "" {
		var err error
		if l, err = ParseLayout(grammar); err != nil {
			return nil, err
		}
		if len(l.Groups) > 0 {
			return l, nil
		}
	}
	var w, h int
	switch {
	case l != nil:
		w, h = l.Width, l.Height
	case img != nil:
		w, h = img.Width, img.Height
	default:
		return nil, layout.Formatf("raw", "no layout given, expected <file>@<w>x<h>[x<depth>]:<fields>")
	}

	var preset *Layout
	var err error
	switch strings.ToLower(ext) {
	case ".yuv":
		preset, err = ParseLayout(sprintLayout(w, h, yuvFields))
	case ".v210":
		if preset, err = ParseLayout(sprintLayout(w, h, v210Fields)); err == nil {
			preset.RowAlign = v210RowAlign
		}
	default:
		if img == nil {
			return nil, layout.Formatf("raw", "layout %q has no fields", grammar)
		}
		if img.Width != w || img.Height != h {
			return nil, layout.Formatf("raw", "layout %q does not match the %dx%d image", grammar, img.Width, img.Height)
		}
		return DefaultLayout(img, specs), nil
	}
	if err != nil {
		return nil, err
	}
	if l != nil && l.Depth != 0 && l.Depth != preset.Depth {
		return nil, layout.Formatf("raw", "%s files have %d components, not %d", ext, preset.Depth, l.Depth)
	}
	return preset, nil
}

func sprintLayout(w, h int, fields string) string {
	return fmt.Sprintf("%dx%d:%s", w, h, fields)
}

// DefaultLayout stores every component as its own plane, or interleaved
// when specs asks for it and nothing is subsampled.
func DefaultLayout(img *layout.Image, specs *layout.Specs) *Layout {
	var want layout.Specs
	if specs != nil {
		want = *specs
	}
	little := want.LittleEndian.IsYes()
	interleaved := want.Interleaved.IsYes()
	if interleaved && img.Subsampled() {
		slog.Warn("raw: subsampled components are written as separate planes")
		interleaved = false
	}
	l := &Layout{Width: img.Width, Height: img.Height, Depth: img.Depth()}
	for i, c := range img.Components {
		f := Field{
			Bits:         c.BitsPerSample,
			Signed:       c.Signed && !c.Float,
			Float:        c.Float,
			LittleEndian: little,
			Channel:      i,
			Separate:     !interleaved,
			SubX:         c.SubX,
			SubY:         c.SubY,
		}
		if interleaved {
			f.SubX, f.SubY = 1, 1
		}
		l.Groups = append(l.Groups, Group{
			Fields:       []Field{f},
			Bits:         f.Bits,
			LittleEndian: little,
			Separate:     f.Separate,
			SubX:         f.SubX,
			SubY:         f.SubY,
		})
	}
	return l
}

// Load reads path, which carries its layout after '@'.
func Load(path string, specs *layout.Specs) (*layout.Image, error) {
	file, grammar := SplitPath(path)
	ext := filepath.Ext(file)
	l, err := LayoutFor(ext, grammar, nil, nil)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, layout.IOError("raw", err)
	}
	img, err := Decode(data, l)
	if err != nil {
		return nil, err
	}
	if specs != nil {
		specs.Merge(inferSpecs(ext, l, img))
	}
	slog.Debug("raw: loaded image", "path", file, "layout", l.String())
	return img, nil
}

func inferSpecs(ext string, l *Layout, img *layout.Image) *layout.Specs {
	var interleaved, little bool
	for _, g := range l.Groups {
		interleaved = interleaved || !g.Separate
		little = little || g.LittleEndian
	}
	yuv := img.Depth() == 3 && img.Subsampled()
	switch strings.ToLower(ext) {
	case ".yuv", ".v210":
		yuv = true
	}
	return &layout.Specs{
		Interleaved:  layout.Bool(interleaved),
		LittleEndian: layout.Bool(little),
		YUVEncoded:   layout.Bool(yuv),
	}
}

// Save writes img to path. Without a grammar, or with dimensions only, the
// layout comes from the extension preset or DefaultLayout.
func Save(path string, img *layout.Image, specs *layout.Specs) error {
	if err := img.Validate(); err != nil {
		return err
	}
	file, grammar := SplitPath(path)
	l, err := LayoutFor(filepath.Ext(file), grammar, img, specs)
	if err != nil {
		return err
	}
	data, err := Encode(img, l)
	if err != nil {
		return err
	}
	slog.Debug("raw: saving image", "path", file, "layout", l.String())
	return layout.WriteFile("raw", file, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
