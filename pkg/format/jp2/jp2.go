// Package jp2 reads and writes JPEG 2000 files, either the JP2 container or
// a bare J2K codestream. Images are written losslessly with the reversible
// 5/3 wavelet.
package jp2

import (
	"io"

	"github.com/mrjoshuak/go-jpeg2000"

	"github.com/jpfielding/imgdiff.go/pkg/format/bridge"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec. Format selects the container
// written by Save and Encode; decoding detects either.
type Codec struct {
	Format jpeg2000.Format
}

func (c Codec) Name() string {
	if c.Format == jpeg2000.FormatJ2K {
		return "j2k"
	}
	return "jp2"
}

func (c Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile(c.Name(), path, func(r io.Reader) (*layout.Image, error) {
		return c.Decode(r, specs)
	})
}

func (c Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile(c.Name(), path, func(w io.Writer) error {
		return c.Encode(w, img, specs)
	})
}

func (c Codec) Decode(r io.Reader, _ *layout.Specs) (*layout.Image, error) {
	m, err := jpeg2000.Decode(r)
	if err != nil {
		return nil, layout.Wrap(c.Name(), err)
	}
	return bridge.FromImage(m)
}

// Encode writes one or three components of up to 16 bits. The coder has no
// alpha channel.
func (c Codec) Encode(w io.Writer, img *layout.Image, _ *layout.Specs) error {
	if img.Alpha > 0 {
		return layout.Unsupportedf(c.Name(), "alpha components")
	}
	m, err := bridge.ToImage(c.Name(), img)
	if err != nil {
		return err
	}
	opts := jpeg2000.DefaultOptions()
	opts.Format = c.Format
	opts.Lossless = true
	if err := jpeg2000.Encode(w, m, opts); err != nil {
		return layout.Wrap(c.Name(), err)
	}
	return nil
}
