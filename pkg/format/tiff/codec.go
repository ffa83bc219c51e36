// Package tiff reads and writes classic (32 bit offset) TIFF files: strips
// or tiles, contiguous or separate planes, no compression, LZW or PackBits,
// grey, RGB, palette, YCbCr and generic multi-sample images of any bit depth
// up to 64, integer or IEEE float.
package tiff

import (
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec for .tif/.tiff files.
type Codec struct{}

func (Codec) Name() string { return "tiff" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("tiff", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("tiff", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}
