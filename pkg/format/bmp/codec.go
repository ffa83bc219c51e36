// Package bmp reads and writes Windows and OS/2 bitmaps: 1 to 32 bits per
// pixel, palettes, channel bitfields and RLE4/RLE8 compression.
//
// A palette whose entries are all grey decodes to a single component. When
// the palette is the evenly spaced ramp of 2^k entries that the encoder
// writes, the component holds the k bit indices, so grey images of 1 to 8
// bits survive a round trip unchanged.
package bmp

import (
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec for .bmp files.
type Codec struct{}

func (Codec) Name() string { return "bmp" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("bmp", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("bmp", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}
