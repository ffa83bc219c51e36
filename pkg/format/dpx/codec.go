// Package dpx reads and writes SMPTE 268M Digital Picture Exchange files,
// versions 1.0 and 2.0, in either byte order.
//
// An image is stored in up to eight elements. The descriptor of an element
// fixes which channels it carries and in which order, e.g. 50 for R,G,B
// triplets or 100 for Cb,Y,Cr,Y quadruplets of 4:2:2 video. Decoding gives
// one component per distinct channel, colour channels first and alpha
// last. Encoding derives the descriptors from the component layout, see
// PlanElements.
package dpx

import (
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Codec implements layout.StreamCodec for .dpx files.
type Codec struct{}

func (Codec) Name() string { return "dpx" }

func (Codec) Load(path string, specs *layout.Specs) (*layout.Image, error) {
	return layout.ReadFile("dpx", path, func(r io.Reader) (*layout.Image, error) {
		return Decode(r, specs)
	})
}

func (Codec) Save(path string, img *layout.Image, specs *layout.Specs) error {
	return layout.WriteFile("dpx", path, func(w io.Writer) error {
		return Encode(w, img, specs)
	})
}

func (Codec) Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	return Decode(r, specs)
}

func (Codec) Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	return Encode(w, img, specs)
}
