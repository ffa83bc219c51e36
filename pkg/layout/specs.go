package layout

import "io"

// Option is a tri-state hint exchanged between readers and writers.
type Option int

const (
	Unspecified Option = iota
	Yes
	No
)

func (o Option) String() string {
	switch o {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "unspecified"
}

// IsYes reports an explicit Yes.
func (o Option) IsYes() bool { return o == Yes }

// IsNo reports an explicit No.
func (o Option) IsNo() bool { return o == No }

// Or returns o unless it is Unspecified, in which case def.
func (o Option) Or(def bool) bool {
	switch o {
	case Yes:
		return true
	case No:
		return false
	}
	return def
}

// Bool converts a boolean into Yes or No.
func Bool(b bool) Option {
	if b {
		return Yes
	}
	return No
}

// Specs carries the hints a reader could infer and a writer should honor.
// Writers pick their own format specific default for Unspecified fields.
type Specs struct {
	ASCII        Option
	Interleaved  Option
	YUVEncoded   Option
	Palettized   Option
	LittleEndian Option
	FullRange    Option
	RunLength    Option
	// RadianceScale converts stored values to radiance (cd/m²); zero if unknown.
	RadianceScale float64
}

// Merge fills the unspecified fields of s from o. Explicit settings of s win.
func (s *Specs) Merge(o *Specs) {
	if o == nil {
		return
	}
	merge := func(dst *Option, src Option) {
		if *dst == Unspecified {
			*dst = src
		}
	}
	merge(&s.ASCII, o.ASCII)
	merge(&s.Interleaved, o.Interleaved)
	merge(&s.YUVEncoded, o.YUVEncoded)
	merge(&s.Palettized, o.Palettized)
	merge(&s.LittleEndian, o.LittleEndian)
	merge(&s.FullRange, o.FullRange)
	merge(&s.RunLength, o.RunLength)
	if s.RadianceScale == 0 {
		s.RadianceScale = o.RadianceScale
	}
}

// Codec loads and saves one file format.
type Codec interface {
	// Name returns the format identifier, e.g. "bmp".
	Name() string
	// Load decodes the file at path; specs, if not nil, receives what the
	// reader could infer.
	Load(path string, specs *Specs) (*Image, error)
	// Save encodes img to path honoring the explicit settings in specs.
	Save(path string, img *Image, specs *Specs) error
}

// StreamCodec is implemented by formats that live in a single stream and can
// therefore be wrapped, e.g. by gzip.
type StreamCodec interface {
	Codec
	Decode(r io.Reader, specs *Specs) (*Image, error)
	Encode(w io.Writer, img *Image, specs *Specs) error
}
