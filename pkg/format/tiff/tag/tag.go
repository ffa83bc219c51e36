// Package tag defines TIFF tag numbers, field types and the values of the
// enumerated tags.
package tag

// Tag identifies an IFD entry.
type Tag uint16

// Baseline and extension tags
const (
	NewSubfileType            Tag = 254
	ImageWidth                Tag = 256
	ImageLength               Tag = 257
	BitsPerSample             Tag = 258
	Compression               Tag = 259
	PhotometricInterpretation Tag = 262
	FillOrder                 Tag = 266
	ImageDescription          Tag = 270
	StripOffsets              Tag = 273
	Orientation               Tag = 274
	SamplesPerPixel           Tag = 277
	RowsPerStrip              Tag = 278
	StripByteCounts           Tag = 279
	XResolution               Tag = 282
	YResolution               Tag = 283
	PlanarConfiguration       Tag = 284
	ResolutionUnit            Tag = 296
	Software                  Tag = 305
	Predictor                 Tag = 317
	ColorMap                  Tag = 320
	TileWidth                 Tag = 322
	TileLength                Tag = 323
	TileOffsets               Tag = 324
	TileByteCounts            Tag = 325
	ExtraSamples              Tag = 338
	SampleFormat              Tag = 339
	YCbCrCoefficients         Tag = 529
	YCbCrSubSampling          Tag = 530
	YCbCrPositioning          Tag = 531
	ReferenceBlackWhite       Tag = 532
	StoNits                   Tag = 37439 // sample to nits (cd/m²) scale
)

// Type is the field type of an IFD entry.
type Type uint16

const (
	Byte      Type = 1
	ASCII     Type = 2
	Short     Type = 3
	Long      Type = 4
	Rational  Type = 5
	SByte     Type = 6
	Undefined Type = 7
	SShort    Type = 8
	SLong     Type = 9
	SRational Type = 10
	Float     Type = 11
	Double    Type = 12
)

// Size returns the length in bytes of one value, 0 for unknown types.
func (t Type) Size() int {
	switch t {
	case Byte, ASCII, SByte, Undefined:
		return 1
	case Short, SShort:
		return 2
	case Long, SLong, Float:
		return 4
	case Rational, SRational, Double:
		return 8
	}
	return 0
}

// Compression schemes
const (
	CompressionNone     = 1
	CompressionCCITT    = 2
	CompressionLZW      = 5
	CompressionJPEG     = 7
	CompressionDeflate  = 8
	CompressionPackBits = 32773
)

// Photometric interpretations
const (
	PhotometricMinIsWhite = 0
	PhotometricMinIsBlack = 1
	PhotometricRGB        = 2
	PhotometricPalette    = 3
	PhotometricMask       = 4
	PhotometricSeparated  = 5
	PhotometricYCbCr      = 6
	PhotometricCIELab     = 8
)

// Planar configurations
const (
	PlanarContig   = 1
	PlanarSeparate = 2
)

// Predictors
const (
	PredictorNone          = 1
	PredictorHorizontal    = 2
	PredictorFloatingPoint = 3
)

// Sample formats
const (
	SampleFormatUint         = 1
	SampleFormatInt          = 2
	SampleFormatFloat        = 3
	SampleFormatVoid         = 4
	SampleFormatComplexInt   = 5
	SampleFormatComplexFloat = 6
)

// Extra sample meanings
const (
	ExtraUnspecified     = 0
	ExtraAssociatedAlpha = 1
	ExtraUnassocAlpha    = 2
)

// Fill orders
const (
	FillOrderMSB2LSB = 1
	FillOrderLSB2MSB = 2
)
