package tag

import (
	"encoding/json"
	"fmt"
)

var names = map[Tag]string{
	NewSubfileType:            "NewSubfileType",
	ImageWidth:                "ImageWidth",
	ImageLength:               "ImageLength",
	BitsPerSample:             "BitsPerSample",
	Compression:               "Compression",
	PhotometricInterpretation: "PhotometricInterpretation",
	FillOrder:                 "FillOrder",
	ImageDescription:          "ImageDescription",
	StripOffsets:              "StripOffsets",
	Orientation:               "Orientation",
	SamplesPerPixel:           "SamplesPerPixel",
	RowsPerStrip:              "RowsPerStrip",
	StripByteCounts:           "StripByteCounts",
	XResolution:               "XResolution",
	YResolution:               "YResolution",
	PlanarConfiguration:       "PlanarConfiguration",
	ResolutionUnit:            "ResolutionUnit",
	Software:                  "Software",
	Predictor:                 "Predictor",
	ColorMap:                  "ColorMap",
	TileWidth:                 "TileWidth",
	TileLength:                "TileLength",
	TileOffsets:               "TileOffsets",
	TileByteCounts:            "TileByteCounts",
	ExtraSamples:              "ExtraSamples",
	SampleFormat:              "SampleFormat",
	YCbCrCoefficients:         "YCbCrCoefficients",
	YCbCrSubSampling:          "YCbCrSubSampling",
	YCbCrPositioning:          "YCbCrPositioning",
	ReferenceBlackWhite:       "ReferenceBlackWhite",
	StoNits:                   "StoNits",
}

// String returns the tag name, or its number for unknown tags
func (t Tag) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("Tag(%d)", uint16(t))
}

// Known reports whether the tag is one this package names
func (t Tag) Known() bool {
	_, ok := names[t]
	return ok
}

// MarshalJSON returns a JSON representation of the Tag
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
