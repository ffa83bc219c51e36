package tiff

import (
	"github.com/jpfielding/imgdiff.go/pkg/compress/lzw"
	"github.com/jpfielding/imgdiff.go/pkg/compress/rle"
	"github.com/jpfielding/imgdiff.go/pkg/format/tiff/tag"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// BlockDecoder expands the compressed bytes of one strip or tile into
// exactly size bytes. MaxExpansion bounds the decoded bytes per input byte.
type BlockDecoder interface {
	Decode(src []byte, size int) ([]byte, error)
	Name() string
	MaxExpansion() int
}

// NewBlockDecoder selects the decoder for a compression tag value.
func NewBlockDecoder(compression uint64) (BlockDecoder, error) {
	switch compression {
	case tag.CompressionNone:
		return trivialDecoder{}, nil
	case tag.CompressionPackBits:
		return packBitsDecoder{}, nil
	case tag.CompressionLZW:
		return lzwDecoder{}, nil
	}
	return nil, layout.Unsupportedf("tiff", "compression %d", compression)
}

type trivialDecoder struct{}

func (trivialDecoder) Name() string      { return "none" }
func (trivialDecoder) MaxExpansion() int { return 1 }

func (trivialDecoder) Decode(src []byte, size int) ([]byte, error) {
	if len(src) < size {
		return nil, layout.Truncated("tiff", "uncompressed block")
	}
	return src[:size], nil
}

type packBitsDecoder struct{}

func (packBitsDecoder) Name() string { return "packbits" }

// a two byte run yields at most 128 bytes
func (packBitsDecoder) MaxExpansion() int { return 64 }

func (packBitsDecoder) Decode(src []byte, size int) ([]byte, error) {
	out, err := rle.DecodePackBits(src, size)
	if err != nil {
		return nil, layout.Wrap("tiff: packbits", err)
	}
	return out, nil
}

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "lzw" }

// a 9 bit code yields at most one full table entry
func (lzwDecoder) MaxExpansion() int { return 4096 }

func (lzwDecoder) Decode(src []byte, size int) ([]byte, error) {
	out, err := lzw.Decode(src, size)
	if err != nil {
		return nil, layout.Wrap("tiff: lzw", err)
	}
	return out, nil
}
