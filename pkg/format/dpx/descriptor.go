package dpx

import (
	"fmt"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Descriptor selects the channels of an element and their scan order.
type Descriptor uint8

const (
	DescUser       Descriptor = 0
	DescRed        Descriptor = 1
	DescGreen      Descriptor = 2
	DescBlue       Descriptor = 3
	DescAlpha      Descriptor = 4
	DescLuma       Descriptor = 6
	DescChroma     Descriptor = 7 // CbCr, horizontally subsampled
	DescDepth      Descriptor = 8
	DescComposite  Descriptor = 9
	DescRGB        Descriptor = 50
	DescRGBA       Descriptor = 51
	DescABGR       Descriptor = 52
	DescCbYCrY     Descriptor = 100
	DescCbYACrYA   Descriptor = 101
	DescCbYCr      Descriptor = 102
	DescCbYCrA     Descriptor = 103
	DescGeneric2   Descriptor = 150
	DescGeneric8   Descriptor = 156
	maxGenericSize            = 8
)

func (d Descriptor) String() string {
	switch d {
	case DescRed:
		return "R"
	case DescGreen:
		return "G"
	case DescBlue:
		return "B"
	case DescAlpha:
		return "A"
	case DescLuma:
		return "Y"
	case DescChroma:
		return "CbCr"
	case DescDepth:
		return "Z"
	case DescComposite:
		return "composite video"
	case DescRGB:
		return "RGB"
	case DescRGBA:
		return "RGBA"
	case DescABGR:
		return "ABGR"
	case DescCbYCrY:
		return "CbYCrY"
	case DescCbYACrYA:
		return "CbYACrYA"
	case DescCbYCr:
		return "CbYCr"
	case DescCbYCrA:
		return "CbYCrA"
	}
	if d >= DescGeneric2 && d <= DescGeneric8 {
		return fmt.Sprintf("generic %d", d.genericSize())
	}
	return fmt.Sprintf("descriptor %d", uint8(d))
}

func (d Descriptor) genericSize() int { return int(d-DescGeneric2) + 2 }

func genericDescriptor(n int) Descriptor { return DescGeneric2 + Descriptor(n-2) }

// Channel identifies the meaning of a datum.
type Channel uint8

const (
	ChanR Channel = iota
	ChanG
	ChanB
	ChanA
	ChanY
	ChanCb
	ChanCr
	ChanZ
	// ChanGeneric+i is channel i of a generic element.
	ChanGeneric
)

func (c Channel) String() string {
	switch c {
	case ChanR:
		return "R"
	case ChanG:
		return "G"
	case ChanB:
		return "B"
	case ChanA:
		return "A"
	case ChanY:
		return "Y"
	case ChanCb:
		return "Cb"
	case ChanCr:
		return "Cr"
	case ChanZ:
		return "Z"
	}
	return fmt.Sprintf("generic %d", int(c-ChanGeneric))
}

// rank orders decoded channels: colour first in R,G,B or Y,Cb,Cr order,
// then depth and generic channels as they appear, alpha last.
func (c Channel) rank() (class, sub int) {
	switch c {
	case ChanR, ChanY:
		return 0, 0
	case ChanG, ChanCb:
		return 0, 1
	case ChanB, ChanCr:
		return 0, 2
	case ChanA:
		return 2, 0
	}
	return 1, 0
}

// scan is the repeating channel sequence of a descriptor. One sequence
// covers tuple pixels.
type scan struct {
	chans []Channel
	tuple int
}

// count returns how often ch occurs in the sequence.
func (s scan) count(ch Channel) int {
	n := 0
	for _, c := range s.chans {
		if c == ch {
			n++
		}
	}
	return n
}

// sub is the horizontal subsampling of ch along the line.
func (s scan) sub(ch Channel) int { return s.tuple / s.count(ch) }

func scanOf(d Descriptor) (scan, error) {
	one := func(chans ...Channel) scan { return scan{chans: chans, tuple: 1} }
	switch d {
	case DescRed:
		return one(ChanR), nil
	case DescGreen:
		return one(ChanG), nil
	case DescBlue:
		return one(ChanB), nil
	case DescAlpha:
		return one(ChanA), nil
	case DescLuma:
		return one(ChanY), nil
	case DescChroma:
		return scan{chans: []Channel{ChanCb, ChanCr}, tuple: 2}, nil
	case DescDepth:
		return one(ChanZ), nil
	case DescRGB:
		return one(ChanR, ChanG, ChanB), nil
	case DescRGBA:
		return one(ChanR, ChanG, ChanB, ChanA), nil
	case DescABGR:
		return one(ChanA, ChanB, ChanG, ChanR), nil
	case DescCbYCrY:
		return scan{chans: []Channel{ChanCb, ChanY, ChanCr, ChanY}, tuple: 2}, nil
	case DescCbYACrYA:
		return scan{chans: []Channel{ChanCb, ChanY, ChanA, ChanCr, ChanY, ChanA}, tuple: 2}, nil
	case DescCbYCr:
		return one(ChanCb, ChanY, ChanCr), nil
	case DescCbYCrA:
		return one(ChanCb, ChanY, ChanCr, ChanA), nil
	case DescComposite:
		// not defined well enough by SMPTE 268M to decode
		return scan{}, layout.Unsupportedf("dpx", "composite video descriptor %d", uint8(d))
	}
	if d >= DescGeneric2 && d <= DescGeneric8 {
		s := scan{tuple: 1}
		for i := range d.genericSize() {
			s.chans = append(s.chans, ChanGeneric+Channel(i))
		}
		return s, nil
	}
	return scan{}, layout.Unsupportedf("dpx", "descriptor %d", uint8(d))
}

// ycbcr reports whether the descriptor carries luma or chroma.
func (d Descriptor) ycbcr() bool {
	switch d {
	case DescLuma, DescChroma, DescCbYCrY, DescCbYACrYA, DescCbYCr, DescCbYCrA:
		return true
	}
	return false
}
