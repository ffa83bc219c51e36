package raw

import (
	"math"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Channel is the sample encoding of one component as a layout defines it.
type Channel struct {
	Bits       int
	Signed     bool
	Float      bool
	SubX, SubY int
	Separate   bool
}

// segment is a stretch of the file covering the whole image: either a run
// of interleaved groups repeated per pixel tuple, or one separate plane.
type segment struct {
	groups   []Group
	separate bool
	subX     int
	subY     int
	// interleaved only: occurrences per tuple of each channel and the
	// number of pixels one tuple spans
	counts []int
	tuple  int
}

// Channels derives the encoding of every component. A channel that appears
// n times in a tuple of interleaved fields where the most frequent channel
// appears m times is horizontally subsampled by m/n, rounded down.
func (l *Layout) Channels() ([]Channel, error) {
	chans := make([]Channel, l.Depth)
	defined := make([]bool, l.Depth)
	for _, seg := range l.segments() {
		for _, g := range seg.groups {
			for _, f := range g.Fields {
				if f.Channel == Padding {
					continue
				}
				if f.Channel >= l.Depth {
					return nil, layout.Formatf("raw", "channel %d out of range for depth %d", f.Channel, l.Depth)
				}
				ch := Channel{
					Bits:     f.Bits,
					Signed:   f.Signed || f.Float,
					Float:    f.Float,
					SubX:     f.SubX,
					SubY:     f.SubY,
					Separate: f.Separate,
				}
				if !f.Separate {
					ch.SubX, ch.SubY = seg.tuple/seg.counts[f.Channel], 1
				}
				if !defined[f.Channel] {
					chans[f.Channel], defined[f.Channel] = ch, true
					continue
				}
				prev := chans[f.Channel]
				switch {
				case prev.Separate || ch.Separate:
					return nil, layout.Formatf("raw", "channel %d is defined by more than one plane", f.Channel)
				case prev.Bits != ch.Bits:
					return nil, layout.Formatf("raw", "channel %d declared with %d and %d bits", f.Channel, prev.Bits, ch.Bits)
				case prev.Signed != ch.Signed || prev.Float != ch.Float:
					return nil, layout.Formatf("raw", "channel %d declared with different sample formats", f.Channel)
				case prev.SubX != ch.SubX:
					return nil, layout.Formatf("raw", "channel %d appears in more than one interleaved run", f.Channel)
				}
			}
		}
	}
	for i, ok := range defined {
		if !ok {
			return nil, layout.Formatf("raw", "channel %d is not defined by any field", i)
		}
	}
	return chans, nil
}

// segments splits the groups into interleaved runs and separate planes.
func (l *Layout) segments() []segment {
	var segs []segment
	for _, g := range l.Groups {
		if g.Separate {
			segs = append(segs, segment{groups: []Group{g}, separate: true, subX: g.SubX, subY: g.SubY})
			continue
		}
		if n := len(segs); n > 0 && !segs[n-1].separate {
			segs[n-1].groups = append(segs[n-1].groups, g)
			continue
		}
		segs = append(segs, segment{groups: []Group{g}, subX: 1, subY: 1})
	}
	for i := range segs {
		s := &segs[i]
		if s.separate {
			continue
		}
		s.counts = make([]int, l.Depth+1)
		s.tuple = 1
		for _, g := range s.groups {
			for _, f := range g.Fields {
				if f.Channel == Padding || f.Channel >= l.Depth {
					continue
				}
				s.counts[f.Channel]++
				s.tuple = max(s.tuple, s.counts[f.Channel])
			}
		}
	}
	return segs
}

// MinBytes is the least data the layout reads: every row byte aligned but
// without row alignment padding. It saturates at math.MaxInt64.
func (l *Layout) MinBytes() int64 {
	var total int64
	for _, seg := range l.segments() {
		perRow, rows := int64(0), int64(l.Height)
		if seg.separate {
			cw := int64((l.Width + seg.subX - 1) / seg.subX)
			rows = int64((l.Height + seg.subY - 1) / seg.subY)
			perRow = mulSat(cw, int64(seg.groups[0].Bits))
		} else {
			var tupleBits int64
			for _, g := range seg.groups {
				tupleBits += int64(g.Bits)
			}
			perRow = mulSat(int64((l.Width+seg.tuple-1)/seg.tuple), tupleBits)
		}
		total = addSat(total, mulSat(perRow/8+min(perRow%8, 1), rows))
	}
	return total
}

func mulSat(a, b int64) int64 {
	if a != 0 && b > math.MaxInt64/a {
		return math.MaxInt64
	}
	return a * b
}

func addSat(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// NewImage allocates an image matching the layout.
func (l *Layout) NewImage() (*layout.Image, error) {
	chans, err := l.Channels()
	if err != nil {
		return nil, err
	}
	img := layout.NewImage(l.Width, l.Height)
	for _, ch := range chans {
		if _, err := img.AddComponent(ch.Bits, ch.Signed, ch.Float, ch.SubX, ch.SubY); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Check verifies that img can be written with the layout.
func (l *Layout) Check(img *layout.Image) error {
	if img.Width != l.Width || img.Height != l.Height {
		return layout.Formatf("raw", "image is %dx%d, layout describes %dx%d", img.Width, img.Height, l.Width, l.Height)
	}
	if img.Depth() != l.Depth {
		return layout.Formatf("raw", "image has %d components, layout describes %d", img.Depth(), l.Depth)
	}
	chans, err := l.Channels()
	if err != nil {
		return err
	}
	for i, ch := range chans {
		c := img.Components[i]
		if c.BitsPerSample != ch.Bits || c.Float != ch.Float || (c.Signed != ch.Signed && !c.Float) {
			return layout.Formatf("raw", "component %d sample format does not match the %d bit field of the layout", i, ch.Bits)
		}
		if c.SubX != ch.SubX || c.SubY != ch.SubY {
			return layout.Formatf("raw", "component %d subsampling %dx%d does not match the layout %dx%d",
				i, c.SubX, c.SubY, ch.SubX, ch.SubY)
		}
	}
	return nil
}
