package dpx

import (
	"errors"
	"fmt"
	"io"
	"math"
	"log/slog"
	"sort"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// channelKey identifies a decoded channel. Generic channels belong to
// their element, the others are shared by all elements.
type channelKey struct {
	ch      Channel
	element int
}

type channelInfo struct {
	key    channelKey
	order  int
	bits   int
	signed bool
	float  bool
	sub    int
	comp   *layout.Component
}

// Decode reads a DPX image.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, layout.IOError("dpx", err)
	}
	return DecodeBytes(data, specs)
}

// DecodeBytes decodes a complete DPX file held in memory.
func DecodeBytes(data []byte, specs *layout.Specs) (*layout.Image, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.EncryptionKey != encryptOff {
		slog.Warn("dpx: encryption key set, reading the data as is", "key", h.EncryptionKey)
	}
	slog.Debug("dpx: header", "version", h.Version, "width", h.PixelsPerLine, "lines", h.LinesPerImage,
		"elements", len(h.Elements), "orientation", h.Orientation, "little_endian", h.LittleEndian)

	chans, scans, err := collectChannels(h)
	if err != nil {
		return nil, err
	}
	if err := checkPayload(h, scans, len(data)); err != nil {
		return nil, err
	}
	width, lines := int(h.PixelsPerLine), int(h.LinesPerImage)
	img := layout.NewImage(width, lines)
	for _, ci := range chans {
		if ci.comp, err = img.AddComponent(ci.bits, ci.signed, ci.float, ci.sub, 1); err != nil {
			return nil, err
		}
		if ci.key.ch == ChanA {
			img.Alpha++
		}
	}
	byKey := make(map[channelKey]*channelInfo, len(chans))
	for _, ci := range chans {
		byKey[ci.key] = ci
	}

	r := bitio.NewReader(data, h.context())
	for i := range h.Elements {
		if err := readElement(r, h, i, scans[i], byKey); err != nil {
			if errors.Is(err, bitio.ErrShortBuffer) {
				return nil, layout.Truncated("dpx", "element data")
			}
			return nil, err
		}
	}

	img = reorient(img, h.Orientation)
	if specs != nil {
		inferSpecs(h, img, specs)
	}
	return img, nil
}

// checkPayload rejects headers whose uncompressed elements cannot fit in
// size bytes, before any buffer is sized from them. Datums are counted at
// their packed size, the least any packing occupies.
func checkPayload(h *Header, scans []scan, size int) error {
	width, lines := int64(h.PixelsPerLine), int64(h.LinesPerImage)
	for i := range h.Elements {
		e := &h.Elements[i]
		if e.RLE() {
			continue
		}
		offset := e.DataOffset
		if offset == Undefined || offset == 0 {
			offset = h.ImageOffset
		}
		s := scans[i]
		tuples := (width + int64(s.tuple) - 1) / int64(s.tuple)
		lineBytes := (tuples*int64(len(s.chans))*int64(e.BitSize) + 7) / 8
		need := int64(math.MaxInt64)
		if lineBytes == 0 || lines <= (math.MaxInt64-int64(offset))/lineBytes {
			need = int64(offset) + lines*lineBytes
		}
		if err := layout.NeedBytes("dpx", fmt.Sprintf("element %d data", i), need, int64(size)); err != nil {
			return err
		}
	}
	return nil
}

// collectChannels allocates one channel per distinct channel referenced by
// any element and orders them for the decoded image.
func collectChannels(h *Header) ([]*channelInfo, []scan, error) {
	var chans []*channelInfo
	seen := map[channelKey]*channelInfo{}
	scans := make([]scan, len(h.Elements))
	for i := range h.Elements {
		e := &h.Elements[i]
		s, err := scanOf(e.Descriptor)
		if err != nil {
			return nil, nil, err
		}
		scans[i] = s
		for _, ch := range s.chans {
			key := channelKey{ch: ch}
			if ch >= ChanGeneric {
				key.element = i
			}
			ci := &channelInfo{
				key:    key,
				order:  len(chans),
				bits:   e.trueBits(),
				signed: e.Signed || e.Float(),
				float:  e.Float(),
				sub:    s.sub(ch),
			}
			if prev, ok := seen[key]; ok {
				if prev.bits != ci.bits || prev.signed != ci.signed || prev.float != ci.float || prev.sub != ci.sub {
					return nil, nil, layout.Formatf("dpx", "channel %s is described differently by two elements", ch)
				}
				continue
			}
			seen[key] = ci
			chans = append(chans, ci)
		}
	}
	sort.SliceStable(chans, func(a, b int) bool {
		ca, sa := chans[a].key.ch.rank()
		cb, sb := chans[b].key.ch.rank()
		if ca != cb {
			return ca < cb
		}
		if ca == 1 {
			return chans[a].order < chans[b].order
		}
		return sa < sb
	})
	return chans, scans, nil
}

func readElement(r *bitio.Reader, h *Header, i int, s scan, chans map[channelKey]*channelInfo) error {
	e := &h.Elements[i]
	offset := e.DataOffset
	if offset == Undefined || offset == 0 {
		if i > 0 {
			return layout.Formatf("dpx", "element %d has no data offset", i)
		}
		offset = h.ImageOffset
	}
	if err := r.Seek(int(offset)); err != nil {
		return layout.Truncated("dpx", "element data")
	}
	d := newDatumReader(r, e)
	width, lines := int(h.PixelsPerLine), int(h.LinesPerImage)
	tuples := (width + s.tuple - 1) / s.tuple

	slots := make([]*channelInfo, len(s.chans))
	counts := make([]int, len(s.chans))
	for j, ch := range s.chans {
		key := channelKey{ch: ch}
		if ch >= ChanGeneric {
			key.element = i
		}
		slots[j] = chans[key]
		counts[j] = s.count(ch)
	}
	occ := make(map[Channel]int, len(s.chans))
	mask := bitio.Mask(int(e.BitSize))
	for y := range lines {
		for t := range tuples {
			clear(occ)
			for j, ch := range s.chans {
				v, err := d.next()
				if err != nil {
					return err
				}
				x := t*counts[j] + occ[ch]
				occ[ch]++
				c := slots[j].comp
				if x >= c.Width {
					continue
				}
				if c.Float {
					c.SetRaw(x, y, v)
				} else {
					c.SetRaw(x, y, v&mask&bitio.Mask(c.BitsPerSample))
				}
			}
		}
		if err := d.endLine(e.EOLPadding); err != nil {
			return err
		}
	}
	return nil
}

// reorient maps components stored in scan order to left to right, top to
// bottom. A transposed image swaps its dimensions and subsampling axes.
func reorient(img *layout.Image, o Orientation) *layout.Image {
	if o == 0 {
		return img
	}
	out := &layout.Image{Width: img.Width, Height: img.Height, Alpha: img.Alpha}
	if o&Transpose != 0 {
		out.Width, out.Height = img.Height, img.Width
	}
	for _, c := range img.Components {
		n := *c
		if o&Transpose != 0 {
			n.Width, n.Height = c.Height, c.Width
			n.SubX, n.SubY = c.SubY, c.SubX
			n.BytesPerRow = n.Width * n.BytesPerPixel
		}
		n.Data = make([]byte, len(c.Data))
		for v := range c.Height {
			for u := range c.Width {
				x, y := u, v
				if o&Transpose != 0 {
					x, y = v, u
				}
				if o&FlipX != 0 {
					x = n.Width - 1 - x
				}
				if o&FlipY != 0 {
					y = n.Height - 1 - y
				}
				n.SetRaw(x, y, c.Raw(u, v))
			}
		}
		out.Components = append(out.Components, &n)
	}
	return out
}

func inferSpecs(h *Header, img *layout.Image, specs *layout.Specs) {
	specs.LittleEndian = layout.Bool(h.LittleEndian)
	var rle, interleaved, yuv bool
	for i := range h.Elements {
		e := &h.Elements[i]
		rle = rle || e.RLE()
		yuv = yuv || e.Descriptor.ycbcr()
		s, _ := scanOf(e.Descriptor)
		interleaved = interleaved || len(s.chans) > 1
		if !e.Float() && e.RefLowData != Undefined && specs.FullRange == layout.Unspecified {
			specs.FullRange = layout.Bool(e.RefLowData == 0)
		}
	}
	specs.RunLength = layout.Bool(rle)
	specs.Interleaved = layout.Bool(interleaved)
	specs.YUVEncoded = layout.Bool(yuv)
}
