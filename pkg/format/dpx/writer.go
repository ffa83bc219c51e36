package dpx

import (
	"io"
	"log/slog"
	"time"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// elementPlan maps the channels of one descriptor to image components.
type elementPlan struct {
	desc  Descriptor
	comps map[Channel]int
}

// components lists the distinct components of the element in scan order.
func (p *elementPlan) components(s scan) []int {
	var out []int
	seen := map[int]bool{}
	for _, ch := range s.chans {
		if i := p.comps[ch]; !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// PlanElements derives the element descriptors that store img. Interleaved
// descriptors are preferred whenever the channels they combine share their
// precision; specs can ask for separate elements instead.
func PlanElements(img *layout.Image, specs *layout.Specs) ([]Descriptor, error) {
	plans, err := planElements(img, specsOrZero(specs))
	if err != nil {
		return nil, err
	}
	descs := make([]Descriptor, len(plans))
	for i, p := range plans {
		descs[i] = p.desc
	}
	return descs, nil
}

func specsOrZero(specs *layout.Specs) layout.Specs {
	if specs == nil {
		return layout.Specs{}
	}
	return *specs
}

func planElements(img *layout.Image, specs layout.Specs) ([]elementPlan, error) {
	if img.Alpha > 1 {
		return nil, layout.Unsupportedf("dpx", "%d alpha components, at most 1", img.Alpha)
	}
	n := img.Depth() - img.Alpha
	alpha := -1
	if img.Alpha == 1 {
		alpha = n
	}
	interleave := !specs.Interleaved.IsNo()

	var plans []elementPlan
	var err error
	switch {
	case n == 3 && isYCbCr(img, specs):
		plans, err = planYCbCr(img, alpha, interleave)
	case img.Subsampled():
		return nil, layout.Unsupportedf("dpx", "subsampled components outside a 3 component YCbCr image")
	case n == 3:
		plans = planRGB(img, alpha, interleave)
	case n == 1:
		plans = []elementPlan{{desc: DescLuma, comps: map[Channel]int{ChanY: 0}}}
		plans = withAlpha(plans, alpha)
	default:
		if plans, err = planGeneric(img, 0, n); err == nil {
			plans = withAlpha(plans, alpha)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(plans) > maxElements {
		return nil, layout.Unsupportedf("dpx", "image needs %d elements, at most %d", len(plans), maxElements)
	}
	return plans, nil
}

func isYCbCr(img *layout.Image, specs layout.Specs) bool {
	if specs.YUVEncoded.IsNo() {
		return false
	}
	if specs.YUVEncoded.IsYes() {
		return true
	}
	for _, c := range img.Components[1:3] {
		if c.SubX != 1 || c.SubY != 1 {
			return true
		}
	}
	return false
}

func withAlpha(plans []elementPlan, alpha int) []elementPlan {
	if alpha < 0 {
		return plans
	}
	return append(plans, elementPlan{desc: DescAlpha, comps: map[Channel]int{ChanA: alpha}})
}

func planYCbCr(img *layout.Image, alpha int, interleave bool) ([]elementPlan, error) {
	y, cb, cr := img.Components[0], img.Components[1], img.Components[2]
	if !cb.SameEncoding(cr) {
		return nil, layout.Formatf("dpx", "inconsistent chroma bit depths, Cb %d bit and Cr %d bit", cb.BitsPerSample, cr.BitsPerSample)
	}
	if cb.SubX != cr.SubX || cb.SubY != cr.SubY {
		return nil, layout.Formatf("dpx", "Cb and Cr subsampling differ, %dx%d and %dx%d", cb.SubX, cb.SubY, cr.SubX, cr.SubY)
	}
	if y.SubX != 1 || y.SubY != 1 {
		return nil, layout.Unsupportedf("dpx", "luma subsampling %dx%d", y.SubX, y.SubY)
	}
	if a := alpha; a >= 0 && (img.Components[a].SubX != 1 || img.Components[a].SubY != 1) {
		return nil, layout.Unsupportedf("dpx", "subsampled alpha")
	}
	var yuv422 bool
	switch {
	case cb.SubX == 2 && cb.SubY == 1:
		yuv422 = true
	case cb.SubX == 1 && cb.SubY == 1:
	default:
		return nil, layout.Unsupportedf("dpx", "chroma subsampling %dx%d", cb.SubX, cb.SubY)
	}

	ycc := map[Channel]int{ChanY: 0, ChanCb: 1, ChanCr: 2}
	if interleave && img.Uniform(0, 2) {
		if alpha >= 0 && img.Components[alpha].SameEncoding(y) {
			ycc[ChanA] = alpha
			desc := DescCbYCrA
			if yuv422 {
				desc = DescCbYACrYA
			}
			return []elementPlan{{desc: desc, comps: ycc}}, nil
		}
		desc := DescCbYCr
		if yuv422 {
			desc = DescCbYCrY
		}
		return withAlpha([]elementPlan{{desc: desc, comps: ycc}}, alpha), nil
	}

	plans := []elementPlan{{desc: DescLuma, comps: map[Channel]int{ChanY: 0}}}
	if yuv422 {
		plans = append(plans, elementPlan{desc: DescChroma, comps: map[Channel]int{ChanCb: 1, ChanCr: 2}})
	} else {
		plans = append(plans, elementPlan{desc: genericDescriptor(2), comps: map[Channel]int{ChanGeneric: 1, ChanGeneric + 1: 2}})
	}
	return withAlpha(plans, alpha), nil
}

func planRGB(img *layout.Image, alpha int, interleave bool) []elementPlan {
	if interleave && img.Uniform(0, 2) {
		rgb := map[Channel]int{ChanR: 0, ChanG: 1, ChanB: 2}
		if alpha >= 0 && img.Components[alpha].SameEncoding(img.Components[0]) {
			rgb[ChanA] = alpha
			return []elementPlan{{desc: DescRGBA, comps: rgb}}
		}
		return withAlpha([]elementPlan{{desc: DescRGB, comps: rgb}}, alpha)
	}
	return withAlpha([]elementPlan{
		{desc: DescRed, comps: map[Channel]int{ChanR: 0}},
		{desc: DescGreen, comps: map[Channel]int{ChanG: 1}},
		{desc: DescBlue, comps: map[Channel]int{ChanB: 2}},
	}, alpha)
}

// planGeneric covers components first..last-1 with generic elements of up
// to eight channels sharing their precision. A lone component is stored as
// luma when it is the first one and as depth otherwise, so that decoding
// keeps the component order. Only one lone component can be depth.
func planGeneric(img *layout.Image, first, last int) ([]elementPlan, error) {
	var plans []elementPlan
	depth := false
	for i := first; i < last; {
		j := i + 1
		for j < last && j-i < maxGenericSize && img.Components[j].SameEncoding(img.Components[i]) {
			j++
		}
		switch {
		case j-i > 1:
			p := elementPlan{desc: genericDescriptor(j - i), comps: map[Channel]int{}}
			for k := i; k < j; k++ {
				p.comps[ChanGeneric+Channel(k-i)] = k
			}
			plans = append(plans, p)
		case i == 0:
			plans = append(plans, elementPlan{desc: DescLuma, comps: map[Channel]int{ChanY: i}})
		case depth:
			return nil, layout.Unsupportedf("dpx", "component %d differs in precision from its neighbours, only one such component fits", i)
		default:
			depth = true
			plans = append(plans, elementPlan{desc: DescDepth, comps: map[Channel]int{ChanZ: i}})
		}
		i = j
	}
	return plans, nil
}

// datumBits is the DPX bit size able to hold samples of the component.
func datumBits(c *layout.Component) (int, error) {
	if c.Float {
		if c.BitsPerSample == 16 {
			return 0, layout.Unsupportedf("dpx", "16 bit floating point samples")
		}
		return c.BitsPerSample, nil
	}
	for _, b := range []int{1, 8, 10, 12, 16} {
		if c.BitsPerSample <= b {
			return b, nil
		}
	}
	return 0, layout.Unsupportedf("dpx", "%d bit integer samples, at most 16", c.BitsPerSample)
}

// Encode writes img as a DPX file. LittleEndian=Yes writes XPDS,
// RunLength=Yes run length encodes elements of 8 to 16 bits and
// FullRange=No stores video range reference codes for YCbCr data.
func Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	data, err := EncodeBytes(img, specs)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return layout.IOError("dpx", err)
	}
	return nil
}

// EncodeBytes returns the complete DPX file of img.
func EncodeBytes(img *layout.Image, specs *layout.Specs) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	want := specsOrZero(specs)
	plans, err := planElements(img, want)
	if err != nil {
		return nil, err
	}
	h := &Header{
		LittleEndian:  want.LittleEndian.IsYes(),
		ImageOffset:   headerLen,
		Version:       "V2.0",
		TimeStamp:     time.Now().Format("2006:01:02:15:04:05-0700"),
		Creator:       "imgdiff",
		EncryptionKey: encryptOff,
		PixelsPerLine: uint32(img.Width),
		LinesPerImage: uint32(img.Height),
	}
	if want.RadianceScale != 0 {
		slog.Warn("dpx: radiance scale is not stored", "scale", want.RadianceScale)
	}

	body := bitio.NewWriter(h.context())
	for _, p := range plans {
		e, err := elementFor(img, p, want)
		if err != nil {
			return nil, err
		}
		e.DataOffset = uint32(headerLen + body.Len())
		if err := writeElement(body, img, p, &e); err != nil {
			return nil, err
		}
		h.Elements = append(h.Elements, e)
	}
	payload := body.Bytes()
	h.FileSize = uint32(headerLen + len(payload))

	out := bitio.NewWriter(h.context())
	h.encode(out)
	_, _ = out.Write(payload)
	return out.Bytes(), nil
}

func elementFor(img *layout.Image, p elementPlan, specs layout.Specs) (Element, error) {
	s, _ := scanOf(p.desc)
	c := img.Components[p.components(s)[0]]
	bits, err := datumBits(c)
	if err != nil {
		return Element{}, err
	}
	e := Element{
		Signed:          c.Signed && !c.Float,
		RefLowData:      Undefined,
		RefLowQuantity:  undefinedFloat,
		RefHighData:     Undefined,
		RefHighQuantity: undefinedFloat,
		Descriptor:      p.desc,
		BitSize:         uint8(bits),
		Packing:         PackingFilledA,
		EOLPadding:      0,
		EOIPadding:      0,
	}
	switch {
	case p.desc.ycbcr():
		e.Transfer, e.Colorimetric = 6, 6 // ITU-R 709-4
	case p.desc == DescRGB, p.desc == DescRGBA, p.desc == DescRed, p.desc == DescGreen, p.desc == DescBlue:
		e.Transfer, e.Colorimetric = 2, 2 // linear
	}
	if bits == 1 {
		e.Packing = PackingPacked
	}
	if !c.Float {
		e.RefLowData = 0
		e.RefHighData = uint32(bitio.Mask(c.BitsPerSample))
		if specs.FullRange.IsNo() && p.desc.ycbcr() && c.BitsPerSample >= 8 {
			e.RefLowData = 16 << (c.BitsPerSample - 8)
			e.RefHighData = 235 << (c.BitsPerSample - 8)
		}
	}
	if specs.RunLength.IsYes() {
		if c.Float || bits < 8 {
			slog.Warn("dpx: run length encoding needs 8 to 16 bit integer data, writing uncompressed", "descriptor", p.desc)
		} else {
			e.Encoding = 1
		}
	}
	return e, nil
}

func writeElement(w *bitio.Writer, img *layout.Image, p elementPlan, e *Element) error {
	s, _ := scanOf(p.desc)
	type slot struct {
		c     *layout.Component
		count int
	}
	slots := make([]slot, len(s.chans))
	for j, ch := range s.chans {
		i, ok := p.comps[ch]
		if !ok {
			return layout.Formatf("dpx", "no component for channel %s of %s", ch, p.desc)
		}
		c := img.Components[i]
		if c.SubX != s.sub(ch) || c.SubY != 1 {
			return layout.Formatf("dpx", "component %d subsampling %dx%d does not fit %s", i, c.SubX, c.SubY, p.desc)
		}
		if int(e.BitSize) < c.BitsPerSample || c.Float != e.Float() {
			return layout.Formatf("dpx", "component %d does not share the precision of %s", i, p.desc)
		}
		slots[j] = slot{c: c, count: s.count(ch)}
	}

	d := newDatumWriter(w, e)
	tuples := (img.Width + s.tuple - 1) / s.tuple
	occ := make(map[Channel]int, len(s.chans))
	for y := range img.Height {
		for t := range tuples {
			clear(occ)
			for j, ch := range s.chans {
				x := t*slots[j].count + occ[ch]
				occ[ch]++
				c := slots[j].c
				if x >= c.Width {
					d.put(0)
					continue
				}
				d.put(c.Raw(x, y))
			}
		}
		d.endLine()
	}
	return nil
}
