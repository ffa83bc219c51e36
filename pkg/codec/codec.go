// Package codec picks the file format codec for a path by its extension.
//
// A RAW layout is written after an '@' at the end of the path and is not
// part of the extension: "frame.yuv@1920x1080". A trailing ".gz" compresses
// any single stream format, e.g. "scan.tiff.gz".
package codec

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mrjoshuak/go-jpeg2000"

	"github.com/jpfielding/imgdiff.go/pkg/format/bmp"
	"github.com/jpfielding/imgdiff.go/pkg/format/dpx"
	"github.com/jpfielding/imgdiff.go/pkg/format/exr"
	"github.com/jpfielding/imgdiff.go/pkg/format/jp2"
	"github.com/jpfielding/imgdiff.go/pkg/format/pgx"
	"github.com/jpfielding/imgdiff.go/pkg/format/png"
	"github.com/jpfielding/imgdiff.go/pkg/format/pnm"
	"github.com/jpfielding/imgdiff.go/pkg/format/radiance"
	"github.com/jpfielding/imgdiff.go/pkg/format/raw"
	"github.com/jpfielding/imgdiff.go/pkg/format/tiff"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// ErrUnknownFormat is wrapped by the error for a path no codec handles.
var ErrUnknownFormat = errors.New("codec: unknown file format")

const gzExt = ".gz"

// codecsByExt maps lower case extensions to implementations
var codecsByExt = map[string]layout.Codec{
	".bmp":  bmp.Codec{},
	".pgx":  pgx.Codec{},
	".raw":  raw.Codec{},
	".craw": raw.Codec{},
	".yuv":  raw.Codec{},
	".v210": raw.Codec{},
	".dpx":  dpx.Codec{},
	".tif":  tiff.Codec{},
	".tiff": tiff.Codec{},
	".pbm":  pnm.Codec{},
	".pgm":  pnm.Codec{},
	".ppm":  pnm.Codec{},
	".pnm":  pnm.Codec{},
	".png":  png.Codec{},
	".exr":  exr.Codec{},
	".hdr":  radiance.Codec{},
	".jp2":  jp2.Codec{Format: jpeg2000.FormatJP2},
	".j2k":  jp2.Codec{Format: jpeg2000.FormatJ2K},
	".j2c":  jp2.Codec{Format: jpeg2000.FormatJ2K},
}

// Extensions lists the recognised extensions, sorted.
func Extensions() []string {
	exts := make([]string, 0, len(codecsByExt))
	for ext := range codecsByExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// ForPath returns the codec for path and whether the file is gzip
// compressed.
func ForPath(path string) (layout.Codec, bool, error) {
	file, _ := raw.SplitPath(path)
	ext := strings.ToLower(filepath.Ext(file))
	gz := ext == gzExt
	if gz {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(file, filepath.Ext(file))))
	}
	c, ok := codecsByExt[ext]
	if !ok {
		return nil, false, &layout.Error{Kind: layout.KindFormat, Op: "codec",
			Msg: fmt.Sprintf("no codec for extension %q of %s", ext, path), Err: ErrUnknownFormat}
	}
	if _, stream := c.(layout.StreamCodec); gz && !stream {
		return nil, false, layout.Unsupportedf("codec", "gzip compression of %s files", c.Name())
	}
	return c, gz, nil
}

// LoadImage decodes the file at path. specs, if not nil, receives what the
// reader could infer.
func LoadImage(path string, specs *layout.Specs) (*layout.Image, error) {
	c, gz, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	if !gz {
		return c.Load(path, specs)
	}
	sc := c.(layout.StreamCodec)
	return layout.ReadFile(sc.Name(), path, func(r io.Reader) (*layout.Image, error) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, layout.Wrap("gzip", err)
		}
		defer zr.Close()
		return sc.Decode(zr, specs)
	})
}

// SaveImage encodes img to path with the codec its extension selects.
func SaveImage(path string, img *layout.Image, specs *layout.Specs) error {
	if err := img.Validate(); err != nil {
		return err
	}
	c, gz, err := ForPath(path)
	if err != nil {
		return err
	}
	if !gz {
		return c.Save(path, img, specs)
	}
	sc := c.(layout.StreamCodec)
	return layout.WriteFile(sc.Name(), path, func(w io.Writer) error {
		zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return err
		}
		if err := sc.Encode(zw, img, specs); err != nil {
			return err
		}
		return zw.Close()
	})
}
