package codec

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
	"github.com/jpfielding/imgdiff.go/pkg/layout/layouttest"
)

func TestForPath(t *testing.T) {
	tests := []struct {
		path string
		name string
		gz   bool
	}{
		{"a.bmp", "bmp", false},
		{"dir.x/A.TIF", "tiff", false},
		{"a.tiff.gz", "tiff", true},
		{"frame.yuv@1920x1080", "raw", false},
		{"frame.raw@4x4x1:{8=0}", "raw", false},
		{"odd@name.raw@4x4x1:{8=0}", "raw", false},
		{"a.dpx", "dpx", false},
		{"a.pgx", "pgx", false},
		{"a.ppm", "pnm", false},
		{"a.png", "png", false},
		{"a.exr", "exr", false},
		{"a.hdr", "hdr", false},
		{"a.jp2", "jp2", false},
		{"a.j2k", "j2k", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			c, gz, err := ForPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.name, c.Name())
			assert.Equal(t, tt.gz, gz)
		})
	}

	_, _, err := ForPath("a.gif")
	require.ErrorIs(t, err, ErrUnknownFormat)
	require.ErrorIs(t, err, layout.ErrFormat)

	_, _, err = ForPath("noext")
	require.ErrorIs(t, err, ErrUnknownFormat)

	// multi file and random access formats cannot be gzip wrapped
	_, _, err = ForPath("a.pgx.gz")
	require.ErrorIs(t, err, layout.ErrFormat)
	require.NotErrorIs(t, err, ErrUnknownFormat)

	assert.Contains(t, Extensions(), ".v210")
	assert.IsNonDecreasing(t, Extensions())
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	img := layouttest.New(t, 9, 5, 0, layouttest.Uint(8, 3)...)
	for _, name := range []string{"a.bmp", "a.tif", "a.dpx", "a.ppm", "a.png", "a.pgx", "a.raw@9x5x3:{8=0}:{8=1}:{8=2}", "a.dpx.gz", "a.bmp.GZ"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveImage(path, img, nil))
			got, err := LoadImage(path, nil)
			require.NoError(t, err)
			layouttest.RequireEqual(t, img, got)
		})
	}
}

func TestGzipContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pgm.gz")
	img := layouttest.New(t, 3, 2, 0, layouttest.Uint(8, 1)...)
	require.NoError(t, SaveImage(path, img, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	head := make([]byte, 2)
	_, err = io.ReadFull(zr, head)
	require.NoError(t, err)
	assert.Equal(t, "P5", string(head))
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadImage(filepath.Join(dir, "missing.bmp"), nil)
	require.ErrorIs(t, err, layout.ErrIO)

	bad := filepath.Join(dir, "bad.bmp.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0o644))
	_, err = LoadImage(bad, nil)
	require.Error(t, err)

	require.ErrorIs(t, SaveImage(filepath.Join(dir, "a.bmp"), layout.NewImage(2, 2), nil), layout.ErrFormat)

	// a failed encode leaves nothing behind
	path := filepath.Join(dir, "float.bmp.gz")
	img := layouttest.New(t, 2, 2, 0, layouttest.Comp{Bits: 32, Float: true})
	require.ErrorIs(t, SaveImage(path, img, nil), layout.ErrFormat)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
