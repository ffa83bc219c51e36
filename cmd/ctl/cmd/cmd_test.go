package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a 3x2 grey image, maxval 1023
const pgm = "P2\n3 2\n1023\n0 512 1023\n7 8 9\n"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(context.Background(), "test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func fixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grey.pgm")
	require.NoError(t, os.WriteFile(path, []byte(pgm), 0o644))
	return path
}

func TestConvertAndCompare(t *testing.T) {
	in := fixture(t)
	dir := filepath.Dir(in)
	for _, name := range []string{"grey.tiff", "grey.dpx", "grey.pgx", "grey.pgm.gz"} {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(dir, name)
			_, err := run(t, "convert", in, out)
			require.NoError(t, err)
			text, err := run(t, "compare", "--exact", in, out)
			require.NoError(t, err)
			assert.Contains(t, text, "differing 0/6")
		})
	}
}

func TestConvertFlags(t *testing.T) {
	in := fixture(t)
	out := filepath.Join(filepath.Dir(in), "plain.pgm")
	_, err := run(t, "convert", "--ascii", in, out)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("P2\n")))

	_, err = run(t, "convert", "--interleaved", "--separate", in, out)
	assert.ErrorContains(t, err, "exclude each other")
	_, err = run(t, "convert", in, filepath.Join(filepath.Dir(in), "grey.xyz"))
	assert.ErrorContains(t, err, "no codec")
}

func TestCompareDiffers(t *testing.T) {
	a := fixture(t)
	b := filepath.Join(filepath.Dir(a), "other.pgm")
	require.NoError(t, os.WriteFile(b, []byte("P2\n3 2\n1023\n0 512 1023\n7 8 10\n"), 0o644))

	text, err := run(t, "compare", a, b)
	require.NoError(t, err)
	assert.Contains(t, text, "differing 1/6")

	_, err = run(t, "compare", "--exact", a, b)
	assert.ErrorContains(t, err, "differ in 1 of 6")
	_, err = run(t, "compare", "--min-psnr", "200", a, b)
	assert.ErrorContains(t, err, "below")
	_, err = run(t, "compare", "--min-psnr", "20", a, b)
	assert.NoError(t, err)
}

func TestCompareIncompatible(t *testing.T) {
	a := fixture(t)
	b := filepath.Join(filepath.Dir(a), "small.pgm")
	require.NoError(t, os.WriteFile(b, []byte("P2\n2 2\n1023\n0 0 0 0\n"), 0o644))
	_, err := run(t, "compare", a, b)
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	in := fixture(t)
	text, err := run(t, "info", in)
	require.NoError(t, err)
	assert.Contains(t, text, "(pnm)")
	assert.Contains(t, text, "range 0..1023")
	assert.Contains(t, text, "ascii: yes")

	text, err = run(t, "info", "--format", "json", in)
	require.NoError(t, err)
	var info imageInfo
	require.NoError(t, json.Unmarshal([]byte(text), &info))
	assert.Equal(t, 3, info.Width)
	assert.Equal(t, 2, info.Height)
	require.Len(t, info.Components, 1)
	assert.Equal(t, 10, info.Components[0].Bits)
	assert.Equal(t, "unsigned", info.Components[0].Kind)
	assert.Equal(t, "yes", info.Specs["ascii"])
	assert.NotEmpty(t, info.Fingerprint)

	// the fingerprint follows the pixels, not the file
	out := filepath.Join(filepath.Dir(in), "grey.tiff")
	_, err = run(t, "convert", in, out)
	require.NoError(t, err)
	text, err = run(t, "info", "-f", "json", out)
	require.NoError(t, err)
	var other imageInfo
	require.NoError(t, json.Unmarshal([]byte(text), &other))
	assert.Equal(t, info.Fingerprint, other.Fingerprint)
}

func TestVersion(t *testing.T) {
	text, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, text, "test")
}
