package layout

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// ReadFile opens path and hands it to decode. The file is closed on every
// path out.
func ReadFile(op, path string, decode func(io.Reader) (*Image, error)) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError(op, err)
	}
	defer f.Close()

	img, err := decode(f)
	if err != nil {
		return nil, Wrap(op, err)
	}
	slog.Debug("loaded image", "codec", op, "path", path, "width", img.Width, "height", img.Height, "depth", img.Depth())
	return img, nil
}

// WriteFile creates path and hands it to encode. A failed encode removes the
// partial file.
func WriteFile(op, path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return IOError(op, err)
	}
	cw := &CountingWriter{Writer: f}
	err = encode(cw)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = IOError(op, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return Wrap(op, err)
	}
	slog.Debug("saved image", "codec", op, "path", path, "bytes", cw.Count.Load())
	return nil
}

// CountingWriter counts the bytes passed through to Writer.
type CountingWriter struct {
	Count  atomic.Int64
	Writer io.Writer
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	if err == nil {
		c.Count.Add(int64(n))
	}
	return n, err
}
