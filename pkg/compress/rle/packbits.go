// Package rle implements the PackBits byte oriented run-length scheme used
// by TIFF compression 32773.
//
// Each run starts with a signed header byte n:
//   - 0..127: copy the next n+1 bytes literally
//   - -1..-127: repeat the next byte -n+1 times
//   - -128: no operation
package rle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated is returned when a run ends before its data does.
var ErrTruncated = fmt.Errorf("rle: compressed data truncated: %w", io.ErrUnexpectedEOF)

// ErrOverrun is returned when a run expands past the expected size.
var ErrOverrun = errors.New("rle: run exceeds expected size")

// EncodePackBits compresses data. Runs of two or more equal bytes become
// repeat runs; a literal run is broken as soon as three equal bytes follow.
func EncodePackBits(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}

	var buf bytes.Buffer
	i := 0
	for i < len(data) {
		runLen := 1
		for i+runLen < len(data) && runLen < 128 && data[i+runLen] == data[i] {
			runLen++
		}

		if runLen > 1 {
			buf.WriteByte(byte(int8(-(runLen - 1))))
			buf.WriteByte(data[i])
			i += runLen
			continue
		}

		litLen := 1
		for i+litLen < len(data) && litLen < 128 {
			if i+litLen+2 < len(data) &&
				data[i+litLen] == data[i+litLen+1] &&
				data[i+litLen] == data[i+litLen+2] {
				break
			}
			litLen++
		}
		buf.WriteByte(byte(int8(litLen - 1)))
		buf.Write(data[i : i+litLen])
		i += litLen
	}
	return buf.Bytes()
}

// DecodePackBits expands data. With expectedLen > 0 decoding stops once that
// many bytes are produced, which tolerates the padding some writers append,
// and a run crossing the limit is an error. Producing fewer bytes than
// expected is reported as truncation.
func DecodePackBits(data []byte, expectedLen int) ([]byte, error) {
	var buf bytes.Buffer
	if expectedLen > 0 {
		buf.Grow(expectedLen)
	}

	i := 0
	for i < len(data) {
		if expectedLen > 0 && buf.Len() >= expectedLen {
			break
		}

		n := int8(data[i])
		i++

		switch {
		case n == -128:
			continue
		case n >= 0:
			count := int(n) + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("%w in literal run (i=%d, count=%d, len=%d)", ErrTruncated, i, count, len(data))
			}
			if expectedLen > 0 && buf.Len()+count > expectedLen {
				return nil, fmt.Errorf("%w: literal run of %d at output %d", ErrOverrun, count, buf.Len())
			}
			buf.Write(data[i : i+count])
			i += count
		default:
			count := int(-n) + 1
			if i >= len(data) {
				return nil, fmt.Errorf("%w in replicate run", ErrTruncated)
			}
			if expectedLen > 0 && buf.Len()+count > expectedLen {
				return nil, fmt.Errorf("%w: replicate run of %d at output %d", ErrOverrun, count, buf.Len())
			}
			val := data[i]
			i++
			for range count {
				buf.WriteByte(val)
			}
		}
	}
	if expectedLen > 0 && buf.Len() < expectedLen {
		return nil, fmt.Errorf("%w: produced %d of %d bytes", ErrTruncated, buf.Len(), expectedLen)
	}
	return buf.Bytes(), nil
}
