package layout

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// Kind classifies why a load or save operation was aborted.
type Kind int

const (
	// KindFormat is a violated format rule: bad magic, unsupported
	// combination, inconsistent geometry or a grammar error.
	KindFormat Kind = iota + 1
	// KindResource is an allocation that could not be satisfied.
	KindResource
	// KindIO is a failing open, read, write or seek.
	KindIO
	// KindTruncated is a stream that ended before the decoder was done.
	KindTruncated
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format violation"
	case KindResource:
		return "out of memory"
	case KindIO:
		return "i/o failure"
	case KindTruncated:
		return "truncated stream"
	default:
		return "unknown"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrFormat    = &Error{Kind: KindFormat}
	ErrResource  = &Error{Kind: KindResource}
	ErrIO        = &Error{Kind: KindIO}
	ErrTruncated = &Error{Kind: KindTruncated}
)

// Error is the error type returned by every codec in this module.
type Error struct {
	Kind Kind
	Op   string // codec or operation, e.g. "bmp" or "tiff: lzw"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind so callers can test errors.Is(err, ErrTruncated).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Formatf reports a format violation.
func Formatf(op, format string, args ...any) error {
	return &Error{Kind: KindFormat, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unsupportedf reports a legal but unsupported combination. It is a format violation.
func Unsupportedf(op, format string, args ...any) error {
	return &Error{Kind: KindFormat, Op: op, Msg: "unsupported " + fmt.Sprintf(format, args...)}
}

// IOError wraps an operating system error.
func IOError(op string, err error) error {
	return &Error{Kind: KindIO, Op: op, Msg: "i/o failure", Err: err}
}

// Truncated reports a stream that ended early while decoding what.
func Truncated(op, what string) error {
	return &Error{Kind: KindTruncated, Op: op, Msg: "unexpected end of data in " + what}
}

// NeedBytes fails with a truncation error when a payload of need bytes
// cannot fit in the have bytes present. Decoders call it before allocating
// for sizes read from a header.
func NeedBytes(op, what string, need, have int64) error {
	if need > have {
		return &Error{Kind: KindTruncated, Op: op,
			Msg: fmt.Sprintf("unexpected end of data in %s: need %d bytes, have %d", what, need, have)}
	}
	return nil
}

// ResourceError reports an allocation that was refused.
func ResourceError(op string, bytes int64) error {
	return &Error{Kind: KindResource, Op: op, Msg: fmt.Sprintf("cannot allocate %d bytes", bytes)}
}

// Wrap classifies an arbitrary error into an *Error. Errors that already are
// *Error pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	var pe *fs.PathError
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &Error{Kind: KindTruncated, Op: op, Msg: "unexpected end of data", Err: err}
	case errors.As(err, &pe):
		return IOError(op, err)
	}
	return &Error{Kind: KindFormat, Op: op, Msg: "corrupt data", Err: err}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
