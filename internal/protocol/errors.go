package protocol

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why a raw frame could not be decoded.
type DecodeErrorKind string

const (
	// DecodeTruncated means the frame ended before a complete status document
	// was available (typical when a notification is split across MTU-sized
	// chunks and the link drops mid-frame).
	DecodeTruncated DecodeErrorKind = "truncated"
	// DecodeUnknown means the frame parsed but is not a status document this
	// codec recognizes.
	DecodeUnknown DecodeErrorKind = "unknown"
)

// DecodeError reports a frame that could not be decoded. Decoding is total:
// any byte sequence yields either a StatusFrame or a DecodeError, never a
// panic.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s frame", e.Kind)
	}
	return fmt.Sprintf("%s frame: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind.
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons.
var (
	ErrTruncated = &DecodeError{Kind: DecodeTruncated}
	ErrUnknown   = &DecodeError{Kind: DecodeUnknown}
)

// ErrOutOfRange is returned by Encode when a command carries a value outside
// the protocol's accepted range. The command is rejected before any transport
// write happens.
var ErrOutOfRange = errors.New("value out of range")

// IsDecodeError reports whether err is a DecodeError of any kind.
func IsDecodeError(err error) bool {
	var derr *DecodeError
	return errors.As(err, &derr)
}
