package codec

import (
	"errors"
	"fmt"
)

// ErrStreamEnded is returned when the underlying connection ends before a
// read request can be satisfied. It always fails the owning session only.
var ErrStreamEnded = errors.New("stream ended before read completed")

// ValidationError reports a value that falls outside a codec's legal domain.
// Encode never produces bytes for such a value; this is the caller's bug.
type ValidationError struct {
	Codec string
	Value any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("codec %s: value %v failed validation", e.Codec, e.Value)
}

// DecodeError reports a failure while decoding one value from the stream.
// It wraps ErrStreamEnded when the stream ran out mid-value.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec %s: decode failed: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
