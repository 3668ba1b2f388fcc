// Package codec implements the reusable field-codec framework and the
// streaming byte consumer for the Spile wire protocols.
//
// A FieldCodec describes one wire data type as a validate/encode/decode
// triple. New wire types are added by supplying three functions, never by
// subtyping: compound codecs are built by sequencing primitive ones inside
// their decode closure.
package codec

import "errors"

// FieldCodec bundles the validation predicate, encoder and decoder for one
// value type. The zero value is not usable; construct with New.
//
// Contract: for every v with Validate(v) == true, decoding the bytes
// produced by Encode(v) yields a value equal to v. Encode refuses values
// that fail validation, so the round-trip law holds for the whole legal
// domain.
type FieldCodec[T any] struct {
	name     string
	validate func(T) bool
	encode   func(T) []byte
	decode   func(*Consumer) (T, error)
}

// New builds a FieldCodec from its three closures. The name is diagnostic
// only and appears in validation and decode errors.
func New[T any](name string, validate func(T) bool, encode func(T) []byte, decode func(*Consumer) (T, error)) FieldCodec[T] {
	return FieldCodec[T]{
		name:     name,
		validate: validate,
		encode:   encode,
		decode:   decode,
	}
}

// Name returns the codec's diagnostic name.
func (c FieldCodec[T]) Name() string { return c.name }

// Validate reports whether v is inside the codec's legal domain. Pure and
// side-effect free.
func (c FieldCodec[T]) Validate(v T) bool { return c.validate(v) }

// Encode serializes v, failing with a ValidationError if v is outside the
// legal domain. The encode closure itself is only ever invoked on values
// that passed validation.
func (c FieldCodec[T]) Encode(v T) ([]byte, error) {
	if !c.validate(v) {
		return nil, &ValidationError{Codec: c.name, Value: v}
	}
	return c.encode(v), nil
}

// Decode reads exactly the bytes for one value of T from the consumer,
// blocking until they are available. Failures are reported as a DecodeError
// carrying the codec name; a stream that ends mid-value wraps
// ErrStreamEnded.
func (c FieldCodec[T]) Decode(cons *Consumer) (T, error) {
	v, err := c.decode(cons)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			err = &DecodeError{Codec: c.name, Err: err}
		}
		var zero T
		return zero, err
	}
	return v, nil
}
