package codec

import (
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	// MaxStringLength is the protocol limit on decoded string length.
	MaxStringLength = 32767

	// MaxByteArrayLength bounds length-prefixed byte arrays; matches the
	// maximum frame size the game protocol permits.
	MaxByteArrayLength = 1 << 21
)

// signedCodec builds a fixed-width big-endian two's-complement integer codec
// over an int64 domain. The validation bounds match exactly the representable
// range for the wire width, so e.g. Int rejects values outside int32.
func signedCodec(name string, width int) FieldCodec[int64] {
	var min, max int64
	if width == 8 {
		min, max = math.MinInt64, math.MaxInt64
	} else {
		min = -1 << (8*width - 1)
		max = 1<<(8*width-1) - 1
	}

	return New(name,
		func(v int64) bool { return v >= min && v <= max },
		func(v int64) []byte {
			u := uint64(v)
			out := make([]byte, width)
			for i := width - 1; i >= 0; i-- {
				out[i] = byte(u)
				u >>= 8
			}
			return out
		},
		func(c *Consumer) (int64, error) {
			_, view, err := c.ReadView(width)
			if err != nil {
				return 0, err
			}
			var u uint64
			for _, b := range view {
				u = u<<8 | uint64(b)
			}
			shift := uint(64 - 8*width)
			return int64(u<<shift) >> shift, nil
		},
	)
}

// unsignedCodec is the unsigned counterpart of signedCodec.
func unsignedCodec(name string, width int) FieldCodec[uint64] {
	var max uint64 = math.MaxUint64
	if width < 8 {
		max = 1<<(8*width) - 1
	}

	return New(name,
		func(v uint64) bool { return v <= max },
		func(v uint64) []byte {
			out := make([]byte, width)
			for i := width - 1; i >= 0; i-- {
				out[i] = byte(v)
				v >>= 8
			}
			return out
		},
		func(c *Consumer) (uint64, error) {
			_, view, err := c.ReadView(width)
			if err != nil {
				return 0, err
			}
			var u uint64
			for _, b := range view {
				u = u<<8 | uint64(b)
			}
			return u, nil
		},
	)
}

// Fixed-width integer codecs of the game protocol.
var (
	Byte  = signedCodec("Byte", 1)
	Short = signedCodec("Short", 2)
	Int   = signedCodec("Int", 4)
	Long  = signedCodec("Long", 8)

	UByte  = unsignedCodec("UnsignedByte", 1)
	UShort = unsignedCodec("UnsignedShort", 2)
)

// Bool encodes true as 0x01 and false as 0x00; decoding rejects any other
// byte so a desynchronized stream fails fast.
var Bool = New("Bool",
	func(bool) bool { return true },
	func(v bool) []byte {
		if v {
			return []byte{1}
		}
		return []byte{0}
	},
	func(c *Consumer) (bool, error) {
		b, err := c.ReadByte()
		if err != nil {
			return false, err
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return false, fmt.Errorf("invalid bool byte 0x%02x", b)
		}
	},
)

// Float is an IEEE 754 single-precision value in big-endian byte order.
var Float = New("Float",
	func(float32) bool { return true },
	func(v float32) []byte {
		u := math.Float32bits(v)
		return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
	},
	func(c *Consumer) (float32, error) {
		_, view, err := c.ReadView(4)
		if err != nil {
			return 0, err
		}
		u := uint32(view[0])<<24 | uint32(view[1])<<16 | uint32(view[2])<<8 | uint32(view[3])
		return math.Float32frombits(u), nil
	},
)

// Double is an IEEE 754 double-precision value in big-endian byte order.
var Double = New("Double",
	func(float64) bool { return true },
	func(v float64) []byte {
		u := math.Float64bits(v)
		out := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			out[i] = byte(u)
			u >>= 8
		}
		return out
	},
	func(c *Consumer) (float64, error) {
		_, view, err := c.ReadView(8)
		if err != nil {
			return 0, err
		}
		var u uint64
		for _, b := range view {
			u = u<<8 | uint64(b)
		}
		return math.Float64frombits(u), nil
	},
)

// VarInt is the variable-length 32-bit integer used for game-protocol frame
// lengths and packet identifiers: 7 bits per byte, low groups first, high
// bit as the continuation flag, at most 5 bytes.
var VarInt = New("VarInt",
	func(int32) bool { return true },
	func(v int32) []byte { return AppendVarInt(nil, v) },
	func(c *Consumer) (int32, error) {
		var result int32
		for i := 0; ; i++ {
			if i == 5 {
				return 0, fmt.Errorf("varint exceeds 5 bytes")
			}
			b, err := c.ReadByte()
			if err != nil {
				return 0, err
			}
			result |= int32(b&0x7f) << (7 * i)
			if b&0x80 == 0 {
				return result, nil
			}
		}
	},
)

// VarLong is the 64-bit variant of VarInt, at most 10 bytes.
var VarLong = New("VarLong",
	func(int64) bool { return true },
	func(v int64) []byte {
		u := uint64(v)
		var out []byte
		for {
			b := byte(u & 0x7f)
			u >>= 7
			if u != 0 {
				b |= 0x80
			}
			out = append(out, b)
			if u == 0 {
				return out
			}
		}
	},
	func(c *Consumer) (int64, error) {
		var result int64
		for i := 0; ; i++ {
			if i == 10 {
				return 0, fmt.Errorf("varlong exceeds 10 bytes")
			}
			b, err := c.ReadByte()
			if err != nil {
				return 0, err
			}
			result |= int64(b&0x7f) << (7 * i)
			if b&0x80 == 0 {
				return result, nil
			}
		}
	},
)

// AppendVarInt appends the VarInt encoding of v to dst. Frame writers use
// it directly to avoid allocating through the codec.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if u == 0 {
			return dst
		}
	}
}

// String is a VarInt-length-prefixed UTF-8 string. Validation bounds the
// decoded length and requires well-formed UTF-8.
var String = New("String",
	func(v string) bool { return len(v) <= MaxStringLength*4 && utf8.RuneCountInString(v) <= MaxStringLength && utf8.ValidString(v) },
	func(v string) []byte {
		out := AppendVarInt(nil, int32(len(v)))
		return append(out, v...)
	},
	func(c *Consumer) (string, error) {
		n, err := VarInt.Decode(c)
		if err != nil {
			return "", err
		}
		if n < 0 || n > MaxStringLength*4 {
			return "", fmt.Errorf("string length %d out of range", n)
		}
		_, view, err := c.ReadView(int(n))
		if err != nil {
			return "", err
		}
		if !utf8.Valid(view) {
			return "", fmt.Errorf("string is not valid UTF-8")
		}
		return string(view), nil
	},
)

// ByteArray is a VarInt-length-prefixed raw byte sequence.
var ByteArray = New("ByteArray",
	func(v []byte) bool { return len(v) <= MaxByteArrayLength },
	func(v []byte) []byte {
		out := AppendVarInt(nil, int32(len(v)))
		return append(out, v...)
	},
	func(c *Consumer) ([]byte, error) {
		n, err := VarInt.Decode(c)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > MaxByteArrayLength {
			return nil, fmt.Errorf("byte array length %d out of range", n)
		}
		return c.ReadExact(int(n))
	},
)

// UUID is a 16-byte big-endian unique identifier.
var UUID = New("UUID",
	func([16]byte) bool { return true },
	func(v [16]byte) []byte {
		out := make([]byte, 16)
		copy(out, v[:])
		return out
	},
	func(c *Consumer) ([16]byte, error) {
		var v [16]byte
		_, view, err := c.ReadView(16)
		if err != nil {
			return v, err
		}
		copy(v[:], view)
		return v, nil
	},
)

// Int32LE is the fixed-width little-endian 32-bit integer used by the RCON
// protocol framing (Source RCON layout).
var Int32LE = New("Int32LE",
	func(int32) bool { return true },
	func(v int32) []byte {
		u := uint32(v)
		return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	},
	func(c *Consumer) (int32, error) {
		_, view, err := c.ReadView(4)
		if err != nil {
			return 0, err
		}
		u := uint32(view[0]) | uint32(view[1])<<8 | uint32(view[2])<<16 | uint32(view[3])<<24
		return int32(u), nil
	},
)

// UShortBE is a 2-byte big-endian length prefix over an int32 domain, used
// by the query protocol framing. It rejects values outside 0..65535.
var UShortBE = New("UShortBE",
	func(v int32) bool { return v >= 0 && v <= math.MaxUint16 },
	func(v int32) []byte {
		return []byte{byte(v >> 8), byte(v)}
	},
	func(c *Consumer) (int32, error) {
		_, view, err := c.ReadView(2)
		if err != nil {
			return 0, err
		}
		return int32(view[0])<<8 | int32(view[1]), nil
	},
)
