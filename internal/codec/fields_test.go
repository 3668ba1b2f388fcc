package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes v, pre-loads a consumer with exactly those bytes and
// decodes it back.
func roundTrip[T any](t *testing.T, c FieldCodec[T], v T) T {
	t.Helper()

	require.True(t, c.Validate(v), "%s: value should validate", c.Name())

	encoded, err := c.Encode(v)
	require.NoError(t, err)

	cons := NewConsumer(bytes.NewReader(encoded))
	decoded, err := c.Decode(cons)
	require.NoError(t, err)
	require.Equal(t, 0, cons.Buffered(), "%s: decode must consume exactly the encoded bytes", c.Name())

	return decoded
}

func TestLongRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 255, -256, math.MaxInt64, math.MinInt64}
	for _, v := range values {
		got := roundTrip(t, Long, v)
		assert.Equal(t, v, got)
	}
}

func TestLongEncodingWidth(t *testing.T) {
	encoded, err := Long.Encode(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, encoded)

	encoded, err = Long.Encode(math.MinInt64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, encoded)
}

func TestSignedBoundaryRejection(t *testing.T) {
	tests := []struct {
		name  string
		c     FieldCodec[int64]
		value int64
		want  bool
	}{
		{"int max", Int, math.MaxInt32, true},
		{"int one above max", Int, math.MaxInt32 + 1, false},
		{"int min", Int, math.MinInt32, true},
		{"int one below min", Int, math.MinInt32 - 1, false},
		{"short max", Short, 32767, true},
		{"short one above max", Short, 32768, false},
		{"byte min", Byte, -128, true},
		{"byte one below min", Byte, -129, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Validate(tt.value))
		})
	}
}

func TestUnsignedBoundaryRejection(t *testing.T) {
	assert.True(t, UShort.Validate(65535))
	assert.False(t, UShort.Validate(65536))
	assert.True(t, UByte.Validate(255))
	assert.False(t, UByte.Validate(256))
}

func TestEncodeRejectsInvalidValue(t *testing.T) {
	_, err := Int.Encode(math.MaxInt32 + 1)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Int", verr.Codec)
}

func TestVarIntRoundTrip(t *testing.T) {
	values := []int32{0, 1, 127, 128, 255, 2097151, math.MaxInt32, -1, math.MinInt32}
	for _, v := range values {
		assert.Equal(t, v, roundTrip(t, VarInt, v))
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	tests := []struct {
		value int32
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tt := range tests {
		encoded, err := VarInt.Encode(tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, encoded, "value %d", tt.value)
	}
}

func TestVarIntTooLong(t *testing.T) {
	cons := NewConsumer(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	_, err := VarInt.Decode(cons)
	require.Error(t, err)

	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestVarLongRoundTrip(t *testing.T) {
	values := []int64{0, 300, math.MaxInt64, math.MinInt64, -1}
	for _, v := range values {
		assert.Equal(t, v, roundTrip(t, VarLong, v))
	}
}

func TestStringRoundTrip(t *testing.T) {
	values := []string{"", "spile", "héllo wörld", "日本語"}
	for _, v := range values {
		assert.Equal(t, v, roundTrip(t, String, v))
	}
}

func TestStringValidation(t *testing.T) {
	assert.False(t, String.Validate(string([]byte{0xff, 0xfe})), "invalid UTF-8")

	long := bytes.Repeat([]byte{'a'}, MaxStringLength+1)
	assert.False(t, String.Validate(string(long)), "one rune above max length")

	ok := bytes.Repeat([]byte{'a'}, MaxStringLength)
	assert.True(t, String.Validate(string(ok)))
}

func TestBoolStrictDecode(t *testing.T) {
	assert.Equal(t, true, roundTrip(t, Bool, true))
	assert.Equal(t, false, roundTrip(t, Bool, false))

	cons := NewConsumer(bytes.NewReader([]byte{0x02}))
	_, err := Bool.Decode(cons)
	require.Error(t, err)
}

func TestFloatDoubleRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1.5, -3.25, math.MaxFloat32} {
		assert.Equal(t, v, roundTrip(t, Float, v))
	}
	for _, v := range []float64{0, 1.5, -3.25, math.MaxFloat64} {
		assert.Equal(t, v, roundTrip(t, Double, v))
	}
}

func TestByteArrayRoundTrip(t *testing.T) {
	v := []byte{0x01, 0x02, 0x03, 0xff}
	assert.Equal(t, v, roundTrip(t, ByteArray, v))
}

func TestUUIDRoundTrip(t *testing.T) {
	v := [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	assert.Equal(t, v, roundTrip(t, UUID, v))
}

func TestInt32LERoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		assert.Equal(t, v, roundTrip(t, Int32LE, v))
	}

	encoded, err := Int32LE.Encode(10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x00, 0x00, 0x00}, encoded)
}

func TestUShortBEBoundaries(t *testing.T) {
	assert.True(t, UShortBE.Validate(65535))
	assert.False(t, UShortBE.Validate(65536))
	assert.False(t, UShortBE.Validate(-1))

	assert.Equal(t, int32(258), roundTrip(t, UShortBE, 258))
}
