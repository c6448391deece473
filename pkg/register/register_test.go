package register

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFloat32_AllOrders(t *testing.T) {
	// 3.125 is 0x40480000
	cases := []struct {
		order     ByteOrder
		high, low uint16
	}{
		{ABCD, 0x4048, 0x0000},
		{BADC, 0x4840, 0x0000},
		{CDAB, 0x0000, 0x4048},
		{DCBA, 0x0000, 0x4840},
	}

	for _, tc := range cases {
		t.Run(string(tc.order), func(t *testing.T) {
			v, err := DecodeFloat32(tc.high, tc.low, tc.order)
			require.NoError(t, err)
			assert.Equal(t, 3.125, v)
		})
	}
}

func TestDecodeFloat32_KnownValues(t *testing.T) {
	v, err := DecodeFloat32(0x4248, 0x0000, ABCD)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	v, err = DecodeFloat32(0x3F80, 0x0000, ABCD)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = DecodeFloat32(0xC120, 0x0000, ABCD)
	require.NoError(t, err)
	assert.Equal(t, -10.0, v)
}

func TestDecodeFloat32_UnsupportedOrder(t *testing.T) {
	_, err := DecodeFloat32(0x4048, 0, ByteOrder("ACBD"))
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestEncodeFloat32_RoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 3.125, 50, 1013.25, -273.15, math.MaxFloat32, math.SmallestNonzeroFloat32}

	for _, order := range []ByteOrder{ABCD, BADC, CDAB, DCBA} {
		for _, v := range values {
			want := float64(float32(v))
			hi, lo, err := EncodeFloat32(v, order)
			require.NoError(t, err)

			got, err := DecodeFloat32(hi, lo, order)
			require.NoError(t, err)
			assert.Equal(t, want, got, "order %s value %v", order, v)
		}
	}
}

func TestDCBAIsReversedABCD(t *testing.T) {
	regs := [][2]uint16{{0x4048, 0x0000}, {0x1234, 0x5678}, {0xC2F6, 0xE979}, {0x0001, 0x8000}}

	for _, r := range regs {
		abcd, err := DecodeFloat32(r[0], r[1], ABCD)
		require.NoError(t, err)

		// reverse all four bytes
		b := []byte{byte(r[0] >> 8), byte(r[0]), byte(r[1] >> 8), byte(r[1])}
		hi := uint16(b[3])<<8 | uint16(b[2])
		lo := uint16(b[1])<<8 | uint16(b[0])

		dcba, err := DecodeFloat32(hi, lo, DCBA)
		require.NoError(t, err)
		if math.IsNaN(abcd) {
			assert.True(t, math.IsNaN(dcba))
			continue
		}
		assert.Equal(t, abcd, dcba)
	}
}

func TestDecodeFloats_Pairs(t *testing.T) {
	out, err := DecodeFloats([]uint16{0x4048, 0x0000, 0x4248, 0x0000}, ABCD)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 3.125, *out[0])
	assert.Equal(t, 50.0, *out[1])
}

func TestDecodeFloats_OddCount(t *testing.T) {
	out, err := DecodeFloats([]uint16{0x4048, 0x0000, 0x4248}, ABCD)
	assert.ErrorIs(t, err, ErrOddRegisterCount)
	require.Len(t, out, 2)
	assert.Equal(t, 3.125, *out[0])
	assert.Nil(t, out[1])
}

func TestParseEncoding(t *testing.T) {
	cases := map[string]Encoding{
		"":              DefaultEncoding,
		"float32":       {Kind: KindFloat32, Order: ABCD},
		"float32be":     {Kind: KindFloat32, Order: ABCD},
		"float32le":     {Kind: KindFloat32, Order: DCBA},
		"float32cdab":   {Kind: KindFloat32, Order: CDAB},
		"FLOAT32[BADC]": {Kind: KindFloat32, Order: BADC},
		"float32[dcba]": {Kind: KindFloat32, Order: DCBA},
		"cdab":          {Kind: KindFloat32, Order: CDAB},
		"u16":           {Kind: KindU16},
	}

	for token, want := range cases {
		got, err := ParseEncoding(token)
		require.NoError(t, err, token)
		assert.Equal(t, want, got, token)
	}

	_, err := ParseEncoding("float64be")
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestEncoding_DecodeU16(t *testing.T) {
	enc, err := ParseEncoding("u16")
	require.NoError(t, err)

	out, err := enc.Decode([]uint16{0, 1, 65535})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 0.0, *out[0])
	assert.Equal(t, 1.0, *out[1])
	assert.Equal(t, 65535.0, *out[2])
	assert.Equal(t, 1, enc.RegistersPerValue())
}

func TestEncoding_Encode(t *testing.T) {
	enc := Encoding{Kind: KindFloat32, Order: CDAB}
	regs, err := enc.Encode([]float64{3.125})
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0000, 0x4048}, regs)

	u16 := Encoding{Kind: KindU16}
	regs, err = u16.Encode([]float64{7, 65535})
	require.NoError(t, err)
	assert.Equal(t, []uint16{7, 65535}, regs)

	_, err = u16.Encode([]float64{1.5})
	assert.Error(t, err)
	_, err = u16.Encode([]float64{70000})
	assert.Error(t, err)
}

func TestEncoding_String(t *testing.T) {
	assert.Equal(t, "float32[cdab]", Encoding{Kind: KindFloat32, Order: CDAB}.String())
	assert.Equal(t, "u16", Encoding{Kind: KindU16}.String())
}
