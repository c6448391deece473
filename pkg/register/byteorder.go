// pkg/register/byteorder.go
package register

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ByteOrder names the arrangement of the four bytes of a 32-bit value
// spread over two 16-bit registers. A is the most significant byte.
type ByteOrder string

const (
	ABCD ByteOrder = "ABCD"
	BADC ByteOrder = "BADC"
	CDAB ByteOrder = "CDAB"
	DCBA ByteOrder = "DCBA"
)

var (
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrOddRegisterCount    = errors.New("odd register count for 32-bit values")
)

// permutations map wire position to the natural [hi(H), lo(H), hi(L), lo(L)] position.
var permutations = map[ByteOrder][4]int{
	ABCD: {0, 1, 2, 3},
	BADC: {1, 0, 3, 2},
	CDAB: {2, 3, 0, 1},
	DCBA: {3, 2, 1, 0},
}

// ParseByteOrder accepts the four order names in any case
func ParseByteOrder(s string) (ByteOrder, error) {
	order := ByteOrder(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := permutations[order]; !ok {
		return "", fmt.Errorf("%w: byte order %q", ErrUnsupportedEncoding, s)
	}
	return order, nil
}

// DecodeFloat32 interprets a register pair as an IEEE-754 single under order.
// high is the register read first.
func DecodeFloat32(high, low uint16, order ByteOrder) (float64, error) {
	perm, ok := permutations[order]
	if !ok {
		return 0, fmt.Errorf("%w: byte order %q", ErrUnsupportedEncoding, order)
	}

	natural := [4]byte{byte(high >> 8), byte(high), byte(low >> 8), byte(low)}
	var b [4]byte
	for i, src := range perm {
		b[i] = natural[src]
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b[:]))), nil
}

// EncodeFloat32 is the inverse of DecodeFloat32
func EncodeFloat32(v float64, order ByteOrder) (high, low uint16, err error) {
	perm, ok := permutations[order]
	if !ok {
		return 0, 0, fmt.Errorf("%w: byte order %q", ErrUnsupportedEncoding, order)
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(v)))
	var natural [4]byte
	for i, dst := range perm {
		natural[dst] = b[i]
	}
	high = uint16(natural[0])<<8 | uint16(natural[1])
	low = uint16(natural[2])<<8 | uint16(natural[3])
	return high, low, nil
}

// DecodeU16 passes a register through unchanged
func DecodeU16(reg uint16) uint16 {
	return reg
}

// DecodeFloats consumes regs in non-overlapping pairs. With an odd count the
// complete pairs are decoded, the trailing value is nil and
// ErrOddRegisterCount is returned alongside them.
func DecodeFloats(regs []uint16, order ByteOrder) ([]*float64, error) {
	if _, ok := permutations[order]; !ok {
		return nil, fmt.Errorf("%w: byte order %q", ErrUnsupportedEncoding, order)
	}

	out := make([]*float64, 0, (len(regs)+1)/2)
	for i := 0; i+1 < len(regs); i += 2 {
		v, _ := DecodeFloat32(regs[i], regs[i+1], order)
		out = append(out, &v)
	}
	if len(regs)%2 != 0 {
		out = append(out, nil)
		return out, fmt.Errorf("%w: got %d registers", ErrOddRegisterCount, len(regs))
	}
	return out, nil
}
