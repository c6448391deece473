// pkg/register/encoding.go
package register

import (
	"fmt"
	"math"
	"strings"
)

// Kind is the value type carried by registers
type Kind string

const (
	KindFloat32 Kind = "float32"
	KindU16     Kind = "u16"
)

// Encoding couples a value kind with a byte order
type Encoding struct {
	Kind  Kind      `json:"kind"`
	Order ByteOrder `json:"order,omitempty"`
}

// DefaultEncoding is used when a session names none
var DefaultEncoding = Encoding{Kind: KindFloat32, Order: ABCD}

var encodingAliases = map[string]Encoding{
	"float32":     {Kind: KindFloat32, Order: ABCD},
	"float32be":   {Kind: KindFloat32, Order: ABCD},
	"float32le":   {Kind: KindFloat32, Order: DCBA},
	"float32abcd": {Kind: KindFloat32, Order: ABCD},
	"float32badc": {Kind: KindFloat32, Order: BADC},
	"float32cdab": {Kind: KindFloat32, Order: CDAB},
	"float32dcba": {Kind: KindFloat32, Order: DCBA},
	"u16":         {Kind: KindU16},
	"uint16":      {Kind: KindU16},
}

// ParseEncoding resolves tokens such as "float32be", "float32[cdab]", "BADC"
// or "u16". An empty token yields DefaultEncoding.
func ParseEncoding(token string) (Encoding, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return DefaultEncoding, nil
	}
	t = strings.NewReplacer("[", "", "]", "", "_", "", "-", "").Replace(t)

	if enc, ok := encodingAliases[t]; ok {
		return enc, nil
	}
	if order, err := ParseByteOrder(t); err == nil {
		return Encoding{Kind: KindFloat32, Order: order}, nil
	}
	return Encoding{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, token)
}

func (e Encoding) String() string {
	if e.Kind == KindU16 {
		return string(KindU16)
	}
	return fmt.Sprintf("%s[%s]", e.Kind, strings.ToLower(string(e.Order)))
}

// RegistersPerValue returns how many registers make one value
func (e Encoding) RegistersPerValue() int {
	if e.Kind == KindFloat32 {
		return 2
	}
	return 1
}

// Decode converts raw registers into values
func (e Encoding) Decode(regs []uint16) ([]*float64, error) {
	switch e.Kind {
	case KindFloat32:
		return DecodeFloats(regs, e.Order)
	case KindU16:
		out := make([]*float64, len(regs))
		for i, r := range regs {
			v := float64(DecodeU16(r))
			out[i] = &v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedEncoding, e.Kind)
	}
}

// Encode converts values into registers for a write
func (e Encoding) Encode(values []float64) ([]uint16, error) {
	switch e.Kind {
	case KindFloat32:
		out := make([]uint16, 0, len(values)*2)
		for _, v := range values {
			hi, lo, err := EncodeFloat32(v, e.Order)
			if err != nil {
				return nil, err
			}
			out = append(out, hi, lo)
		}
		return out, nil
	case KindU16:
		out := make([]uint16, len(values))
		for i, v := range values {
			if v < 0 || v > math.MaxUint16 || v != math.Trunc(v) {
				return nil, fmt.Errorf("value %v at index %d does not fit an unsigned 16-bit register", v, i)
			}
			out[i] = uint16(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedEncoding, e.Kind)
	}
}
