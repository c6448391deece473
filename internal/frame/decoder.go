// internal/frame/decoder.go
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"instrument-logger/internal/model"
)

// MinFrameLength is the shortest stripped frame that carries a value
const MinFrameLength = 14

var (
	ErrNotASCII     = errors.New("frame is not ascii")
	ErrShortFrame   = errors.New("frame too short")
	ErrBadDecimal   = errors.New("decimal position is not numeric")
	ErrBadMagnitude = errors.New("value field is not numeric")
)

// Display headers sent by multi-display meters
const (
	HeaderUpper  = "41"
	HeaderMiddle = "42"
	HeaderLower  = "43"
)

var displayNames = map[string]string{
	HeaderUpper:  "upper",
	HeaderMiddle: "middle",
	HeaderLower:  "lower",
}

var unitCodes = map[string]string{
	"01": "C",
	"02": "F",
	"04": "%RH",
	"91": "hPa",
	"80": "mmH2O",
	"78": "mmHg",
}

// UnitForCode maps a unit code to its symbol. Unknown codes yield model.UnknownUnit.
func UnitForCode(code string) string {
	if unit, ok := unitCodes[code]; ok {
		return unit
	}
	return model.UnknownUnit
}

// DisplayName maps a header to a display name, or returns the header itself
func DisplayName(header string) string {
	if name, ok := displayNames[header]; ok {
		return name
	}
	return header
}

func polarityForCode(c byte) model.Polarity {
	switch c {
	case '0':
		return model.PolarityPositive
	case '1':
		return model.PolarityNegative
	default:
		return model.PolarityUnknown
	}
}

// Decode parses one frame body. After surrounding whitespace is stripped the
// layout is: [0:2] header, [2:4] unit code, [4] polarity, [5] decimal
// position, [6:14] unsigned magnitude. The reading value is the magnitude
// scaled by the decimal position; polarity is reported separately.
// Every failure is returned as an error wrapping model.ErrFrame.
func Decode(frame []byte, at time.Time) (model.Reading, error) {
	for _, b := range frame {
		if b > 0x7F {
			return model.Reading{}, model.Wrap(model.ErrFrame, "decode", ErrNotASCII)
		}
	}

	text := strings.TrimSpace(string(frame))
	if len(text) < MinFrameLength {
		return model.Reading{}, model.Wrap(model.ErrFrame, "decode",
			fmt.Errorf("%w: %d bytes", ErrShortFrame, len(text)))
	}

	header := text[0:2]
	unit := UnitForCode(text[2:4])
	polarity := polarityForCode(text[4])

	dp := text[5]
	if dp < '0' || dp > '9' {
		return model.Reading{}, model.Wrap(model.ErrFrame, "decode",
			fmt.Errorf("%w: %q", ErrBadDecimal, dp))
	}

	raw := text[6:14]
	if strings.IndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return model.Reading{}, model.Wrap(model.ErrFrame, "decode",
			fmt.Errorf("%w: %q", ErrBadMagnitude, raw))
	}
	magnitude, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.Reading{}, model.Wrap(model.ErrFrame, "decode", err)
	}

	value, _ := decimal.New(magnitude, -int32(dp-'0')).Float64()
	return model.NewReading(header, value, unit, polarity, at), nil
}
