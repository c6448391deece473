// internal/model/reading.go
package model

import (
	"math"
	"time"
)

// Polarity represents the sign reported by an instrument display
type Polarity string

const (
	PolarityPositive Polarity = "+"
	PolarityNegative Polarity = "-"
	PolarityUnknown  Polarity = "?"
)

// UnknownUnit is used when a unit code is not in the meter table
const UnknownUnit = "?"

// Reading is one decoded value for a logical channel. Readings are passed by
// value and never mutated after decoding.
type Reading struct {
	ChannelID string    `json:"channel_id"`
	Value     *float64  `json:"value"`
	Unit      string    `json:"unit"`
	Polarity  Polarity  `json:"polarity"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReading builds a reading with a present value
func NewReading(channelID string, value float64, unit string, polarity Polarity, at time.Time) Reading {
	v := value
	return Reading{
		ChannelID: channelID,
		Value:     &v,
		Unit:      unit,
		Polarity:  polarity,
		Timestamp: at,
	}
}

// NullReading builds a reading whose value could not be decoded
func NullReading(channelID string, at time.Time) Reading {
	return Reading{
		ChannelID: channelID,
		Unit:      UnknownUnit,
		Polarity:  PolarityUnknown,
		Timestamp: at,
	}
}

// HasValue reports whether the reading carries a decoded value
func (r Reading) HasValue() bool {
	return r.Value != nil
}

// PolarityOf derives a polarity from a numeric value
func PolarityOf(v float64) Polarity {
	switch {
	case math.IsNaN(v):
		return PolarityUnknown
	case math.Signbit(v):
		return PolarityNegative
	default:
		return PolarityPositive
	}
}
