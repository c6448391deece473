package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFunction_IsBitFunction(t *testing.T) {
	assert.True(t, FunctionCoils.IsBitFunction())
	assert.True(t, FunctionDiscrete.IsBitFunction())
	assert.False(t, FunctionHolding.IsBitFunction())
	assert.False(t, FunctionInput.IsBitFunction())
	assert.False(t, FunctionStream.IsBitFunction())
}

func TestSessionConfig_Validate(t *testing.T) {
	cfg := SessionConfig{
		Transport:    TransportTCP,
		TCP:          TCPSettings{Host: "127.0.0.1", Port: 502},
		Function:     FunctionHolding,
		Count:        2,
		Encoding:     "float32be",
		PollInterval: 0.5,
	}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.PollEvery())
	assert.Equal(t, "127.0.0.1:502", cfg.Endpoint())

	odd := cfg
	odd.Count = 3
	assert.ErrorIs(t, odd.Validate(), ErrInvalidConfig)

	bits := cfg
	bits.Function = FunctionCoils
	bits.Count = 3
	bits.Encoding = ""
	assert.NoError(t, bits.Validate(), "bit reads take any count")
}
