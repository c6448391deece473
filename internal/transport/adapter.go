// internal/transport/adapter.go
package transport

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

// ReadKind selects the Modbus data table
type ReadKind string

const (
	ReadHolding  ReadKind = "holding"
	ReadInput    ReadKind = "input"
	ReadCoils    ReadKind = "coils"
	ReadDiscrete ReadKind = "discrete"
)

// IsBits reports whether the table holds single bits
func (k ReadKind) IsBits() bool {
	return k == ReadCoils || k == ReadDiscrete
}

// ReadKindFor maps a session function to a data table
func ReadKindFor(f model.Function) (ReadKind, error) {
	switch f {
	case model.FunctionHolding:
		return ReadHolding, nil
	case model.FunctionInput:
		return ReadInput, nil
	case model.FunctionCoils:
		return ReadCoils, nil
	case model.FunctionDiscrete:
		return ReadDiscrete, nil
	default:
		return "", fmt.Errorf("function %q is not a register read", f)
	}
}

// ReadRequest is passed to a Backend
type ReadRequest struct {
	Kind    ReadKind
	Address uint16
	Count   uint16
	Unit    UnitBinding
}

// WriteRequest is passed to a Backend
type WriteRequest struct {
	Address uint16
	Values  []uint16
	Unit    UnitBinding
}

// Backend performs raw Modbus calls and returns the response payload
type Backend interface {
	Open(ctx context.Context) error
	Close() error
	Read(ctx context.Context, req ReadRequest) ([]byte, error)
	Write(ctx context.Context, req WriteRequest) error
	Endpoint() string
}

// Result of a read. Exactly one of Registers and Bits is set.
type Result struct {
	Kind      ReadKind `json:"kind"`
	Address   uint16   `json:"address"`
	Registers []uint16 `json:"registers,omitempty"`
	Bits      []bool   `json:"bits,omitempty"`
}

// Ack confirms a write
type Ack struct {
	Address uint16 `json:"address"`
	Count   int    `json:"count"`
}

// ConnectionError is returned when the transport cannot be opened or used
type ConnectionError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{model.ErrTransport, e.Err}
}

// DecodeError is returned alongside a partial Result when a successful read
// carried a payload that could not be fully decoded
type DecodeError struct {
	Kind    ReadKind
	Address uint16
	Want    int
	Got     int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s read at %d: payload of %d bytes, expected %d", e.Kind, e.Address, e.Got, e.Want)
}

func (e *DecodeError) Unwrap() error {
	return model.ErrDecode
}

// Adapter issues reads and writes with the unit addressing convention of the
// configured stack version. The convention is chosen once, at construction.
type Adapter struct {
	backend   Backend
	version   Version
	keyword   UnitKeyword
	connected bool
	logger    *zap.Logger
}

// NewAdapter creates an adapter over backend
func NewAdapter(backend Backend, version Version, logger *zap.Logger) *Adapter {
	return &Adapter{
		backend: backend,
		version: version,
		keyword: SelectKeyword(version),
		logger:  logger,
	}
}

// Keyword returns the unit keyword in use
func (a *Adapter) Keyword() UnitKeyword {
	return a.keyword
}

// Endpoint describes where the backend connects
func (a *Adapter) Endpoint() string {
	return a.backend.Endpoint()
}

func (a *Adapter) bind(unitID uint8) UnitBinding {
	return UnitBinding{Keyword: a.keyword, ID: unitID}
}

// Connect opens the backend
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.backend.Open(ctx); err != nil {
		return &ConnectionError{Endpoint: a.backend.Endpoint(), Op: "connect", Err: err}
	}
	a.connected = true

	a.logger.Info("Modbus transport connected",
		zap.String("endpoint", a.backend.Endpoint()),
		zap.String("stack_version", a.version.String()),
		zap.String("unit_keyword", string(a.keyword)))
	return nil
}

// Close releases the backend
func (a *Adapter) Close() error {
	if !a.connected {
		return nil
	}
	a.connected = false
	return a.backend.Close()
}

// Read reads count registers or bits starting at address. A *DecodeError is
// returned together with whatever part of the payload could be decoded.
func (a *Adapter) Read(ctx context.Context, kind ReadKind, address, count uint16, unitID uint8) (Result, error) {
	if !a.connected {
		return Result{}, &ConnectionError{Endpoint: a.backend.Endpoint(), Op: "read", Err: fmt.Errorf("not connected")}
	}

	payload, err := a.backend.Read(ctx, ReadRequest{
		Kind:    kind,
		Address: address,
		Count:   count,
		Unit:    a.bind(unitID),
	})
	if err != nil {
		return Result{}, &ConnectionError{Endpoint: a.backend.Endpoint(), Op: "read " + string(kind), Err: err}
	}

	result := Result{Kind: kind, Address: address}
	if kind.IsBits() {
		bits, derr := unpackBits(payload, count)
		result.Bits = bits
		if derr != nil {
			derr.Kind, derr.Address = kind, address
			return result, derr
		}
		return result, nil
	}

	regs, derr := unpackRegisters(payload, count)
	result.Registers = regs
	if derr != nil {
		derr.Kind, derr.Address = kind, address
		return result, derr
	}
	return result, nil
}

// Write writes values starting at address
func (a *Adapter) Write(ctx context.Context, address uint16, values []uint16, unitID uint8) (Ack, error) {
	if !a.connected {
		return Ack{}, &ConnectionError{Endpoint: a.backend.Endpoint(), Op: "write", Err: fmt.Errorf("not connected")}
	}
	if len(values) == 0 {
		return Ack{}, fmt.Errorf("write at %d: no values", address)
	}

	err := a.backend.Write(ctx, WriteRequest{
		Address: address,
		Values:  values,
		Unit:    a.bind(unitID),
	})
	if err != nil {
		return Ack{}, &ConnectionError{Endpoint: a.backend.Endpoint(), Op: "write", Err: err}
	}

	a.logger.Info("Registers written",
		zap.Uint16("address", address),
		zap.Int("count", len(values)),
		zap.Uint8("unit_id", unitID))
	return Ack{Address: address, Count: len(values)}, nil
}

func unpackRegisters(payload []byte, count uint16) ([]uint16, *DecodeError) {
	n := len(payload) / 2
	regs := make([]uint16, n)
	for i := 0; i < n; i++ {
		regs[i] = binary.BigEndian.Uint16(payload[i*2:])
	}
	if len(payload)%2 != 0 || n < int(count) {
		return regs, &DecodeError{Want: int(count) * 2, Got: len(payload)}
	}
	return regs[:count], nil
}

func unpackBits(payload []byte, count uint16) ([]bool, *DecodeError) {
	available := len(payload) * 8
	n := int(count)
	if available < n {
		n = available
	}
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = payload[i/8]&(1<<(uint(i)%8)) != 0
	}
	if n < int(count) {
		return bits, &DecodeError{Want: (int(count) + 7) / 8, Got: len(payload)}
	}
	return bits, nil
}
