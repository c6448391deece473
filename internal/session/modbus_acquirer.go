// internal/session/modbus_acquirer.go
package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"instrument-logger/internal/metrics"
	"instrument-logger/internal/model"
	"instrument-logger/internal/transport"
	"instrument-logger/pkg/register"
)

// RegisterWriter is implemented by acquirers that can write registers
type RegisterWriter interface {
	WriteRegisters(ctx context.Context, address uint16, values []uint16) (transport.Ack, error)
}

// ModbusAcquirer polls one block of registers or bits per cycle. Each value
// becomes a reading whose channel id is its start address.
type ModbusAcquirer struct {
	adapter  *transport.Adapter
	kind     transport.ReadKind
	address  uint16
	count    uint16
	unitID   uint8
	encoding register.Encoding
	logger   *zap.Logger
	now      func() time.Time
}

// NewModbusAcquirer creates an acquirer for the block described by cfg
func NewModbusAcquirer(adapter *transport.Adapter, cfg *model.SessionConfig, logger *zap.Logger) (*ModbusAcquirer, error) {
	kind, err := transport.ReadKindFor(cfg.Function)
	if err != nil {
		return nil, err
	}

	enc := register.Encoding{Kind: register.KindU16}
	if !cfg.Function.IsBitFunction() {
		enc, err = register.ParseEncoding(cfg.Encoding)
		if err != nil {
			return nil, err
		}
	}

	return &ModbusAcquirer{
		adapter:  adapter,
		kind:     kind,
		address:  cfg.Address,
		count:    cfg.Count,
		unitID:   cfg.UnitID,
		encoding: enc,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Open connects the adapter
func (a *ModbusAcquirer) Open(ctx context.Context) error {
	return a.adapter.Connect(ctx)
}

// Acquire reads the block. Values that could not be decoded are returned as
// null readings together with an error wrapping model.ErrDecode.
func (a *ModbusAcquirer) Acquire(ctx context.Context) ([]model.Reading, error) {
	res, err := a.adapter.Read(ctx, a.kind, a.address, a.count, a.unitID)
	var decodeErr error
	if err != nil {
		if !errors.Is(err, model.ErrDecode) {
			return nil, err
		}
		decodeErr = err
	}

	now := a.now()
	var readings []model.Reading

	if a.kind.IsBits() {
		readings = make([]model.Reading, 0, a.count)
		for i := 0; i < int(a.count); i++ {
			ch := a.channel(i)
			if i >= len(res.Bits) {
				readings = append(readings, model.NullReading(ch, now))
				continue
			}
			v := 0.0
			if res.Bits[i] {
				v = 1
			}
			readings = append(readings, model.NewReading(ch, v, "", model.PolarityPositive, now))
		}
	} else {
		values, err := a.encoding.Decode(res.Registers)
		if err != nil {
			decodeErr = errors.Join(decodeErr, model.Wrap(model.ErrDecode, "decode "+a.encoding.String(), err))
		}

		per := a.encoding.RegistersPerValue()
		expected := (int(a.count) + per - 1) / per
		readings = make([]model.Reading, 0, expected)
		for i := 0; i < expected; i++ {
			ch := a.channel(i * per)
			if i >= len(values) || values[i] == nil {
				readings = append(readings, model.NullReading(ch, now))
				continue
			}
			v := *values[i]
			readings = append(readings, model.NewReading(ch, v, "", model.PolarityOf(v), now))
		}
	}

	if decodeErr != nil {
		metrics.DecodeErrorsTotal.Inc()
	}
	return readings, decodeErr
}

func (a *ModbusAcquirer) channel(offset int) string {
	return strconv.Itoa(int(a.address) + offset)
}

// WriteRegisters writes raw register values to the same unit
func (a *ModbusAcquirer) WriteRegisters(ctx context.Context, address uint16, values []uint16) (transport.Ack, error) {
	return a.adapter.Write(ctx, address, values, a.unitID)
}

// Close disconnects the adapter
func (a *ModbusAcquirer) Close() error {
	return a.adapter.Close()
}

// Endpoint describes the transport
func (a *ModbusAcquirer) Endpoint() string {
	return a.adapter.Endpoint()
}

// ErrWriteUnsupported is returned when the session transport cannot write
var ErrWriteUnsupported = errors.New("session transport does not support register writes")

// WriteRegisters writes through the session transport. The write runs on
// the worker goroutine between two polling cycles.
func (s *Scheduler) WriteRegisters(ctx context.Context, address uint16, values []uint16) (transport.Ack, error) {
	var ack transport.Ack
	err := s.Exec(ctx, func(ctx context.Context, acq Acquirer) error {
		w, ok := acq.(RegisterWriter)
		if !ok {
			return ErrWriteUnsupported
		}
		var err error
		ack, err = w.WriteRegisters(ctx, address, values)
		return err
	})
	return ack, err
}
