// internal/transport/modbus_backend.go
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

const defaultModbusTimeout = time.Second

// ModbusBackend runs requests through a goburrow client over TCP or RTU.
// The unit id is applied to the handler before every request.
type ModbusBackend struct {
	mu       sync.Mutex
	connect  func() error
	close    func() error
	setUnit  func(id uint8)
	client   modbus.Client
	endpoint string
	logger   *zap.Logger
}

// NewTCPBackend creates a Modbus TCP backend
func NewTCPBackend(settings model.TCPSettings, logger *zap.Logger) *ModbusBackend {
	h := modbus.NewTCPClientHandler(settings.Address())
	h.Timeout = timeoutOrDefault(settings.Timeout)

	return &ModbusBackend{
		connect:  h.Connect,
		close:    h.Close,
		setUnit:  func(id uint8) { h.SlaveId = id },
		client:   modbus.NewClient(h),
		endpoint: "tcp://" + settings.Address(),
		logger:   logger,
	}
}

// NewRTUBackend creates a Modbus RTU backend on a serial line
func NewRTUBackend(settings model.SerialSettings, logger *zap.Logger) *ModbusBackend {
	h := modbus.NewRTUClientHandler(settings.Port)
	if settings.BaudRate > 0 {
		h.BaudRate = settings.BaudRate
	}
	if settings.DataBits > 0 {
		h.DataBits = settings.DataBits
	}
	if settings.StopBits > 0 {
		h.StopBits = settings.StopBits
	}
	if settings.Parity != "" {
		h.Parity = strings.ToUpper(settings.Parity)
	}
	h.Timeout = timeoutOrDefault(settings.Timeout)

	return &ModbusBackend{
		connect:  h.Connect,
		close:    h.Close,
		setUnit:  func(id uint8) { h.SlaveId = id },
		client:   modbus.NewClient(h),
		endpoint: "rtu://" + settings.Port,
		logger:   logger,
	}
}

func timeoutOrDefault(seconds float64) time.Duration {
	if seconds <= 0 {
		return defaultModbusTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

// Endpoint returns the connection target
func (b *ModbusBackend) Endpoint() string {
	return b.endpoint
}

// Open connects the handler
func (b *ModbusBackend) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connect()
}

// Close disconnects the handler
func (b *ModbusBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.close()
}

// Read issues one read function. The goburrow handler takes a single unit
// field whatever keyword the binding carries.
func (b *ModbusBackend) Read(ctx context.Context, req ReadRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setUnit(req.Unit.ID)
	b.logger.Debug("Modbus read",
		zap.String("kind", string(req.Kind)),
		zap.Uint16("address", req.Address),
		zap.Uint16("count", req.Count),
		zap.String(string(req.Unit.Keyword), fmt.Sprint(req.Unit.ID)))

	switch req.Kind {
	case ReadHolding:
		return b.client.ReadHoldingRegisters(req.Address, req.Count)
	case ReadInput:
		return b.client.ReadInputRegisters(req.Address, req.Count)
	case ReadCoils:
		return b.client.ReadCoils(req.Address, req.Count)
	case ReadDiscrete:
		return b.client.ReadDiscreteInputs(req.Address, req.Count)
	default:
		return nil, fmt.Errorf("unsupported read kind %q", req.Kind)
	}
}

// Write uses a single-register write for one value and a multiple-register
// write otherwise
func (b *ModbusBackend) Write(ctx context.Context, req WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setUnit(req.Unit.ID)

	if len(req.Values) == 1 {
		_, err := b.client.WriteSingleRegister(req.Address, req.Values[0])
		return err
	}
	_, err := b.client.WriteMultipleRegisters(req.Address, uint16(len(req.Values)), packRegisters(req.Values))
	return err
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[i*2:], r)
	}
	return out
}
