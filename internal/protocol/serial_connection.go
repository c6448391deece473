// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

const (
	defaultSerialReadTimeout = 100 * time.Millisecond
	lineSettleDelay          = 200 * time.Millisecond
)

// SerialConnection implements StreamProtocol for serial ports
type SerialConnection struct {
	settings model.SerialSettings
	port     serial.Port
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
	stats    ProtocolStats
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(settings model.SerialSettings, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		settings: settings,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", settings.Port),
		),
	}
}

// SerialMode converts settings into a port mode
func SerialMode(settings model.SerialSettings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch settings.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", settings.StopBits)
	}

	switch strings.ToUpper(settings.Parity) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", settings.Parity)
	}
	return mode, nil
}

// Open opens the port, raises DTR and RTS, and discards whatever the meter
// sent before the line settled
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.settings.BaudRate),
	)

	mode, err := SerialMode(sc.settings)
	if err != nil {
		return err
	}

	port, err := serial.Open(sc.settings.Port, mode)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	timeout := time.Duration(sc.settings.Timeout * float64(time.Second))
	if timeout <= 0 || timeout > time.Second {
		timeout = defaultSerialReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := port.SetDTR(true); err != nil {
		sc.logger.Warn("Failed to raise DTR", zap.Error(err))
	}
	if err := port.SetRTS(true); err != nil {
		sc.logger.Warn("Failed to raise RTS", zap.Error(err))
	}

	select {
	case <-time.After(lineSettleDelay):
	case <-ctx.Done():
		port.Close()
		return ctx.Err()
	}

	if err := port.ResetInputBuffer(); err != nil {
		sc.logger.Warn("Failed to reset input buffer", zap.Error(err))
	}

	sc.port = port
	sc.isOpen = true
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	if err := sc.port.Close(); err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.port = nil
	sc.isOpen = false
	sc.stats.IsConnected = false

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.ErrorCount++
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.BytesWritten += int64(len(data))
	sc.stats.OperationCount++
	sc.stats.LastActivity = time.Now()
	return nil
}

// Read reads whatever arrived within the port read timeout
func (sc *SerialConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	port := sc.port
	open := sc.isOpen
	sc.mutex.RUnlock()

	if !open || port == nil {
		return nil, fmt.Errorf("serial port not open")
	}

	buffer := make([]byte, maxBytes)
	done := make(chan readResult, 1)

	go func() {
		n, err := port.Read(buffer)
		if err != nil && err != io.EOF {
			done <- readResult{err: fmt.Errorf("failed to read from serial port: %w", err)}
			return
		}
		done <- readResult{data: buffer[:n]}
	}()

	select {
	case result := <-done:
		sc.mutex.Lock()
		defer sc.mutex.Unlock()
		if result.err != nil {
			sc.stats.ErrorCount++
			return nil, result.err
		}
		sc.stats.BytesRead += int64(len(result.data))
		sc.stats.OperationCount++
		if len(result.data) > 0 {
			sc.stats.LastActivity = time.Now()
		}
		return result.data, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Kind returns the transport kind
func (sc *SerialConnection) Kind() model.TransportKind {
	return model.TransportRTU
}

// Endpoint returns the port name
func (sc *SerialConnection) Endpoint() string {
	return sc.settings.Port
}

// Stats returns a copy of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.stats
}
