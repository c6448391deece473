// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

const defaultTCPReadTimeout = 100 * time.Millisecond

// TCPConnection implements StreamProtocol for serial device servers that
// expose the meter line as a TCP socket
type TCPConnection struct {
	settings    model.TCPSettings
	conn        net.Conn
	dial        func(ctx context.Context, network, address string) (net.Conn, error)
	readTimeout time.Duration
	logger      *zap.Logger
	mutex       sync.RWMutex
	isOpen      bool
	stats       ProtocolStats
}

// NewTCPConnection creates a new TCP connection
func NewTCPConnection(settings model.TCPSettings, logger *zap.Logger) *TCPConnection {
	timeout := time.Duration(settings.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	return &TCPConnection{
		settings:    settings,
		dial:        dialer.DialContext,
		readTimeout: defaultTCPReadTimeout,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
		),
	}
}

// Open opens the TCP connection
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	tc.logger.Info("Opening TCP connection")

	conn, err := tc.dial(ctx, "tcp", tc.settings.Address())
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", tc.settings.Address(), err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	tc.conn = conn
	tc.isOpen = true
	tc.stats.IsConnected = true
	tc.stats.LastActivity = time.Now()

	tc.logger.Info("TCP connection opened successfully")
	return nil
}

// Close closes the TCP connection
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	if err := tc.conn.Close(); err != nil {
		tc.logger.Error("Failed to close TCP connection", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	tc.conn = nil
	tc.isOpen = false
	tc.stats.IsConnected = false

	tc.logger.Info("TCP connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes data to the TCP connection
func (tc *TCPConnection) Write(ctx context.Context, data []byte) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return fmt.Errorf("TCP connection not open")
	}

	if deadline, ok := ctx.Deadline(); ok {
		tc.conn.SetWriteDeadline(deadline)
	}

	n, err := tc.conn.Write(data)
	if err != nil {
		tc.stats.ErrorCount++
		tc.logger.Error("TCP write failed", zap.Error(err))
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	tc.stats.BytesWritten += int64(len(data))
	tc.stats.OperationCount++
	tc.stats.LastActivity = time.Now()
	return nil
}

// Read reads whatever arrives within the read timeout. A timeout yields an
// empty slice; a closed peer yields io.EOF.
func (tc *TCPConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	tc.mutex.RLock()
	conn := tc.conn
	open := tc.isOpen
	tc.mutex.RUnlock()

	if !open || conn == nil {
		return nil, fmt.Errorf("TCP connection not open")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(tc.readTimeout))

	buffer := make([]byte, maxBytes)
	n, err := conn.Read(buffer)

	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return buffer[:n], nil
		}
		tc.stats.ErrorCount++
		if errors.Is(err, io.EOF) {
			return buffer[:n], io.EOF
		}
		return nil, fmt.Errorf("failed to read from TCP connection: %w", err)
	}

	tc.stats.BytesRead += int64(n)
	tc.stats.OperationCount++
	tc.stats.LastActivity = time.Now()
	return buffer[:n], nil
}

// Kind returns the transport kind
func (tc *TCPConnection) Kind() model.TransportKind {
	return model.TransportTCP
}

// Endpoint returns host:port
func (tc *TCPConnection) Endpoint() string {
	return tc.settings.Address()
}

// Stats returns a copy of the connection statistics
func (tc *TCPConnection) Stats() ProtocolStats {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.stats
}
