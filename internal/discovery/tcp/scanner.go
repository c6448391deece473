// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-logger/internal/discovery"
	"instrument-logger/internal/model"
)

// Scanner probes known network endpoints (Modbus TCP gateways, serial
// device servers) and reports the reachable ones
type Scanner struct {
	logger *zap.Logger
	config *Config
	dialer net.Dialer
}

// Config for the TCP scanner
type Config struct {
	Endpoints   []model.TCPSettings `json:"endpoints"`
	ConnTimeout time.Duration       `json:"connection_timeout"`
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.ConnTimeout <= 0 {
		config.ConnTimeout = time.Second
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "tcp")),
		config: config,
		dialer: net.Dialer{Timeout: config.ConnTimeout},
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

// IsAvailable reports whether there is anything to probe
func (s *Scanner) IsAvailable() bool {
	return len(s.config.Endpoints) > 0
}

// Scan dials every endpoint concurrently
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	reachable := make([]bool, len(s.config.Endpoints))

	var wg sync.WaitGroup
	for i, ep := range s.config.Endpoints {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			conn, err := s.dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				s.logger.Debug("Endpoint unreachable", zap.String("address", addr), zap.Error(err))
				return
			}
			conn.Close()
			reachable[i] = true
		}(i, ep.Address())
	}
	wg.Wait()

	var ports []*discovery.Port
	for i, ep := range s.config.Endpoints {
		if !reachable[i] {
			continue
		}
		ports = append(ports, &discovery.Port{
			Transport:   model.TransportTCP,
			Name:        ep.Address(),
			Description: "reachable on port " + strconv.Itoa(ep.Port),
		})
	}

	s.logger.Debug("TCP scan completed", zap.Int("ports_found", len(ports)))
	return ports, ctx.Err()
}
