// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"instrument-logger/internal/discovery"
	"instrument-logger/internal/model"
)

// Scanner lists the serial ports of the host
type Scanner struct {
	logger   *zap.Logger
	config   *Config
	detailed func() ([]*enumerator.PortDetails, error)
	basic    func() ([]string, error)
}

// Config for the serial scanner
type Config struct {
	PortPatterns []string `json:"port_patterns"`
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{PortPatterns: getDefaultPortPatterns()}
	}

	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		config:   config,
		detailed: enumerator.GetDetailedPortsList,
		basic:    serial.GetPortsList,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists serial ports. USB details are filled in when the platform
// enumerator provides them.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.Port, error) {
	details, err := s.detailed()
	if err != nil {
		s.logger.Debug("Detailed port enumeration failed, falling back", zap.Error(err))
		names, err := s.basic()
		if err != nil {
			return nil, fmt.Errorf("failed to get serial ports: %w", err)
		}
		details = make([]*enumerator.PortDetails, 0, len(names))
		for _, name := range names {
			details = append(details, &enumerator.PortDetails{Name: name})
		}
	}

	var ports []*discovery.Port
	for _, d := range details {
		select {
		case <-ctx.Done():
			return ports, ctx.Err()
		default:
		}

		if !s.matches(d.Name) {
			continue
		}
		ports = append(ports, &discovery.Port{
			Transport:    model.TransportRTU,
			Name:         d.Name,
			Description:  d.Product,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) matches(name string) bool {
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func getDefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"/dev/tty.*", "/dev/cu.*"}
	default:
		return []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*", "/dev/ttyAMA*"}
	}
}
