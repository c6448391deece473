// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

// CreateStream creates the raw stream transport for a session
func CreateStream(cfg *model.SessionConfig, logger *zap.Logger) (StreamProtocol, error) {
	switch cfg.Transport {
	case model.TransportRTU:
		if cfg.Serial.Port == "" {
			return nil, fmt.Errorf("serial port is required")
		}
		return NewSerialConnection(cfg.Serial, logger), nil
	case model.TransportTCP:
		if cfg.TCP.Host == "" {
			return nil, fmt.Errorf("tcp host is required")
		}
		return NewTCPConnection(cfg.TCP, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol type: %s", cfg.Transport)
	}
}
