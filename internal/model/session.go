// internal/model/session.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"instrument-logger/pkg/register"
)

// TransportKind selects how the instrument is reached
type TransportKind string

const (
	TransportRTU TransportKind = "rtu"
	TransportTCP TransportKind = "tcp"
)

// Function selects what a session acquires
type Function string

const (
	FunctionHolding  Function = "holding"
	FunctionInput    Function = "input"
	FunctionCoils    Function = "coils"
	FunctionDiscrete Function = "discrete"
	FunctionStream   Function = "stream"
)

// IsBitFunction reports whether the function reads single-bit values
func (f Function) IsBitFunction() bool {
	return f == FunctionCoils || f == FunctionDiscrete
}

// SinkType names a sink variant
type SinkType string

const (
	SinkCSV      SinkType = "csv"
	SinkPostgres SinkType = "postgres"
)

// Modbus protocol limits per request
const (
	MaxRegisterCount = 125
	MaxBitCount      = 2000
)

// SerialSettings describes a serial line
type SerialSettings struct {
	Port     string  `json:"port" mapstructure:"port"`
	BaudRate int     `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits int     `json:"data_bits" mapstructure:"data_bits"`
	StopBits int     `json:"stop_bits" mapstructure:"stop_bits"`
	Parity   string  `json:"parity" mapstructure:"parity"`
	Timeout  float64 `json:"timeout" mapstructure:"timeout"`
}

// TCPSettings describes a network endpoint
type TCPSettings struct {
	Host    string  `json:"host" mapstructure:"host"`
	Port    int     `json:"port" mapstructure:"port"`
	Timeout float64 `json:"timeout" mapstructure:"timeout"`
}

// Address returns host:port
func (t TCPSettings) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// SinkConfig selects one output target
type SinkConfig struct {
	Type  SinkType `json:"type" mapstructure:"type"`
	Path  string   `json:"path,omitempty" mapstructure:"path"`
	Table string   `json:"table,omitempty" mapstructure:"table"`
}

// SessionConfig is the immutable configuration of one acquisition session
type SessionConfig struct {
	Name         string         `json:"name" mapstructure:"name"`
	Transport    TransportKind  `json:"transport" mapstructure:"transport"`
	Serial       SerialSettings `json:"serial" mapstructure:"serial"`
	TCP          TCPSettings    `json:"tcp" mapstructure:"tcp"`
	UnitID       uint8          `json:"unit_id" mapstructure:"unit_id"`
	Function     Function       `json:"function" mapstructure:"function"`
	Address      uint16         `json:"address" mapstructure:"address"`
	Count        uint16         `json:"count" mapstructure:"count"`
	Encoding     string         `json:"encoding" mapstructure:"encoding"`
	PollInterval float64        `json:"poll_interval" mapstructure:"poll_interval"`
	LogInterval  float64        `json:"log_interval" mapstructure:"log_interval"`
	StackVersion string         `json:"stack_version" mapstructure:"stack_version"`
	LogOnStart   bool           `json:"log_on_start" mapstructure:"log_on_start"`
	Sinks        []SinkConfig   `json:"sinks" mapstructure:"sinks"`
}

// PollEvery returns the wait between acquisition cycles
func (c *SessionConfig) PollEvery() time.Duration {
	return seconds(c.PollInterval)
}

// LogEvery returns the minimum spacing between rows sent to sinks
func (c *SessionConfig) LogEvery() time.Duration {
	return seconds(c.LogInterval)
}

// Endpoint returns a printable description of where the instrument lives
func (c *SessionConfig) Endpoint() string {
	if c.Transport == TransportTCP {
		return c.TCP.Address()
	}
	return c.Serial.Port
}

// Validate checks the configuration before a session is started
func (c *SessionConfig) Validate() error {
	var problems []string

	switch c.Transport {
	case TransportRTU:
		if c.Serial.Port == "" {
			problems = append(problems, "serial.port is required")
		}
		if c.Serial.BaudRate <= 0 {
			problems = append(problems, "serial.baud_rate must be positive")
		}
		switch strings.ToUpper(c.Serial.Parity) {
		case "N", "E", "O":
		default:
			problems = append(problems, "serial.parity must be N, E or O")
		}
	case TransportTCP:
		if c.TCP.Host == "" {
			problems = append(problems, "tcp.host is required")
		}
		if c.TCP.Port <= 0 || c.TCP.Port > 65535 {
			problems = append(problems, "tcp.port must be between 1 and 65535")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown transport %q", c.Transport))
	}

	switch c.Function {
	case FunctionStream:
	case FunctionHolding, FunctionInput:
		if c.Count == 0 || c.Count > MaxRegisterCount {
			problems = append(problems, fmt.Sprintf("count must be between 1 and %d", MaxRegisterCount))
		}
		enc, err := register.ParseEncoding(c.Encoding)
		if err != nil {
			problems = append(problems, err.Error())
		} else if enc.RegistersPerValue() == 2 && c.Count%2 != 0 {
			problems = append(problems, "count must be even for 32-bit encodings")
		}
	case FunctionCoils, FunctionDiscrete:
		if c.Count == 0 || c.Count > MaxBitCount {
			problems = append(problems, fmt.Sprintf("count must be between 1 and %d", MaxBitCount))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown function %q", c.Function))
	}

	if c.PollInterval <= 0 {
		problems = append(problems, "poll_interval must be positive")
	}
	if c.LogInterval < 0 {
		problems = append(problems, "log_interval must not be negative")
	}

	for i, s := range c.Sinks {
		switch s.Type {
		case SinkCSV:
			if s.Path == "" {
				problems = append(problems, fmt.Sprintf("sinks[%d].path is required", i))
			}
		case SinkPostgres:
			if s.Table == "" {
				problems = append(problems, fmt.Sprintf("sinks[%d].table is required", i))
			}
		default:
			problems = append(problems, fmt.Sprintf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Summary renders the config as a flat JSON object for the session journal
func (c *SessionConfig) Summary() JSONObject {
	raw, err := json.Marshal(c)
	if err != nil {
		return JSONObject{}
	}
	out := JSONObject{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// SessionStatus represents the journal status of a session
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "RUNNING"
	SessionStatusStopped SessionStatus = "STOPPED"
	SessionStatusFailed  SessionStatus = "FAILED"
)

// AcquisitionSession is one journal entry
type AcquisitionSession struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Name       string        `json:"name" db:"name"`
	Transport  TransportKind `json:"transport" db:"transport"`
	Function   Function      `json:"function" db:"function"`
	Endpoint   string        `json:"endpoint" db:"endpoint"`
	Config     JSONObject    `json:"config" db:"config"`
	Status     SessionStatus `json:"status" db:"status"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	StoppedAt  *time.Time    `json:"stopped_at" db:"stopped_at"`
	StopReason *string       `json:"stop_reason" db:"stop_reason"`
	RowsLogged int64         `json:"rows_logged" db:"rows_logged"`
}

// JSONObject type for PostgreSQL JSONB objects
type JSONObject map[string]interface{}

func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
