package discovery_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instrument-logger/internal/discovery"
	"instrument-logger/internal/discovery/tcp"
	"instrument-logger/internal/model"
)

type stubScanner struct {
	kind      string
	available bool
	ports     []*discovery.Port
	err       error
}

func (s *stubScanner) Scan(ctx context.Context) ([]*discovery.Port, error) { return s.ports, s.err }
func (s *stubScanner) GetScannerType() string                             { return s.kind }
func (s *stubScanner) IsAvailable() bool                                  { return s.available }

func TestScannerManager_ScanAll(t *testing.T) {
	m := discovery.NewScannerManager(zap.NewNop())
	m.RegisterScanner(&stubScanner{kind: "serial", available: true, ports: []*discovery.Port{{Name: "/dev/ttyUSB0"}}})
	m.RegisterScanner(&stubScanner{kind: "broken", available: true, err: errors.New("boom")})
	m.RegisterScanner(&stubScanner{kind: "off", available: false, ports: []*discovery.Port{{Name: "x"}}})

	ports, err := m.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)

	assert.Equal(t, []string{"broken", "serial"}, m.GetAvailableScanners())

	_, err = m.ScanByType(context.Background(), "off")
	assert.Error(t, err)
	_, err = m.ScanByType(context.Background(), "missing")
	assert.Error(t, err)
}

func TestTCPScanner_ReportsReachableEndpoints(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	s := tcp.NewScanner(zap.NewNop(), &tcp.Config{Endpoints: []model.TCPSettings{
		{Host: "127.0.0.1", Port: port},
		{Host: "127.0.0.1", Port: closedPort},
	}})
	require.True(t, s.IsAvailable())

	ports, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, model.TransportTCP, ports[0].Transport)
	assert.Equal(t, ln.Addr().String(), ports[0].Name)

	assert.False(t, tcp.NewScanner(zap.NewNop(), nil).IsAvailable())
}
