package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instrument-logger/internal/aggregator"
	"instrument-logger/internal/frame"
	"instrument-logger/internal/metrics"
	"instrument-logger/internal/model"
	"instrument-logger/internal/protocol"
	"instrument-logger/internal/sink"
	"instrument-logger/internal/transport"
	"instrument-logger/internal/utils"
)

type fakeStream struct {
	mu      sync.Mutex
	chunks  [][]byte
	openErr error
	readErr error
	open    bool
}

func (f *fakeStream) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = true
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeStream) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeStream) Write(ctx context.Context, data []byte) error { return nil }

func (f *fakeStream) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return []byte{}, nil
	}
	chunk := f.chunks[0]
	f.chunks = f.chunks[1:]
	return chunk, nil
}

func (f *fakeStream) Kind() model.TransportKind     { return model.TransportRTU }
func (f *fakeStream) Endpoint() string              { return "fake-stream" }
func (f *fakeStream) Stats() protocol.ProtocolStats { return protocol.ProtocolStats{} }

func TestStreamAcquirer_FramesAcrossReads(t *testing.T) {
	stream := &fakeStream{chunks: [][]byte{
		[]byte("\x024101010000"),
		[]byte("2150\r\x0242020100000777\r"),
		[]byte("\x02garbage\r"),
	}}
	acq := NewStreamAcquirer(stream, zap.NewNop())
	require.NoError(t, acq.Open(context.Background()))

	readings, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, readings)

	readings, err = acq.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "41", readings[0].ChannelID)
	assert.InDelta(t, 215.0, *readings[0].Value, 1e-9)
	assert.Equal(t, "C", readings[0].Unit)
	assert.Equal(t, "42", readings[1].ChannelID)
	assert.InDelta(t, 77.7, *readings[1].Value, 1e-9)
	assert.Equal(t, "F", readings[1].Unit)

	readings, err = acq.Acquire(context.Background())
	require.NoError(t, err, "malformed frames are dropped")
	assert.Empty(t, readings)

	require.NoError(t, acq.Close())
	assert.False(t, stream.IsOpen())
}

func TestStreamAcquirer_Errors(t *testing.T) {
	acq := NewStreamAcquirer(&fakeStream{openErr: errors.New("no such port")}, zap.NewNop())
	assert.ErrorIs(t, acq.Open(context.Background()), model.ErrTransport)

	acq = NewStreamAcquirer(&fakeStream{readErr: errors.New("unplugged")}, zap.NewNop())
	_, err := acq.Acquire(context.Background())
	assert.ErrorIs(t, err, model.ErrTransport)
}

// bufferedStream hands out up to maxBytes per read from a receive buffer
type bufferedStream struct {
	fakeStream
	buf   []byte
	reads int
}

func (b *bufferedStream) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	n := min(maxBytes, len(b.buf))
	out := append([]byte(nil), b.buf[:n]...)
	b.buf = b.buf[n:]
	return out, nil
}

func (b *bufferedStream) push(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
}

func (b *bufferedStream) queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func TestStreamAcquirer_DrainsBacklogEachCycle(t *testing.T) {
	stream := &bufferedStream{}
	acq := NewStreamAcquirer(stream, zap.NewNop())
	require.NoError(t, acq.Open(context.Background()))

	burst := bytes.Repeat([]byte("\x0241010100002150\r"), 30)
	require.Greater(t, len(burst), streamReadSize)

	for cycle := 0; cycle < 5; cycle++ {
		stream.push(burst)
		readings, err := acq.Acquire(context.Background())
		require.NoError(t, err)
		assert.Len(t, readings, 30, "cycle %d", cycle)
		assert.Zero(t, stream.queued(), "cycle %d", cycle)
	}
}

func resyncs(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.FrameResyncsTotal.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStreamAcquirer_CountsResyncs(t *testing.T) {
	stream := &bufferedStream{}
	acq := NewStreamAcquirer(stream, zap.NewNop())
	require.NoError(t, acq.Open(context.Background()))

	before := resyncs(t)

	stream.push([]byte{frame.STX})
	stream.push(bytes.Repeat([]byte("A"), frame.DefaultMaxPending+streamReadSize))
	stream.push([]byte("\x0241010100002150\r"))

	readings, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1, "the next frame after the resync decodes")
	assert.InDelta(t, 215.0, *readings[0].Value, 1e-9)
	assert.Equal(t, before+1, resyncs(t))
}

func TestStreamAcquirer_DrainIsBounded(t *testing.T) {
	stream := &bufferedStream{}
	stream.push(bytes.Repeat([]byte{0}, (maxDrainReads+10)*streamReadSize))
	acq := NewStreamAcquirer(stream, zap.NewNop())

	_, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maxDrainReads, stream.reads)
	assert.Equal(t, 10*streamReadSize, stream.queued())
}

type scriptedBackend struct {
	payload []byte
	writes  []transport.WriteRequest
	reads   []transport.ReadRequest
}

func (b *scriptedBackend) Open(ctx context.Context) error { return nil }
func (b *scriptedBackend) Close() error                   { return nil }
func (b *scriptedBackend) Endpoint() string               { return "tcp://fake:502" }

func (b *scriptedBackend) Read(ctx context.Context, req transport.ReadRequest) ([]byte, error) {
	b.reads = append(b.reads, req)
	return b.payload, nil
}

func (b *scriptedBackend) Write(ctx context.Context, req transport.WriteRequest) error {
	b.writes = append(b.writes, req)
	return nil
}

func newModbusAcquirer(t *testing.T, backend transport.Backend, cfg *model.SessionConfig) *ModbusAcquirer {
	t.Helper()
	adapter := transport.NewAdapter(backend, transport.DefaultVersion, zap.NewNop())
	acq, err := NewModbusAcquirer(adapter, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, acq.Open(context.Background()))
	return acq
}

func TestModbusAcquirer_Float32(t *testing.T) {
	backend := &scriptedBackend{payload: []byte{0x42, 0x48, 0x00, 0x00, 0x3f, 0x80, 0x00, 0x00}}
	acq := newModbusAcquirer(t, backend, &model.SessionConfig{
		Function: model.FunctionHolding,
		Address:  100,
		Count:    4,
		UnitID:   7,
		Encoding: "float32be",
	})

	readings, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, "100", readings[0].ChannelID)
	assert.InDelta(t, 50.0, *readings[0].Value, 1e-6)
	assert.Equal(t, "102", readings[1].ChannelID)
	assert.InDelta(t, 1.0, *readings[1].Value, 1e-6)

	require.Len(t, backend.reads, 1)
	assert.Equal(t, transport.KeywordDeviceID, backend.reads[0].Unit.Keyword)
	assert.Equal(t, uint8(7), backend.reads[0].Unit.ID)
}

func TestModbusAcquirer_ShortPayloadYieldsNulls(t *testing.T) {
	backend := &scriptedBackend{payload: []byte{0x42, 0x48, 0x00, 0x00, 0x3f, 0x80}}
	acq := newModbusAcquirer(t, backend, &model.SessionConfig{
		Function: model.FunctionInput,
		Count:    4,
		Encoding: "float32",
	})

	readings, err := acq.Acquire(context.Background())
	assert.ErrorIs(t, err, model.ErrDecode)
	require.Len(t, readings, 2)
	assert.True(t, readings[0].HasValue())
	assert.False(t, readings[1].HasValue())
	assert.Equal(t, model.UnknownUnit, readings[1].Unit)
}

func TestModbusAcquirer_Bits(t *testing.T) {
	backend := &scriptedBackend{payload: []byte{0x05}}
	acq := newModbusAcquirer(t, backend, &model.SessionConfig{
		Function: model.FunctionCoils,
		Address:  10,
		Count:    3,
	})

	readings, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, 1.0, *readings[0].Value)
	assert.Equal(t, 0.0, *readings[1].Value)
	assert.Equal(t, 1.0, *readings[2].Value)
	assert.Equal(t, "12", readings[2].ChannelID)
}

func TestModbusAcquirer_WriteAndValidation(t *testing.T) {
	backend := &scriptedBackend{}
	acq := newModbusAcquirer(t, backend, &model.SessionConfig{
		Function: model.FunctionHolding,
		Count:    2,
		UnitID:   3,
	})

	ack, err := acq.WriteRegisters(context.Background(), 20, []uint16{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Count)
	require.Len(t, backend.writes, 1)
	assert.Equal(t, uint8(3), backend.writes[0].Unit.ID)

	adapter := transport.NewAdapter(backend, transport.DefaultVersion, zap.NewNop())
	_, err = NewModbusAcquirer(adapter, &model.SessionConfig{Function: model.FunctionHolding, Encoding: "float64"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewModbusAcquirer(adapter, &model.SessionConfig{Function: model.FunctionStream}, zap.NewNop())
	assert.Error(t, err)
}

func TestModbusAcquirer_InScheduler(t *testing.T) {
	backend := &scriptedBackend{payload: []byte{0x00, 0x2a}}
	adapter := transport.NewAdapter(backend, transport.DefaultVersion, zap.NewNop())
	acq, err := NewModbusAcquirer(adapter, &model.SessionConfig{
		Function: model.FunctionHolding,
		Count:    1,
		Encoding: "u16",
	}, zap.NewNop())
	require.NoError(t, err)

	out := &collectingSink{}
	logger := utils.NewSessionLogger(zap.NewNop(), "test", "tcp", "holding", acq.Endpoint())
	s := NewScheduler(uuid.New(), acq, aggregator.New(aggregator.LayoutRegisters),
		sink.NewDispatcher(zap.NewNop(), out), nil, logger, Options{PollInterval: 2 * time.Millisecond, Logging: true})
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return out.count() > 0 }, 2*time.Second, time.Millisecond)
	stop(t, s)

	assert.Equal(t, []any{42.0}, out.rows[0])
}
