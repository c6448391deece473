package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instrument-logger/internal/aggregator"
	"instrument-logger/internal/model"
	"instrument-logger/internal/sink"
	"instrument-logger/internal/transport"
	"instrument-logger/internal/utils"
)

type cycle struct {
	readings []model.Reading
	err      error
	panics   bool
}

type fakeAcquirer struct {
	mu      sync.Mutex
	openErr error
	script  []cycle
	calls   int
	closed  bool
	writes  [][]uint16
}

func (f *fakeAcquirer) Open(ctx context.Context) error { return f.openErr }

func (f *fakeAcquirer) Acquire(ctx context.Context) ([]model.Reading, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	c := f.script[idx]
	f.mu.Unlock()

	if c.panics {
		panic("acquire exploded")
	}
	return c.readings, c.err
}

func (f *fakeAcquirer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAcquirer) Endpoint() string { return "fake" }

func (f *fakeAcquirer) WriteRegisters(ctx context.Context, address uint16, values []uint16) (transport.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, values)
	return transport.Ack{Address: address, Count: len(values)}, nil
}

func (f *fakeAcquirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAcquirer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type collectingSink struct {
	mu     sync.Mutex
	rows   [][]any
	closed bool
}

func (c *collectingSink) Name() string                          { return "collect" }
func (c *collectingSink) EnsureReady(ctx context.Context) error { return nil }

func (c *collectingSink) Record(ctx context.Context, ts time.Time, values []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, values)
}

func (c *collectingSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *collectingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

type eventLog struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (e *eventLog) Publish(ev model.SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) statuses(t model.EventType) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (e *eventLog) count(t model.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func upper(v float64) model.Reading {
	return model.NewReading("41", v, "C", model.PolarityPositive, time.Now())
}

func newTestScheduler(acq Acquirer, logging bool, sinks ...sink.Sink) (*Scheduler, *eventLog) {
	events := &eventLog{}
	logger := utils.NewSessionLogger(zap.NewNop(), "test", "rtu", "stream", "fake")
	s := NewScheduler(uuid.New(), acq, aggregator.New(aggregator.LayoutDisplay),
		sink.NewDispatcher(zap.NewNop(), sinks...), events, logger, Options{
			PollInterval: 2 * time.Millisecond,
			ErrorBackoff: 2 * time.Millisecond,
			Logging:      logging,
		})
	return s, events
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_ConnectFailureReturnsToIdle(t *testing.T) {
	acq := &fakeAcquirer{openErr: errors.New("port busy")}
	s, events := newTestScheduler(acq, true)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []string{model.StatusConnecting, model.StatusConnectionFailed}, events.statuses(model.EventConnectionStatus))
	assert.Contains(t, s.Status().LastError, "port busy")
}

func TestScheduler_PollsAndDispatches(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{readings: []model.Reading{upper(21.5)}}}}
	out := &collectingSink{}
	s, events := newTestScheduler(acq, true, out)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StatePolling, s.State())

	assert.Eventually(t, func() bool { return out.count() >= 3 }, 2*time.Second, time.Millisecond)
	stop(t, s)

	assert.Equal(t, StateIdle, s.State())
	assert.True(t, acq.isClosed())
	assert.True(t, out.closed)
	assert.Equal(t, []any{21.5, "C", "+"}, out.rows[0])
	assert.Equal(t,
		[]string{model.StatusConnecting, model.StatusConnected, model.StatusDisconnected},
		events.statuses(model.EventConnectionStatus))
	assert.Greater(t, events.count(model.EventReading), 0)

	st := s.Status()
	assert.Equal(t, int64(out.count()), st.RowsLogged)
	require.Len(t, st.Readings, 1)
	assert.Equal(t, "41", st.Readings[0].ChannelID)
}

func TestScheduler_CycleFailuresAreContained(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{
		{err: model.Wrap(model.ErrTransport, "read", errors.New("timeout"))},
		{panics: true},
		{readings: []model.Reading{upper(1)}},
	}}
	out := &collectingSink{}
	s, events := newTestScheduler(acq, true, out)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return out.count() > 0 }, 2*time.Second, time.Millisecond)
	stop(t, s)

	assert.GreaterOrEqual(t, acq.callCount(), 3)
	assert.Equal(t, 2, events.count(model.EventError))
}

func TestScheduler_DecodeErrorStillEmits(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{
		readings: []model.Reading{upper(3)},
		err:      model.Wrap(model.ErrDecode, "decode", errors.New("odd")),
	}}}
	out := &collectingSink{}
	s, events := newTestScheduler(acq, true, out)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return out.count() > 0 }, 2*time.Second, time.Millisecond)
	stop(t, s)

	assert.Greater(t, events.count(model.EventError), 0)
}

func TestScheduler_LoggingToggle(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{readings: []model.Reading{upper(5)}}}}
	out := &collectingSink{}
	s, events := newTestScheduler(acq, false, out)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return acq.callCount() > 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, out.count())

	s.SetLogging(true)
	assert.True(t, s.Logging())
	assert.Eventually(t, func() bool { return out.count() > 0 }, 2*time.Second, time.Millisecond)
	s.SetLogging(true)
	stop(t, s)

	assert.Equal(t,
		[]string{model.StatusNotLogging, model.StatusLogging, model.StatusNotLogging},
		events.statuses(model.EventLoggingStatus))
}

func TestScheduler_StartTwice(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{}}}
	s, _ := newTestScheduler(acq, false)

	require.NoError(t, s.Start(context.Background()))
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, model.ErrSchedule)
	stop(t, s)

	require.NoError(t, s.Stop(context.Background()), "stopping an idle scheduler is a no-op")
}

func TestScheduler_WriteRegistersRunsOnWorker(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{}}}
	s, _ := newTestScheduler(acq, false)

	_, err := s.WriteRegisters(context.Background(), 1, []uint16{1})
	assert.ErrorIs(t, err, model.ErrNoSession)

	require.NoError(t, s.Start(context.Background()))
	ack, err := s.WriteRegisters(context.Background(), 40, []uint16{0x4248, 0})
	require.NoError(t, err)
	assert.Equal(t, transport.Ack{Address: 40, Count: 2}, ack)
	stop(t, s)

	assert.Equal(t, [][]uint16{{0x4248, 0}}, acq.writes)
}

func TestScheduler_WriteUnsupported(t *testing.T) {
	acq := NewStreamAcquirer(&fakeStream{}, zap.NewNop())
	s, _ := newTestScheduler(acq, false)

	require.NoError(t, s.Start(context.Background()))
	_, err := s.WriteRegisters(context.Background(), 1, []uint16{1})
	assert.ErrorIs(t, err, ErrWriteUnsupported)
	stop(t, s)
}

func TestScheduler_StopIsBounded(t *testing.T) {
	acq := &fakeAcquirer{script: []cycle{{}}}
	s, _ := newTestScheduler(acq, false)
	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	stop(t, s)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-s.Done():
	default:
		t.Fatal("worker still running")
	}
}
