// internal/session/scheduler.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-logger/internal/aggregator"
	"instrument-logger/internal/metrics"
	"instrument-logger/internal/model"
	"instrument-logger/internal/sink"
	"instrument-logger/internal/utils"
)

// State of a scheduler
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StatePolling    State = "POLLING"
	StateStopping   State = "STOPPING"
)

var allStates = []string{string(StateIdle), string(StateConnecting), string(StatePolling), string(StateStopping)}

const (
	DefaultErrorBackoff = time.Second
	DefaultPollInterval = time.Second
)

// Publisher receives session events
type Publisher interface {
	Publish(event model.SessionEvent)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(event model.SessionEvent)

// Publish calls f
func (f PublisherFunc) Publish(event model.SessionEvent) {
	f(event)
}

// Acquirer produces the readings of one polling cycle. It is used only from
// the scheduler worker.
type Acquirer interface {
	Open(ctx context.Context) error
	Acquire(ctx context.Context) ([]model.Reading, error)
	Close() error
	Endpoint() string
}

// Options tune a scheduler
type Options struct {
	PollInterval time.Duration
	LogInterval  time.Duration
	ErrorBackoff time.Duration
	Logging      bool
}

// Status is a point-in-time view of a scheduler
type Status struct {
	SessionID  uuid.UUID       `json:"session_id"`
	State      State           `json:"state"`
	Logging    bool            `json:"logging"`
	Endpoint   string          `json:"endpoint"`
	RowsLogged int64           `json:"rows_logged"`
	Cycles     int64           `json:"cycles"`
	LastError  string          `json:"last_error,omitempty"`
	Readings   []model.Reading `json:"readings"`
}

type command struct {
	fn     func(ctx context.Context, acq Acquirer) error
	result chan error
}

// Scheduler drives one acquisition session:
// Idle -> Connecting -> Polling -> Stopping -> Idle.
// A single worker goroutine owns the acquirer and the sinks while polling.
type Scheduler struct {
	id         uuid.UUID
	acquirer   Acquirer
	aggregator *aggregator.Aggregator
	dispatcher *sink.Dispatcher
	publisher  Publisher
	logger     *utils.SessionLogger
	opts       Options

	mu        sync.RWMutex
	state     State
	lastError string
	cancel    context.CancelFunc
	done      chan struct{}

	logging       atomic.Bool
	stopRequested atomic.Bool
	rows          atomic.Int64
	cycles        atomic.Int64

	commands chan command
	now      func() time.Time
}

// NewScheduler creates an idle scheduler
func NewScheduler(
	id uuid.UUID,
	acquirer Acquirer,
	agg *aggregator.Aggregator,
	dispatcher *sink.Dispatcher,
	publisher Publisher,
	logger *utils.SessionLogger,
	opts Options,
) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if publisher == nil {
		publisher = PublisherFunc(func(model.SessionEvent) {})
	}

	s := &Scheduler{
		id:         id,
		acquirer:   acquirer,
		aggregator: agg,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		opts:       opts,
		state:      StateIdle,
		commands:   make(chan command),
		now:        time.Now,
	}
	s.logging.Store(opts.Logging)
	return s
}

// ID returns the session id
func (s *Scheduler) ID() uuid.UUID {
	return s.id
}

// State returns the current state
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from != to {
		metrics.SetState(string(to), allStates...)
		s.logger.LogStateChange(string(from), string(to))
	}
}

// Start connects the acquirer and launches the worker. A connection failure
// returns the scheduler to Idle and is returned as a transport error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return model.Wrap(model.ErrSchedule, "start", fmt.Errorf("scheduler is %s", state))
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	s.publish(model.EventConnectionStatus, model.StatusConnecting, s.acquirer.Endpoint())

	if err := s.acquirer.Open(ctx); err != nil {
		s.logger.LogConnection("open", false, err)
		s.recordError(err)
		s.setState(StateIdle)
		s.publish(model.EventConnectionStatus, model.StatusConnectionFailed, err.Error())
		if errors.Is(err, model.ErrTransport) {
			return err
		}
		return model.Wrap(model.ErrTransport, "connect", err)
	}
	s.logger.LogConnection("open", true, nil)

	s.dispatcher.Prepare(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	s.stopRequested.Store(false)

	s.setState(StatePolling)
	s.publish(model.EventConnectionStatus, model.StatusConnected, s.acquirer.Endpoint())
	s.publishLogging(s.logging.Load())

	go s.run(runCtx, done)
	return nil
}

// Stop asks the worker to finish at the next cycle boundary and waits for
// it until ctx ends. Resources are released once Stop returns nil.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return model.Wrap(model.ErrSchedule, "stop", fmt.Errorf("scheduler is connecting"))
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.setState(StateStopping)
	s.stopRequested.Store(true)
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for session worker: %w", ctx.Err())
	}
}

// Done is closed when the worker has released its resources
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// SetLogging enables or disables dispatching rows to the sinks. Enabling
// restarts the emission interval.
func (s *Scheduler) SetLogging(enabled bool) {
	if s.logging.Swap(enabled) == enabled {
		return
	}
	if enabled {
		s.aggregator.ResetClock()
	}
	s.publishLogging(enabled)
}

// Logging reports whether rows are dispatched
func (s *Scheduler) Logging() bool {
	return s.logging.Load()
}

// Status returns a snapshot of the scheduler
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	state, lastErr := s.state, s.lastError
	s.mu.RUnlock()

	return Status{
		SessionID:  s.id,
		State:      state,
		Logging:    s.logging.Load(),
		Endpoint:   s.acquirer.Endpoint(),
		RowsLogged: s.rows.Load(),
		Cycles:     s.cycles.Load(),
		LastError:  lastErr,
		Readings:   s.aggregator.Snapshot(),
	}
}

// Exec runs fn on the worker goroutine between two cycles
func (s *Scheduler) Exec(ctx context.Context, fn func(ctx context.Context, acq Acquirer) error) error {
	if s.State() != StatePolling {
		return model.ErrNoSession
	}
	done := s.Done()

	cmd := command{fn: fn, result: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-done:
		return model.ErrNoSession
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.release()

	for {
		if s.stopRequested.Load() || ctx.Err() != nil {
			return
		}

		wait := s.opts.PollInterval
		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.CycleErrorsTotal.Inc()
			s.logger.LogCycleFailure(err, s.opts.ErrorBackoff)
			s.recordError(err)
			s.publisher.Publish(model.NewErrorEvent(s.id, err))
			wait = s.opts.ErrorBackoff
		}

		if !s.wait(ctx, wait) {
			return
		}
	}
}

// wait sleeps between cycles, serving commands meanwhile. It returns false
// when the session is cancelled.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-s.commands:
			cmd.result <- s.execute(ctx, cmd)
		case <-timer.C:
			return true
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, cmd command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Wrap(model.ErrSchedule, "command", fmt.Errorf("panic: %v", r))
		}
	}()
	return cmd.fn(ctx, s.acquirer)
}

func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Wrap(model.ErrSchedule, "cycle", fmt.Errorf("panic: %v", r))
		}
	}()

	start := time.Now()
	s.cycles.Add(1)
	metrics.CyclesTotal.Inc()
	defer func() {
		metrics.CycleDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	readings, err := s.acquirer.Acquire(ctx)
	for _, r := range readings {
		if s.aggregator.Update(r) {
			metrics.ReadingsTotal.WithLabelValues(r.ChannelID).Inc()
			s.publisher.Publish(model.NewReadingEvent(s.id, r))
		}
	}
	if err != nil {
		if !errors.Is(err, model.ErrDecode) {
			return model.Wrap(model.ErrSchedule, "acquire", err)
		}
		s.logger.Warn("Partial decode", zap.Error(err))
		s.recordError(err)
		s.publisher.Publish(model.NewErrorEvent(s.id, err))
	}

	now := s.now()
	if s.logging.Load() && s.aggregator.ShouldEmit(now, s.opts.LogInterval) {
		row := s.aggregator.Emit(now)
		s.dispatcher.Dispatch(ctx, row.Timestamp, row.Values)
		s.rows.Add(1)
		s.logger.LogRow(row.Fields(), len(s.dispatcher.Sinks()))
	}
	return nil
}

func (s *Scheduler) release() {
	if err := s.acquirer.Close(); err != nil {
		s.logger.Warn("Failed to close transport", zap.Error(err))
	}
	if err := s.dispatcher.Close(); err != nil {
		s.logger.Warn("Failed to close sinks", zap.Error(err))
	}

	s.setState(StateIdle)
	s.logger.LogConnection("close", true, nil)
	s.publish(model.EventConnectionStatus, model.StatusDisconnected, s.acquirer.Endpoint())
	if s.logging.Load() {
		s.publishLogging(false)
	}
}

func (s *Scheduler) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Scheduler) publish(eventType model.EventType, status, message string) {
	s.publisher.Publish(model.NewStatusEvent(s.id, eventType, status, message))
}

func (s *Scheduler) publishLogging(enabled bool) {
	status := model.StatusNotLogging
	if enabled {
		status = model.StatusLogging
	}
	s.publish(model.EventLoggingStatus, status, "")
}
