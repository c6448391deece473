// internal/service/session_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-logger/internal/aggregator"
	"instrument-logger/internal/config"
	"instrument-logger/internal/database"
	"instrument-logger/internal/discovery"
	"instrument-logger/internal/model"
	"instrument-logger/internal/protocol"
	"instrument-logger/internal/repository"
	"instrument-logger/internal/session"
	"instrument-logger/internal/sink"
	"instrument-logger/internal/transport"
	"instrument-logger/internal/utils"
	"instrument-logger/pkg/register"
)

// AcquirerFactory builds the acquirer for a session and the row layout its
// readings aggregate into
type AcquirerFactory func(cfg *model.SessionConfig, logger *zap.Logger) (session.Acquirer, aggregator.Layout, error)

// SessionService owns the single acquisition session of the process
type SessionService struct {
	config    *config.Config
	db        *database.DB
	repo      repository.SessionRepository
	ports     *discovery.ScannerManager
	publisher session.Publisher
	base      *zap.Logger
	logger    *utils.ServiceLogger

	newAcquirer AcquirerFactory

	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	id        uuid.UUID
	config    model.SessionConfig
	scheduler *session.Scheduler
	startedAt time.Time
}

// SessionInfo describes the current session
type SessionInfo struct {
	Active    bool                 `json:"active"`
	ID        *uuid.UUID           `json:"id,omitempty"`
	StartedAt *time.Time           `json:"started_at,omitempty"`
	Config    *model.SessionConfig `json:"config,omitempty"`
	Status    *session.Status      `json:"status,omitempty"`
}

// WriteRegistersRequest asks for a register write. Raw registers win over
// values; values are encoded with Encoding or the session's encoding.
type WriteRegistersRequest struct {
	Address   uint16    `json:"address"`
	Registers []uint16  `json:"registers,omitempty"`
	Values    []float64 `json:"values,omitempty"`
	Encoding  string    `json:"encoding,omitempty"`
}

// NewSessionService creates a session service. db and repo may be nil when
// no database is configured.
func NewSessionService(
	cfg *config.Config,
	db *database.DB,
	repo repository.SessionRepository,
	ports *discovery.ScannerManager,
	publisher session.Publisher,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		config:      cfg,
		db:          db,
		repo:        repo,
		ports:       ports,
		publisher:   publisher,
		base:        logger,
		logger:      utils.NewServiceLogger(logger, "session-service"),
		newAcquirer: DefaultAcquirer,
	}
}

// WithAcquirerFactory replaces the acquirer factory
func (ss *SessionService) WithAcquirerFactory(factory AcquirerFactory) *SessionService {
	ss.newAcquirer = factory
	return ss
}

// DefaultAcquirer builds a frame stream acquirer for the stream function and
// a Modbus acquirer otherwise
func DefaultAcquirer(cfg *model.SessionConfig, logger *zap.Logger) (session.Acquirer, aggregator.Layout, error) {
	if cfg.Function == model.FunctionStream {
		conn, err := protocol.CreateStream(cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return session.NewStreamAcquirer(conn, logger), aggregator.LayoutDisplay, nil
	}

	version, err := transport.ParseVersion(cfg.StackVersion)
	if err != nil {
		return nil, "", model.Wrap(model.ErrInvalidConfig, "stack_version", err)
	}

	var backend transport.Backend
	switch cfg.Transport {
	case model.TransportTCP:
		backend = transport.NewTCPBackend(cfg.TCP, logger)
	case model.TransportRTU:
		backend = transport.NewRTUBackend(cfg.Serial, logger)
	default:
		return nil, "", model.Wrap(model.ErrInvalidConfig, "transport", fmt.Errorf("unknown transport %q", cfg.Transport))
	}

	acq, err := session.NewModbusAcquirer(transport.NewAdapter(backend, version, logger), cfg, logger)
	if err != nil {
		return nil, "", model.Wrap(model.ErrInvalidConfig, "acquirer", err)
	}
	return acq, aggregator.LayoutRegisters, nil
}

// Start validates cfg and starts a session. Only one session runs at a time.
func (ss *SessionService) Start(ctx context.Context, cfg model.SessionConfig) (*SessionInfo, error) {
	if cfg.StackVersion == "" {
		cfg.StackVersion = transport.DefaultVersion.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.active != nil {
		return nil, fmt.Errorf("session %s: %w", ss.active.id, model.ErrSessionActive)
	}

	id := uuid.New()
	logger := ss.base.With(zap.String("session_id", id.String()))

	acq, layout, err := ss.newAcquirer(&cfg, logger)
	if err != nil {
		return nil, err
	}

	sinks, err := ss.buildSinks(&cfg, layout, logger)
	if err != nil {
		return nil, err
	}

	sessionLogger := utils.NewSessionLogger(ss.base, id.String(), string(cfg.Transport), string(cfg.Function), acq.Endpoint())
	scheduler := session.NewScheduler(id, acq, aggregator.New(layout), sink.NewDispatcher(logger, sinks...),
		ss.publisher, sessionLogger, session.Options{
			PollInterval: cfg.PollEvery(),
			LogInterval:  cfg.LogEvery(),
			ErrorBackoff: ss.config.Session.ErrorBackoff,
			Logging:      cfg.LogOnStart,
		})

	startedAt := time.Now()
	if err := scheduler.Start(ctx); err != nil {
		ss.journalFailure(ctx, id, &cfg, acq.Endpoint(), startedAt, err)
		return nil, err
	}

	ss.active = &activeSession{id: id, config: cfg, scheduler: scheduler, startedAt: startedAt}
	ss.journalStart(ctx, ss.active, acq.Endpoint())

	ss.logger.Info("Session started",
		zap.String("session_id", id.String()),
		zap.String("endpoint", acq.Endpoint()),
		zap.String("function", string(cfg.Function)),
		zap.Int("sinks", len(sinks)),
	)

	return ss.infoLocked(), nil
}

// Stop ends the active session, waiting at most the configured stop timeout
// for the worker to release the transport
func (ss *SessionService) Stop(ctx context.Context, reason string) (*SessionInfo, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.active == nil {
		return nil, model.ErrNoSession
	}

	stopCtx := ctx
	if timeout := ss.config.Session.StopTimeout; timeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ss.active.scheduler.Stop(stopCtx); err != nil {
		ss.logger.Error("Failed to stop session", zap.Error(err), zap.String("session_id", ss.active.id.String()))
		return nil, err
	}

	info := ss.infoLocked()
	ss.journalStop(ctx, ss.active, reason)
	ss.logger.Info("Session stopped",
		zap.String("session_id", ss.active.id.String()),
		zap.String("reason", reason),
		zap.Int64("rows_logged", info.Status.RowsLogged),
	)
	ss.active = nil

	info.Active = false
	return info, nil
}

// Status describes the current session, if any
func (ss *SessionService) Status() *SessionInfo {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.infoLocked()
}

func (ss *SessionService) infoLocked() *SessionInfo {
	if ss.active == nil {
		return &SessionInfo{Active: false}
	}
	a := ss.active
	id, started, cfg := a.id, a.startedAt, a.config
	status := a.scheduler.Status()
	return &SessionInfo{
		Active:    true,
		ID:        &id,
		StartedAt: &started,
		Config:    &cfg,
		Status:    &status,
	}
}

// SetLogging toggles row dispatch for the active session
func (ss *SessionService) SetLogging(enabled bool) error {
	scheduler, _, err := ss.current()
	if err != nil {
		return err
	}
	scheduler.SetLogging(enabled)
	return nil
}

// WriteRegisters writes to the instrument through the active session
func (ss *SessionService) WriteRegisters(ctx context.Context, req WriteRegistersRequest) (transport.Ack, error) {
	scheduler, cfg, err := ss.current()
	if err != nil {
		return transport.Ack{}, err
	}
	if cfg.Function == model.FunctionStream {
		return transport.Ack{}, session.ErrWriteUnsupported
	}

	regs := req.Registers
	if len(regs) == 0 {
		if len(req.Values) == 0 {
			return transport.Ack{}, model.Wrap(model.ErrInvalidConfig, "write", errors.New("registers or values are required"))
		}
		token := req.Encoding
		if token == "" {
			token = cfg.Encoding
		}
		enc, err := register.ParseEncoding(token)
		if err != nil {
			return transport.Ack{}, model.Wrap(model.ErrInvalidConfig, "write", err)
		}
		regs, err = enc.Encode(req.Values)
		if err != nil {
			return transport.Ack{}, model.Wrap(model.ErrInvalidConfig, "write", err)
		}
	}
	if len(regs) > model.MaxRegisterCount {
		return transport.Ack{}, model.Wrap(model.ErrInvalidConfig, "write",
			fmt.Errorf("at most %d registers per write", model.MaxRegisterCount))
	}

	opLogger := utils.NewOperationLogger(ss.base, "write_registers", uuid.New().String())
	opLogger.Start(zap.Uint16("address", req.Address), zap.Int("count", len(regs)))

	ack, err := scheduler.WriteRegisters(ctx, req.Address, regs)
	if err != nil {
		opLogger.Error(err)
		return ack, err
	}
	opLogger.Success(zap.Int("written", ack.Count))
	return ack, nil
}

// ListPorts enumerates candidate instrument endpoints
func (ss *SessionService) ListPorts(ctx context.Context) ([]*discovery.Port, error) {
	if ss.ports == nil {
		return []*discovery.Port{}, nil
	}
	ports, err := ss.ports.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if ports == nil {
		ports = []*discovery.Port{}
	}
	return ports, nil
}

// Shutdown stops the active session, if any
func (ss *SessionService) Shutdown(ctx context.Context) error {
	_, err := ss.Stop(ctx, "shutdown")
	if errors.Is(err, model.ErrNoSession) {
		return nil
	}
	return err
}

func (ss *SessionService) current() (*session.Scheduler, model.SessionConfig, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.active == nil {
		return nil, model.SessionConfig{}, model.ErrNoSession
	}
	return ss.active.scheduler, ss.active.config, nil
}

func (ss *SessionService) buildSinks(cfg *model.SessionConfig, layout aggregator.Layout, logger *zap.Logger) ([]sink.Sink, error) {
	sinks := make([]sink.Sink, 0, len(cfg.Sinks))
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case model.SinkCSV:
			sinks = append(sinks, sink.NewCSVSink(sc.Path, logger, sink.WithColumnNames(func(n int) []string {
				return aggregator.ColumnNames(layout, n)
			})))
		case model.SinkPostgres:
			if ss.db == nil {
				return nil, model.Wrap(model.ErrInvalidConfig, "sinks",
					fmt.Errorf("postgres sink %q requires database.enabled", sc.Table))
			}
			sinks = append(sinks, sink.NewSQLSink(ss.db.DB, sc.Table, logger))
		default:
			return nil, model.Wrap(model.ErrInvalidConfig, "sinks", fmt.Errorf("unknown sink type %q", sc.Type))
		}
	}
	return sinks, nil
}

func (ss *SessionService) journalStart(ctx context.Context, a *activeSession, endpoint string) {
	if ss.repo == nil {
		return
	}
	entry := &model.AcquisitionSession{
		ID:        a.id,
		Name:      a.config.Name,
		Transport: a.config.Transport,
		Function:  a.config.Function,
		Endpoint:  endpoint,
		Config:    a.config.Summary(),
		Status:    model.SessionStatusRunning,
		StartedAt: a.startedAt,
	}
	if err := ss.repo.Create(ctx, entry); err != nil {
		ss.logger.Warn("Failed to journal session start", zap.Error(err))
	}
}

func (ss *SessionService) journalStop(ctx context.Context, a *activeSession, reason string) {
	if ss.repo == nil {
		return
	}
	status := a.scheduler.Status()
	if err := ss.repo.Finish(ctx, a.id, model.SessionStatusStopped, reason, status.RowsLogged, time.Now()); err != nil {
		ss.logger.Warn("Failed to journal session stop", zap.Error(err))
	}
}

func (ss *SessionService) journalFailure(ctx context.Context, id uuid.UUID, cfg *model.SessionConfig, endpoint string, at time.Time, cause error) {
	if ss.repo == nil {
		return
	}
	entry := &model.AcquisitionSession{
		ID:        id,
		Name:      cfg.Name,
		Transport: cfg.Transport,
		Function:  cfg.Function,
		Endpoint:  endpoint,
		Config:    cfg.Summary(),
		Status:    model.SessionStatusFailed,
		StartedAt: at,
	}
	if err := ss.repo.Create(ctx, entry); err != nil {
		ss.logger.Warn("Failed to journal session failure", zap.Error(err))
		return
	}
	if err := ss.repo.Finish(ctx, id, model.SessionStatusFailed, cause.Error(), 0, time.Now()); err != nil {
		ss.logger.Warn("Failed to journal session failure", zap.Error(err))
	}
}
