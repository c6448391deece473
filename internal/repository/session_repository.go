// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-logger/internal/database"
	"instrument-logger/internal/model"
)

const sessionColumns = `id, name, transport, function, endpoint, config, status,
		started_at, stopped_at, stop_reason, rows_logged`

// sessionRepository implements SessionRepository interface
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session journal repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a started session
func (r *sessionRepository) Create(ctx context.Context, session *model.AcquisitionSession) error {
	query := `
		INSERT INTO acquisition_sessions (
			id, name, transport, function, endpoint, config, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Name, session.Transport, session.Function,
		session.Endpoint, session.Config, session.Status, session.StartedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.Error(err), zap.String("session_id", session.ID.String()))
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("Session journaled", zap.String("session_id", session.ID.String()))
	return nil
}

// Finish closes a journal entry
func (r *sessionRepository) Finish(ctx context.Context, id uuid.UUID, status model.SessionStatus, reason string, rows int64, at time.Time) error {
	query := `
		UPDATE acquisition_sessions SET
			status = $2, stop_reason = $3, rows_logged = $4, stopped_at = $5
		WHERE id = $1
	`

	var stopReason *string
	if reason != "" {
		stopReason = &reason
	}

	result, err := r.db.ExecContext(ctx, query, id, status, stopReason, rows, at)
	if err != nil {
		r.logger.Error("Failed to finish session", zap.Error(err), zap.String("session_id", id.String()))
		return fmt.Errorf("failed to finish session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetByID retrieves a journal entry
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AcquisitionSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM acquisition_sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		r.logger.Error("Failed to get session", zap.Error(err), zap.String("session_id", id.String()))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// List returns the most recent journal entries first
func (r *sessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.AcquisitionSession, error) {
	var conditions []string
	var args []interface{}

	if filter != nil && filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + sessionColumns + ` FROM acquisition_sessions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"

	limit := 50
	if filter != nil && filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.AcquisitionSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.AcquisitionSession, error) {
	session := &model.AcquisitionSession{}
	err := row.Scan(
		&session.ID, &session.Name, &session.Transport, &session.Function,
		&session.Endpoint, &session.Config, &session.Status, &session.StartedAt,
		&session.StoppedAt, &session.StopReason, &session.RowsLogged,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}
