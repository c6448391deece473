// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"instrument-logger/internal/model"
)

// ErrNotFound is returned when a journal entry does not exist
var ErrNotFound = errors.New("not found")

// SessionRepository defines acquisition session journal operations
type SessionRepository interface {
	Create(ctx context.Context, session *model.AcquisitionSession) error
	Finish(ctx context.Context, id uuid.UUID, status model.SessionStatus, reason string, rows int64, at time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.AcquisitionSession, error)
	List(ctx context.Context, filter *SessionFilter) ([]*model.AcquisitionSession, error)
}

// SessionFilter represents journal listing filters
type SessionFilter struct {
	Status *model.SessionStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit"`
}
