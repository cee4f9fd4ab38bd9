package database

import (
	"context"
	"errors"
	"time"

	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/model"
	"gorm.io/gorm"
)

// SessionRepository is the GORM-backed durable session record. It implements
// service.Repository.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates the repository.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts the session row at creation time.
func (r *SessionRepository) Create(ctx context.Context, s *model.LocationSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// Finish marks the row terminal. Rows are kept past the grace window; only
// the in-memory session is purged.
func (r *SessionRepository) Finish(ctx context.Context, id string, state model.SessionState, finishedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.LocationSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":       string(state),
			"finished_at": finishedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrSessionNotFound
	}
	return nil
}

// ListRecoverable returns rows the service must rebuild on startup: active
// sessions plus terminal ones still inside their grace window.
func (r *SessionRepository) ListRecoverable(ctx context.Context, cutoff time.Time) ([]model.LocationSession, error) {
	var rows []model.LocationSession
	err := r.db.WithContext(ctx).
		Where("state = ?", string(model.SessionStateActive)).
		Or("finished_at > ?", cutoff).
		Find(&rows).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}
