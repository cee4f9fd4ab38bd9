// Package service orchestrates the session lifecycle: creation, position
// ingest, publisher stop, scheduler-driven expiry, and the grace-window
// purge. All state transitions funnel through here so the store, the expiry
// timers, the viewer hub and the durable record stay consistent.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/expiry"
	"github.com/livetrack/location-service/internal/hub"
	"github.com/livetrack/location-service/internal/model"
	"github.com/livetrack/location-service/internal/store"
	"go.uber.org/zap"
)

// Repository is the durable session record: the session-to-publisher mapping
// that survives restarts. It is written on lifecycle edges only, never on
// the position hot path.
type Repository interface {
	Create(ctx context.Context, s *model.LocationSession) error
	Finish(ctx context.Context, id string, state model.SessionState, finishedAt time.Time) error
	// ListRecoverable returns active rows plus terminal rows finished after
	// the cutoff (still inside their grace window).
	ListRecoverable(ctx context.Context, cutoff time.Time) ([]model.LocationSession, error)
}

// Service is the session lifecycle controller and update ingest.
type Service struct {
	store *store.Store
	hub   *hub.Hub
	repo  Repository
	log   *zap.Logger
	grace time.Duration

	expiry *expiry.Scheduler
	purger *expiry.Scheduler

	now func() time.Time
}

// New wires the controller. grace is how long terminal sessions stay
// observable before being purged.
func New(st *store.Store, h *hub.Hub, repo Repository, grace time.Duration, log *zap.Logger) *Service {
	s := &Service{
		store: st,
		hub:   h,
		repo:  repo,
		log:   log,
		grace: grace,
		now:   time.Now,
	}
	s.expiry = expiry.New(s.expire)
	s.purger = expiry.New(s.purge)
	return s
}

// Start creates a session for publisherID, persists the ownership record and
// arms the expiry timer. Expiry is fixed here and never extended by activity.
func (s *Service) Start(ctx context.Context, publisherID string, duration time.Duration) (model.Session, error) {
	sess, err := s.store.Create(publisherID, duration)
	if err != nil {
		return model.Session{}, err
	}

	ent := &model.LocationSession{
		ID:          sess.ID,
		PublisherID: sess.PublisherID,
		State:       string(sess.State),
		CreatedAt:   sess.CreatedAt,
		ExpiresAt:   sess.ExpiresAt,
	}
	if err := s.repo.Create(ctx, ent); err != nil {
		s.store.Remove(sess.ID)
		return model.Session{}, fmt.Errorf("persist session: %w", err)
	}

	s.expiry.Arm(sess.ID, sess.ExpiresAt)
	s.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("publisher_id", publisherID),
		zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Submit ingests one position update. Both the publisher's push channel and
// the HTTP pull channel land here. A stale (out-of-order) update is counted
// and dropped without error: the publisher treats it as accepted.
func (s *Service) Submit(ctx context.Context, sessionID, callerID string, lat, lng float64, recordedAt *time.Time) error {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.PublisherID != callerID {
		return errs.ErrUnauthorized
	}
	if !validCoordinate(lat, lng) {
		return errs.ErrInvalidCoordinate
	}

	at := s.now()
	if recordedAt != nil {
		at = *recordedAt
	}

	p, err := s.store.SetPosition(sessionID, lat, lng, at)
	if errors.Is(err, errs.ErrOutOfOrder) {
		s.log.Debug("stale update dropped",
			zap.String("session_id", sessionID),
			zap.Time("recorded_at", at),
			zap.Uint64("stale_drops", s.store.StaleDrops(sessionID)))
		return nil
	}
	if err != nil {
		return err
	}

	s.hub.Publish(sessionID, model.PositionEvent(p))
	return nil
}

// Stop ends the session on the publisher's request. When Stop returns, the
// terminal event is out and no further deliveries can happen: an in-flight
// update either completed its fan-out before the seal or is discarded whole.
func (s *Service) Stop(ctx context.Context, sessionID, callerID string) error {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.PublisherID != callerID {
		return errs.ErrUnauthorized
	}
	if err := s.store.Transition(sessionID, model.SessionStateStopped); err != nil {
		return err
	}

	s.expiry.Disarm(sessionID)
	s.hub.PublishTerminal(sessionID, model.SessionStateStopped)
	s.finishRecord(ctx, sessionID, model.SessionStateStopped)
	s.purger.Arm(sessionID, s.now().Add(s.grace))

	s.log.Info("session stopped",
		zap.String("session_id", sessionID),
		zap.String("publisher_id", callerID))
	return nil
}

// Snapshot serves the pull surface: latest position for active sessions, the
// bare terminal state during the grace window, ErrSessionNotFound after.
func (s *Service) Snapshot(sessionID string) (model.SessionSnapshotResponse, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return model.SessionSnapshotResponse{}, err
	}
	resp := model.SessionSnapshotResponse{
		SessionID: sess.ID,
		State:     sess.State,
		Viewers:   s.hub.ViewerCount(sess.ID),
	}
	if sess.State == model.SessionStateActive {
		resp.Position = sess.Position
	}
	return resp, nil
}

// AttachViewer subscribes a push viewer. The hub queues the current snapshot
// first, or the terminal event when the session already ended.
func (s *Service) AttachViewer(sessionID string, conn hub.Conn) (*hub.Viewer, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	var snapshot *model.Position
	if sess.State == model.SessionStateActive {
		snapshot = sess.Position
	}
	return s.hub.Attach(sessionID, conn, snapshot), nil
}

// DetachViewer drops a push viewer.
func (s *Service) DetachViewer(v *hub.Viewer) {
	s.hub.Detach(v)
}

// Owns reports whether callerID owns the session.
func (s *Service) Owns(sessionID, callerID string) (bool, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return false, err
	}
	return sess.PublisherID == callerID, nil
}

// Recover reloads the durable records on startup. Sessions that outlived the
// process keep running; sessions whose expiry passed while the process was
// down become expired now, so viewers still get an authoritative answer.
func (s *Service) Recover(ctx context.Context) error {
	now := s.now()
	rows, err := s.repo.ListRecoverable(ctx, now.Add(-s.grace))
	if err != nil {
		return fmt.Errorf("load session records: %w", err)
	}

	for _, row := range rows {
		state := model.SessionState(row.State)
		v := model.Session{
			ID:          row.ID,
			PublisherID: row.PublisherID,
			State:       state,
			CreatedAt:   row.CreatedAt,
			ExpiresAt:   row.ExpiresAt,
		}

		switch {
		case state == model.SessionStateActive && row.ExpiresAt.After(now):
			if err := s.store.Restore(v); err != nil {
				return err
			}
			s.expiry.Arm(row.ID, row.ExpiresAt)

		case state == model.SessionStateActive:
			// Expired while the process was down; grace counts from recovery.
			v.State = model.SessionStateExpired
			if err := s.store.Restore(v); err != nil {
				return err
			}
			s.hub.PublishTerminal(row.ID, model.SessionStateExpired)
			s.finishRecord(ctx, row.ID, model.SessionStateExpired)
			s.purger.Arm(row.ID, now.Add(s.grace))

		default:
			// Terminal but still inside its grace window.
			if err := s.store.Restore(v); err != nil {
				return err
			}
			s.hub.PublishTerminal(row.ID, state)
			purgeAt := now.Add(s.grace)
			if row.FinishedAt != nil {
				purgeAt = row.FinishedAt.Add(s.grace)
			}
			s.purger.Arm(row.ID, purgeAt)
		}
	}

	if len(rows) > 0 {
		s.log.Info("recovered sessions", zap.Int("count", len(rows)))
	}
	return nil
}

// Close stops all timers. Pending expiries fire again after a restart via
// Recover.
func (s *Service) Close() {
	s.expiry.Stop()
	s.purger.Stop()
}

// expire is the scheduler hook. It must be idempotent: the timer can race a
// manual stop and lose, or fire for a session already gone.
func (s *Service) expire(sessionID string) {
	err := s.store.Transition(sessionID, model.SessionStateExpired)
	if errors.Is(err, errs.ErrAlreadyTerminal) || errors.Is(err, errs.ErrSessionNotFound) {
		return
	}
	if err != nil {
		s.log.Error("expire transition", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	s.hub.PublishTerminal(sessionID, model.SessionStateExpired)
	s.finishRecord(context.Background(), sessionID, model.SessionStateExpired)
	s.purger.Arm(sessionID, s.now().Add(s.grace))

	s.log.Info("session expired", zap.String("session_id", sessionID))
}

// purge removes a terminal session once its grace window elapses. From here
// on viewers get NotFound instead of the terminal state.
func (s *Service) purge(sessionID string) {
	s.store.Remove(sessionID)
	s.hub.Forget(sessionID)
	s.log.Info("session purged", zap.String("session_id", sessionID))
}

// finishRecord updates the durable record; failures degrade that record
// only, never the in-memory lifecycle.
func (s *Service) finishRecord(ctx context.Context, sessionID string, state model.SessionState) {
	if err := s.repo.Finish(ctx, sessionID, state, s.now()); err != nil {
		s.log.Error("persist terminal state",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
