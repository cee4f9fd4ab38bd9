// Package store keeps the in-memory registry of live location sessions.
// Sessions are independent units of concurrency: the registry map has its
// own lock, and every session serializes its position and state mutations
// behind a per-session mutex.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/model"
)

type session struct {
	mu          sync.Mutex
	id          string
	publisherID string
	createdAt   time.Time
	expiresAt   time.Time
	state       model.SessionState
	last        *model.Position
	staleDrops  uint64
}

// Store is the session registry. All methods return view copies, never
// pointers into the registry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session

	minDuration time.Duration
	maxDuration time.Duration

	now func() time.Time // stubbed in tests
}

// New creates a store accepting share durations in [minDuration, maxDuration].
func New(minDuration, maxDuration time.Duration) *Store {
	return &Store{
		sessions:    make(map[string]*session),
		minDuration: minDuration,
		maxDuration: maxDuration,
		now:         time.Now,
	}
}

// Create registers a new active session owned by publisherID. The session id
// is an unguessable UUID; expiry is fixed at creation and never extended.
func (s *Store) Create(publisherID string, duration time.Duration) (model.Session, error) {
	if duration < s.minDuration || duration > s.maxDuration {
		return model.Session{}, errs.ErrInvalidDuration
	}
	now := s.now()
	sess := &session{
		id:          uuid.NewString(),
		publisherID: publisherID,
		createdAt:   now,
		expiresAt:   now.Add(duration),
		state:       model.SessionStateActive,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess.view(), nil
}

// Restore re-registers a session recovered from the durable record, keeping
// its id, owner, bounds and state. Used on startup only.
func (s *Store) Restore(v model.Session) error {
	if v.ID == "" || v.PublisherID == "" {
		return errs.ErrSessionNotFound
	}
	sess := &session{
		id:          v.ID,
		publisherID: v.PublisherID,
		createdAt:   v.CreatedAt,
		expiresAt:   v.ExpiresAt,
		state:       v.State,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the session, or ErrSessionNotFound once purged.
func (s *Store) Get(id string) (model.Session, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return model.Session{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked(), nil
}

// SetPosition applies a position update. Updates older than the stored fix
// are counted and rejected with ErrOutOfOrder so a network-reordered stale
// fix never overwrites a newer one; recorded_at stays monotonically
// non-decreasing for the session's lifetime.
func (s *Store) SetPosition(id string, lat, lng float64, at time.Time) (model.Position, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return model.Position{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != model.SessionStateActive {
		return model.Position{}, errs.ErrSessionNotActive
	}
	if sess.last != nil && at.Before(sess.last.RecordedAt) {
		sess.staleDrops++
		return model.Position{}, errs.ErrOutOfOrder
	}
	p := model.Position{Lat: lat, Lng: lng, RecordedAt: at}
	sess.last = &p
	return p, nil
}

// Transition moves the session to a terminal state. Active→Stopped and
// Active→Expired are the only legal moves; terminal states are frozen, so a
// scheduler fire racing a manual stop degrades to ErrAlreadyTerminal.
func (s *Store) Transition(id string, to model.SessionState) error {
	if !to.Terminal() {
		return errs.ErrAlreadyTerminal
	}
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state.Terminal() {
		return errs.ErrAlreadyTerminal
	}
	sess.state = to
	return nil
}

// Remove purges the session. Called after the grace window, never directly
// on stop or expiry.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// StaleDrops returns how many out-of-order updates were dropped.
func (s *Store) StaleDrops(id string) uint64 {
	sess, err := s.lookup(id)
	if err != nil {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.staleDrops
}

// Len returns the number of registered sessions, grace-window ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	return sess, nil
}

func (sess *session) view() model.Session {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.viewLocked()
}

func (sess *session) viewLocked() model.Session {
	v := model.Session{
		ID:          sess.id,
		PublisherID: sess.publisherID,
		State:       sess.state,
		CreatedAt:   sess.createdAt,
		ExpiresAt:   sess.expiresAt,
	}
	if sess.last != nil {
		p := *sess.last
		v.Position = &p
	}
	return v
}
