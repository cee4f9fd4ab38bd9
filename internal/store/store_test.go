package store

import (
	"errors"
	"testing"
	"time"

	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/model"
)

func newTestStore() *Store {
	return New(time.Minute, 2*time.Hour)
}

func TestCreate_DurationBounds(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		wantErr  error
	}{
		{"FifteenMinutes", 15 * time.Minute, nil},
		{"MaxDuration", 2 * time.Hour, nil},
		{"Zero", 0, errs.ErrInvalidDuration},
		{"Negative", -time.Minute, errs.ErrInvalidDuration},
		{"BelowMinimum", 30 * time.Second, errs.ErrInvalidDuration},
		{"AboveMaximum", 3 * time.Hour, errs.ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			sess, err := s.Create("pub-1", tt.duration)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create: err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if sess.ID == "" {
				t.Error("Create: empty session id")
			}
			if sess.State != model.SessionStateActive {
				t.Errorf("Create: state = %s, want active", sess.State)
			}
			if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != tt.duration {
				t.Errorf("Create: expiry window = %v, want %v", got, tt.duration)
			}
		})
	}
}

func TestCreate_UniqueIDs(t *testing.T) {
	s := newTestStore()
	a, _ := s.Create("pub-1", 15*time.Minute)
	b, _ := s.Create("pub-1", 15*time.Minute)
	if a.ID == b.ID {
		t.Fatalf("two sessions share id %s", a.ID)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore()
	if _, err := s.Get("nope"); !errors.Is(err, errs.ErrSessionNotFound) {
		t.Fatalf("Get: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSetPosition_OutOfOrder(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)

	t100 := time.Unix(100, 0)
	t90 := time.Unix(90, 0)

	if _, err := s.SetPosition(sess.ID, 12.9, 77.6, t100); err != nil {
		t.Fatalf("first SetPosition: %v", err)
	}
	if _, err := s.SetPosition(sess.ID, 12.91, 77.61, t90); !errors.Is(err, errs.ErrOutOfOrder) {
		t.Fatalf("stale SetPosition: err = %v, want ErrOutOfOrder", err)
	}

	got, _ := s.Get(sess.ID)
	if got.Position == nil || !got.Position.RecordedAt.Equal(t100) {
		t.Fatalf("stored position = %+v, want recorded_at=100", got.Position)
	}
	if got.Position.Lat != 12.9 {
		t.Errorf("stale update overwrote lat: %v", got.Position.Lat)
	}
	if n := s.StaleDrops(sess.ID); n != 1 {
		t.Errorf("StaleDrops = %d, want 1", n)
	}
}

func TestSetPosition_EqualTimestampAccepted(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)

	at := time.Unix(100, 0)
	if _, err := s.SetPosition(sess.ID, 1, 1, at); err != nil {
		t.Fatalf("first SetPosition: %v", err)
	}
	// recorded_at is monotonically non-decreasing, so equal is allowed.
	if _, err := s.SetPosition(sess.ID, 2, 2, at); err != nil {
		t.Fatalf("equal-timestamp SetPosition: %v", err)
	}
	got, _ := s.Get(sess.ID)
	if got.Position.Lat != 2 {
		t.Errorf("lat = %v, want 2", got.Position.Lat)
	}
}

func TestSetPosition_NotActive(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)
	if err := s.Transition(sess.ID, model.SessionStateStopped); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	_, err := s.SetPosition(sess.ID, 1, 1, time.Now())
	if !errors.Is(err, errs.ErrSessionNotActive) {
		t.Fatalf("SetPosition on stopped session: err = %v, want ErrSessionNotActive", err)
	}
}

func TestTransition_StateMachine(t *testing.T) {
	tests := []struct {
		name    string
		first   model.SessionState
		second  model.SessionState
		wantErr error
	}{
		{"StopThenExpire", model.SessionStateStopped, model.SessionStateExpired, errs.ErrAlreadyTerminal},
		{"ExpireThenStop", model.SessionStateExpired, model.SessionStateStopped, errs.ErrAlreadyTerminal},
		{"DuplicateStop", model.SessionStateStopped, model.SessionStateStopped, errs.ErrAlreadyTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			sess, _ := s.Create("pub-1", 15*time.Minute)
			if err := s.Transition(sess.ID, tt.first); err != nil {
				t.Fatalf("first Transition: %v", err)
			}
			if err := s.Transition(sess.ID, tt.second); !errors.Is(err, tt.wantErr) {
				t.Fatalf("second Transition: err = %v, want %v", err, tt.wantErr)
			}
			got, _ := s.Get(sess.ID)
			if got.State != tt.first {
				t.Errorf("state = %s, want %s", got.State, tt.first)
			}
		})
	}
}

func TestTransition_ToActiveRejected(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)
	if err := s.Transition(sess.ID, model.SessionStateActive); !errors.Is(err, errs.ErrAlreadyTerminal) {
		t.Fatalf("Transition to active: err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestRemove_PurgesSession(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)
	s.Remove(sess.ID)
	if _, err := s.Get(sess.ID); !errors.Is(err, errs.ErrSessionNotFound) {
		t.Fatalf("Get after Remove: err = %v, want ErrSessionNotFound", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRestore_KeepsIdentityAndState(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	err := s.Restore(model.Session{
		ID:          "recovered-1",
		PublisherID: "pub-1",
		State:       model.SessionStateExpired,
		CreatedAt:   now.Add(-time.Hour),
		ExpiresAt:   now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := s.Get("recovered-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != model.SessionStateExpired {
		t.Errorf("state = %s, want expired", got.State)
	}
	if got.PublisherID != "pub-1" {
		t.Errorf("publisher = %s, want pub-1", got.PublisherID)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newTestStore()
	sess, _ := s.Create("pub-1", 15*time.Minute)
	s.SetPosition(sess.ID, 1, 1, time.Unix(100, 0))

	got, _ := s.Get(sess.ID)
	got.Position.Lat = 99

	again, _ := s.Get(sess.ID)
	if again.Position.Lat != 1 {
		t.Fatalf("mutating a returned view leaked into the store: lat = %v", again.Position.Lat)
	}
}
