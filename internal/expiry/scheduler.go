// Package expiry provides one-shot per-session timers for session expiry and
// grace-window purges. Timers ride Go's runtime timer wheel; time.Until reads
// the monotonic clock, so wall-clock adjustments do not skew fire times.
package expiry

import (
	"sync"
	"time"
)

// Scheduler arms at most one timer per session id. The fire hook runs on the
// timer's goroutine and must be idempotent: a fire can race a manual disarm
// and lose.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(sessionID string)
}

// New creates a scheduler calling fire when a session's timer elapses.
func New(fire func(sessionID string)) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		fire:   fire,
	}
}

// Arm schedules a one-shot fire at the given time, replacing any timer
// already armed for the session. Deadlines in the past fire immediately.
func (s *Scheduler) Arm(sessionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, armed := s.timers[sessionID]
		if armed && cur == t {
			delete(s.timers, sessionID)
		}
		s.mu.Unlock()
		// Disarmed or replaced between the timer firing and this callback
		// acquiring the lock.
		if !armed || cur != t {
			return
		}
		s.fire(sessionID)
	})
	s.timers[sessionID] = t
}

// Disarm cancels the session's timer. Called on manual stop so a later fire
// does not follow an already-delivered terminal event.
func (s *Scheduler) Disarm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// Armed reports whether the session currently has a timer.
func (s *Scheduler) Armed(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Stop cancels all timers. Pending fires are dropped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
