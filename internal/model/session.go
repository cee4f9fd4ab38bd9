package model

import "time"

// SessionState represents the lifecycle state of a location session.
type SessionState string

const (
	SessionStateActive  SessionState = "active"
	SessionStateStopped SessionState = "stopped"
	SessionStateExpired SessionState = "expired"
)

// Terminal reports whether the state is one of the two terminal states.
func (s SessionState) Terminal() bool {
	return s == SessionStateStopped || s == SessionStateExpired
}

// Position is a single geographic fix reported by the publisher.
type Position struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Session is the API view of a live location session (not the GORM entity).
type Session struct {
	ID          string       `json:"id"`
	PublisherID string       `json:"publisher_id"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Position    *Position    `json:"position,omitempty"`
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	DurationMinutes int `json:"duration_minutes" binding:"required"`
}

// CreateSessionResponse is the response for POST /sessions.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	WSURL     string    `json:"ws_url"`
	ShareURL  string    `json:"share_url"`
}

// LocationUpdateRequest is the body of PUT /sessions/:id/location and of a
// publisher WebSocket frame. RecordedAt is optional; the server assigns its
// own clock when absent.
type LocationUpdateRequest struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// SessionSnapshotResponse is the response for GET /sessions/:id (pull surface).
// Position is present only for active sessions that have reported at least
// one fix; terminal sessions report only their state during the grace window.
type SessionSnapshotResponse struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Position  *Position    `json:"position,omitempty"`
	Viewers   int          `json:"viewers"`
}
