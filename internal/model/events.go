package model

import "time"

// Stream event types delivered to push viewers.
const (
	EventPosition = "position"
	EventTerminal = "terminal"
)

// Terminal reasons.
const (
	ReasonStopped = "stopped"
	ReasonExpired = "expired"
)

// StreamEvent is one frame on a viewer WebSocket: either a position update
// or the single terminal event that closes the stream.
type StreamEvent struct {
	Type       string     `json:"type"`
	Lat        float64    `json:"lat,omitempty"`
	Lng        float64    `json:"lng,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// PositionEvent builds the stream event for an accepted position.
func PositionEvent(p Position) StreamEvent {
	at := p.RecordedAt
	return StreamEvent{Type: EventPosition, Lat: p.Lat, Lng: p.Lng, RecordedAt: &at}
}

// TerminalEvent builds the closing event for a stopped or expired session.
func TerminalEvent(state SessionState) StreamEvent {
	reason := ReasonStopped
	if state == SessionStateExpired {
		reason = ReasonExpired
	}
	return StreamEvent{Type: EventTerminal, Reason: reason}
}
