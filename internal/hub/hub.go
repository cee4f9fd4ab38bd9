// Package hub fans accepted position updates out to the push viewers of each
// session. Delivery is best-effort and per-viewer independent: every viewer
// drains its own buffered send queue on its own goroutine, and a viewer whose
// queue overflows is detached instead of slowing the publisher or its peers.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/livetrack/location-service/internal/model"
	"go.uber.org/zap"
)

// Conn is the subset of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Viewer is one push-mode subscriber attached to a session.
type Viewer struct {
	ID         string
	SessionID  string
	AttachedAt time.Time

	conn Conn
	send chan []byte
	gone bool // guarded by the session fanout mutex
}

// fanout is the per-session delivery state. Its mutex serializes Publish,
// Attach, Detach and Close for one session, so a terminal close is never
// interleaved with a delivery: an admitted update reaches every viewer still
// attached, or none.
type fanout struct {
	mu       sync.Mutex
	viewers  map[*Viewer]struct{}
	closed   bool
	terminal []byte // terminal event, kept for viewers attaching during grace
}

// Hub routes events to per-session viewer sets.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*fanout

	queueSize int
	log       *zap.Logger
}

// New creates a hub. queueSize bounds each viewer's send backlog.
func New(queueSize int, log *zap.Logger) *Hub {
	return &Hub{
		sessions:  make(map[string]*fanout),
		queueSize: queueSize,
		log:       log,
	}
}

// Attach subscribes conn to the session's push stream. The snapshot, when
// present, is queued first so the viewer never starts without the last known
// position. Attaching to a session whose terminal event already went out
// delivers that event and closes the stream; existence checks against the
// store happen before Attach is reached.
func (h *Hub) Attach(sessionID string, conn Conn, snapshot *model.Position) *Viewer {
	h.mu.Lock()
	f, ok := h.sessions[sessionID]
	if !ok {
		f = &fanout{viewers: make(map[*Viewer]struct{})}
		h.sessions[sessionID] = f
	}
	h.mu.Unlock()

	v := &Viewer{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		AttachedAt: time.Now(),
		conn:       conn,
		send:       make(chan []byte, h.queueSize),
	}

	f.mu.Lock()
	if f.closed {
		// Late attach during the grace window: explicit terminal, never
		// silence or a hanging stream.
		if f.terminal != nil {
			v.send <- f.terminal
		}
		v.gone = true
		close(v.send)
		f.mu.Unlock()
		go h.writePump(v)
		return v
	}
	if snapshot != nil {
		data, err := json.Marshal(model.PositionEvent(*snapshot))
		if err == nil {
			v.send <- data
		}
	}
	f.viewers[v] = struct{}{}
	f.mu.Unlock()

	go h.writePump(v)

	h.log.Info("viewer attached",
		zap.String("session_id", sessionID),
		zap.String("viewer_id", v.ID))
	return v
}

// Detach removes the viewer and closes its queue. Safe to call twice.
func (h *Hub) Detach(v *Viewer) {
	h.mu.RLock()
	f, ok := h.sessions[v.SessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	f.mu.Lock()
	h.dropLocked(f, v)
	f.mu.Unlock()
}

// dropLocked removes v from the fanout and closes its send queue. Caller
// holds f.mu. Queued messages are still drained by the viewer's writePump.
func (h *Hub) dropLocked(f *fanout, v *Viewer) {
	if v.gone {
		return
	}
	v.gone = true
	delete(f.viewers, v)
	close(v.send)
	h.log.Info("viewer detached",
		zap.String("session_id", v.SessionID),
		zap.String("viewer_id", v.ID))
}

// Publish delivers the event to every attached viewer. A viewer whose queue
// is full cannot keep up and is detached on the spot; the others are not
// delayed. No-op once the session's terminal event went out.
func (h *Hub) Publish(sessionID string, ev model.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal stream event", zap.Error(err))
		return
	}

	h.mu.RLock()
	f, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for v := range f.viewers {
		select {
		case v.send <- data:
		default:
			h.log.Warn("viewer backlog full, detaching",
				zap.String("session_id", sessionID),
				zap.String("viewer_id", v.ID))
			h.dropLocked(f, v)
		}
	}
}

// PublishTerminal sends the closing stopped/expired event to every viewer and
// seals the session's fan-out. When it returns, no further deliveries happen
// for this session; viewers attaching during the grace window still receive
// the terminal event.
func (h *Hub) PublishTerminal(sessionID string, state model.SessionState) {
	data, err := json.Marshal(model.TerminalEvent(state))
	if err != nil {
		h.log.Error("marshal terminal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	f, ok := h.sessions[sessionID]
	if !ok {
		f = &fanout{viewers: make(map[*Viewer]struct{})}
		h.sessions[sessionID] = f
	}
	h.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.terminal = data
	for v := range f.viewers {
		select {
		case v.send <- data:
		default:
			// Backlogged anyway; the close below still ends its stream.
		}
		v.gone = true
		close(v.send)
	}
	f.viewers = make(map[*Viewer]struct{})

	h.log.Info("session stream closed",
		zap.String("session_id", sessionID),
		zap.String("state", string(state)))
}

// Forget drops the session's fan-out state entirely. Called when the grace
// window elapses and the session is purged.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// ViewerCount returns the number of live push viewers for a session.
func (h *Hub) ViewerCount(sessionID string) int {
	h.mu.RLock()
	f, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.viewers)
}

// writePump drains the viewer's queue onto its connection. It exits when the
// queue is closed (detach or terminal) or a write fails, then closes the
// connection. Exactly one writePump writes to a given conn.
func (h *Hub) writePump(v *Viewer) {
	defer v.conn.Close()
	for data := range v.send {
		if err := v.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Detach(v)
			for range v.send {
				// Drain so a concurrent Publish never observes a full queue
				// for a viewer that is already gone.
			}
			return
		}
	}
}
