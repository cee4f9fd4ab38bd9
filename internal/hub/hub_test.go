package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/livetrack/location-service/internal/model"
	"go.uber.org/zap"
)

// fakeConn collects written frames. When stall is set, WriteMessage blocks
// until the channel is closed, simulating a viewer that stopped reading.
type fakeConn struct {
	frames chan []byte
	stall  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 128)}
}

func newStalledConn() *fakeConn {
	c := newFakeConn()
	c.stall = make(chan struct{})
	return c
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.stall != nil {
		<-c.stall
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames <- cp
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) nextEvent(t *testing.T) model.StreamEvent {
	t.Helper()
	select {
	case data := <-c.frames:
		var ev model.StreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return model.StreamEvent{}
	}
}

func newTestHub(queue int) *Hub {
	return New(queue, zap.NewNop())
}

func pos(lat, lng float64, sec int64) model.Position {
	return model.Position{Lat: lat, Lng: lng, RecordedAt: time.Unix(sec, 0)}
}

func TestAttach_SendsSnapshotFirst(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()

	snap := pos(12.9, 77.6, 100)
	h.Attach("s1", conn, &snap)
	h.Publish("s1", model.PositionEvent(pos(12.91, 77.6, 101)))

	first := conn.nextEvent(t)
	if first.Type != model.EventPosition || first.Lat != 12.9 {
		t.Fatalf("first event = %+v, want snapshot (12.9, 77.6)", first)
	}
	second := conn.nextEvent(t)
	if second.Lat != 12.91 {
		t.Fatalf("second event = %+v, want pushed update", second)
	}
}

func TestAttach_NoSnapshotWhenNoPositionYet(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()

	h.Attach("s1", conn, nil)
	h.Publish("s1", model.PositionEvent(pos(1, 2, 100)))

	ev := conn.nextEvent(t)
	if ev.Lat != 1 || ev.Lng != 2 {
		t.Fatalf("first event = %+v, want the published update", ev)
	}
}

func TestPublish_FansOutInOrder(t *testing.T) {
	h := newTestHub(16)
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		h.Attach("s1", c, nil)
	}

	for i := 0; i < 5; i++ {
		h.Publish("s1", model.PositionEvent(pos(float64(i), 0, int64(100+i))))
	}

	for _, c := range conns {
		for i := 0; i < 5; i++ {
			ev := c.nextEvent(t)
			if ev.Lat != float64(i) {
				t.Fatalf("event %d: lat = %v, want %d", i, ev.Lat, i)
			}
		}
	}
}

func TestPublish_StalledViewerDetachedOthersUnaffected(t *testing.T) {
	const updates = 10
	h := newTestHub(4)

	healthy := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range healthy {
		h.Attach("s1", c, nil)
	}
	stalled := newStalledConn()
	defer close(stalled.stall)
	h.Attach("s1", stalled, nil)

	// Publish never blocks on the stalled viewer: every healthy viewer sees
	// every update, in order, while the stalled writePump sits in a write.
	start := time.Now()
	for i := 0; i < updates; i++ {
		h.Publish("s1", model.PositionEvent(pos(float64(i), 0, int64(100+i))))
		for _, c := range healthy {
			ev := c.nextEvent(t)
			if ev.Lat != float64(i) {
				t.Fatalf("healthy viewer: event %d lat = %v, want %d", i, ev.Lat, i)
			}
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("delivery took %v with one stalled viewer", elapsed)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.ViewerCount("s1") != len(healthy) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ViewerCount("s1"); got != len(healthy) {
		t.Fatalf("ViewerCount = %d, want %d (stalled viewer detached)", got, len(healthy))
	}
}

func TestPublishTerminal_DeliversAndSeals(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()
	h.Attach("s1", conn, nil)

	h.PublishTerminal("s1", model.SessionStateStopped)

	ev := conn.nextEvent(t)
	if ev.Type != model.EventTerminal || ev.Reason != model.ReasonStopped {
		t.Fatalf("event = %+v, want terminal/stopped", ev)
	}

	// Sealed: later publishes are dropped, the viewer set is empty.
	h.Publish("s1", model.PositionEvent(pos(1, 1, 200)))
	if got := h.ViewerCount("s1"); got != 0 {
		t.Errorf("ViewerCount = %d, want 0", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !conn.isClosed() {
		time.Sleep(5 * time.Millisecond)
	}
	if !conn.isClosed() {
		t.Error("viewer connection left open after terminal event")
	}
	select {
	case data := <-conn.frames:
		t.Fatalf("frame delivered after terminal event: %s", data)
	default:
	}
}

func TestPublishTerminal_Idempotent(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()
	h.Attach("s1", conn, nil)

	h.PublishTerminal("s1", model.SessionStateExpired)
	h.PublishTerminal("s1", model.SessionStateStopped)

	ev := conn.nextEvent(t)
	if ev.Reason != model.ReasonExpired {
		t.Fatalf("reason = %s, want expired", ev.Reason)
	}
	select {
	case data := <-conn.frames:
		t.Fatalf("duplicate terminal event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAttach_AfterTerminalGetsTerminalEvent(t *testing.T) {
	h := newTestHub(16)
	h.PublishTerminal("s1", model.SessionStateExpired)

	late := newFakeConn()
	h.Attach("s1", late, nil)

	ev := late.nextEvent(t)
	if ev.Type != model.EventTerminal || ev.Reason != model.ReasonExpired {
		t.Fatalf("late attach event = %+v, want terminal/expired", ev)
	}
}

func TestDetach_Idempotent(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()
	v := h.Attach("s1", conn, nil)

	h.Detach(v)
	h.Detach(v)

	if got := h.ViewerCount("s1"); got != 0 {
		t.Fatalf("ViewerCount = %d, want 0", got)
	}
}

func TestForget_DropsState(t *testing.T) {
	h := newTestHub(16)
	conn := newFakeConn()
	h.Attach("s1", conn, nil)
	h.PublishTerminal("s1", model.SessionStateStopped)
	h.Forget("s1")

	if got := h.ViewerCount("s1"); got != 0 {
		t.Fatalf("ViewerCount = %d, want 0", got)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newTestHub(16)
	a := newFakeConn()
	b := newFakeConn()
	h.Attach("s1", a, nil)
	h.Attach("s2", b, nil)

	h.Publish("s1", model.PositionEvent(pos(1, 1, 100)))

	ev := a.nextEvent(t)
	if ev.Lat != 1 {
		t.Fatalf("s1 viewer event = %+v", ev)
	}
	select {
	case data := <-b.frames:
		t.Fatalf("s2 viewer received s1 event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}
