package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/livetrack/location-service/internal/auth"
	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/model"
	"go.uber.org/zap"
)

// LocationWSHandler serves the push surfaces: viewers subscribing to a
// session's stream and the publisher's persistent update channel.
type LocationWSHandler struct {
	svc        SessionServicer
	upgrader   websocket.Upgrader
	maxMsgSize int64
	logger     *zap.Logger
}

// NewLocationWSHandler creates the WebSocket handler.
func NewLocationWSHandler(svc SessionServicer, readBuf, writeBuf int, maxMsgSize int64, logger *zap.Logger) *LocationWSHandler {
	return &LocationWSHandler{
		svc:        svc,
		maxMsgSize: maxMsgSize,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Shared location links are opened cross-origin by design.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// WatchWS upgrades a viewer connection and streams the session.
// Path: GET /ws/sessions/:session_id
// The viewer receives the current snapshot first (when one exists), then
// live updates, then exactly one terminal event.
func (h *LocationWSHandler) WatchWS(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.svc.Snapshot(sessionID); err != nil {
		// Purged or never existed; terminal-but-in-grace still upgrades.
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	viewer, err := h.svc.AttachViewer(sessionID, conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer h.svc.DetachViewer(viewer)

	// The read loop only notices the viewer going away; viewers send nothing.
	conn.SetReadLimit(h.maxMsgSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("viewer read error", zap.Error(err))
			}
			return
		}
	}
}

// PublishWS upgrades the publisher's push channel.
// Path: GET /ws/sessions/:session_id/publish (authenticated)
// Inbound frames are location updates; they go through the same ingest
// contract as PUT /sessions/:id/location. The connection is also attached to
// the hub, so the publisher sees its own accepted updates and the terminal
// event that ends the session.
func (h *LocationWSHandler) PublishWS(c *gin.Context) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sessionID := c.Param("session_id")

	owns, err := h.svc.Owns(sessionID, identity.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if !owns {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not the session publisher"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	viewer, err := h.svc.AttachViewer(sessionID, conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer h.svc.DetachViewer(viewer)

	conn.SetReadLimit(h.maxMsgSize)
	h.readPump(c, conn, sessionID, identity.UserID)
}

// readPump ingests publisher frames until the connection drops, the session
// leaves Active, or a frame is invalid.
func (h *LocationWSHandler) readPump(c *gin.Context, conn *websocket.Conn, sessionID, publisherID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("publisher read error", zap.Error(err))
			}
			return
		}

		var req model.LocationUpdateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.closeWith(conn, websocket.CloseInvalidFramePayloadData, "malformed update")
			return
		}

		err = h.svc.Submit(c.Request.Context(), sessionID, publisherID, req.Lat, req.Lng, req.RecordedAt)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrInvalidCoordinate):
			h.closeWith(conn, websocket.CloseInvalidFramePayloadData, "invalid coordinate")
			return
		case errors.Is(err, errs.ErrSessionNotActive), errors.Is(err, errs.ErrSessionNotFound):
			// The hub already delivered the terminal event on this conn.
			h.closeWith(conn, websocket.CloseNormalClosure, "session ended")
			return
		default:
			h.logger.Warn("publisher update failed",
				zap.String("session_id", sessionID), zap.Error(err))
			h.closeWith(conn, websocket.CloseInternalServerErr, "update failed")
			return
		}
	}
}

// closeWith sends a close frame with a reason. WriteControl is safe to call
// concurrently with the hub's writer goroutine.
func (h *LocationWSHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}
