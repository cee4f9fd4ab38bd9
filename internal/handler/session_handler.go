package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/livetrack/location-service/internal/auth"
	"github.com/livetrack/location-service/internal/errs"
	"github.com/livetrack/location-service/internal/hub"
	"github.com/livetrack/location-service/internal/model"
)

// SessionServicer is the lifecycle surface the HTTP handlers consume.
type SessionServicer interface {
	Start(ctx context.Context, publisherID string, duration time.Duration) (model.Session, error)
	Submit(ctx context.Context, sessionID, callerID string, lat, lng float64, recordedAt *time.Time) error
	Stop(ctx context.Context, sessionID, callerID string) error
	Snapshot(sessionID string) (model.SessionSnapshotResponse, error)
	AttachViewer(sessionID string, conn hub.Conn) (*hub.Viewer, error)
	DetachViewer(v *hub.Viewer)
	Owns(sessionID, callerID string) (bool, error)
}

// SessionHandler handles the REST API for sessions.
type SessionHandler struct {
	svc  SessionServicer
	urls *URLBuilder
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc SessionServicer, urls *URLBuilder) *SessionHandler {
	return &SessionHandler{svc: svc, urls: urls}
}

// CreateSession godoc
// POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}

	sess, err := h.svc.Start(c.Request.Context(), id.UserID, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidDuration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, model.CreateSessionResponse{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
		WSURL:     h.urls.Publish(sess.ID),
		ShareURL:  h.urls.Share(sess.ID),
	})
}

// UpdateLocation godoc
// PUT /sessions/:id/location
func (h *SessionHandler) UpdateLocation(c *gin.Context) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sessionID := c.Param("id")
	var req model.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}

	err := h.svc.Submit(c.Request.Context(), sessionID, id.UserID, req.Lat, req.Lng, req.RecordedAt)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case errors.Is(err, errs.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, errs.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not the session publisher"})
	case errors.Is(err, errs.ErrInvalidCoordinate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coordinate"})
	case errors.Is(err, errs.ErrSessionNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": "session is not active"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply update"})
	}
}

// StopSession godoc
// DELETE /sessions/:id
func (h *SessionHandler) StopSession(c *gin.Context) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sessionID := c.Param("id")

	err := h.svc.Stop(c.Request.Context(), sessionID, id.UserID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, errs.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, errs.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not the session publisher"})
	case errors.Is(err, errs.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop session"})
	}
}

// GetSession godoc
// GET /sessions/:id — the pull surface, no authentication. Terminal sessions
// answer with their state during the grace window, 404 after.
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")

	snap, err := h.svc.Snapshot(sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
