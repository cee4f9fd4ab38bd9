package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/livetrack/location-service/internal/handler"
	"github.com/livetrack/location-service/pkg/constants"
)

// New builds the HTTP router. Publisher endpoints sit behind the identity
// middleware; the viewer pull and watch surfaces are anonymous.
func New(
	sessionHandler *handler.SessionHandler,
	locationWS *handler.LocationWSHandler,
	health *handler.HealthHandler,
	authn gin.HandlerFunc,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// REST sessions
	sessions := r.Group("/sessions")
	{
		sessions.GET("/:id", sessionHandler.GetSession)

		authed := sessions.Group("", authn)
		{
			authed.POST("", sessionHandler.CreateSession)
			authed.PUT("/:id/location", sessionHandler.UpdateLocation)
			authed.DELETE("/:id", sessionHandler.StopSession)
		}
	}

	// WebSocket: anonymous viewers, authenticated publisher channel.
	r.GET("/ws/sessions/:session_id", locationWS.WatchWS)
	r.GET("/ws/sessions/:session_id/publish", authn, locationWS.PublishWS)

	return r
}
