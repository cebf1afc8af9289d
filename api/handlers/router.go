package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/ws"
)

// RouterConfig holds what the API router serves.
type RouterConfig struct {
	Client *realtime.Client

	// Stream is the browser fan-out. Nil disables /api/stream.
	Stream *ws.Service

	// History is the persisted task feed. Nil disables ?source=db.
	History TaskHistory

	// RecordingPath is the frame transcript offered for download.
	RecordingPath string
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(config RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"session": config.Client.Session().State(),
		})
	})

	api := r.Group("/api")
	{
		NewSessionHandler(config.Client, config.RecordingPath).RegisterRoutes(api)
		NewStateHandler(config.Client.Stores(), config.History).RegisterRoutes(api)
		NewCommandHandler(config.Client).RegisterRoutes(api)
		if config.Stream != nil {
			NewWebSocketHandler(config.Stream).RegisterRoutes(api)
		}
	}
	return r
}

// corsMiddleware returns a CORS middleware for browser dashboards served
// from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
