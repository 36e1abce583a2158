package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/watchparty-signaling/config"
	"github.com/mossy-p/watchparty-signaling/internal/logger"
	"github.com/mossy-p/watchparty-signaling/internal/metrics"
	"github.com/mossy-p/watchparty-signaling/internal/relay"
)

// NewRouter wires every HTTP route of the signaling server.
func NewRouter(cfg *config.Config, hub *relay.Hub, m *metrics.Metrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger.NewNamed("http")))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(m.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/rooms", CreateRoom(hub))
		apiGroup.GET("/rooms/:roomId", GetRoom(hub))
	}

	router.GET("/ws", HandleSignaling(hub, m, cfg.Limits))

	// Browser client, if one is deployed next to the server
	if cfg.StaticDir != "" {
		files := http.FileServer(http.Dir(cfg.StaticDir))
		router.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}

	return router
}
