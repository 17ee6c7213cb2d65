package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func InitRoutes(h *Handler, s *SessionHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors())
	router.Use(requestLogger(h.log))

	router.GET("/", h.Index)
	router.POST("/remove-background", h.RemoveBackground)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	if s != nil {
		sessions := router.Group("/sessions")
		{
			sessions.POST("", s.Create)
			sessions.GET("/:id", s.Get)
			sessions.DELETE("/:id", s.Delete)
			sessions.POST("/:id/image", s.Upload)
			sessions.POST("/:id/slider", s.Slider)
			sessions.GET("/:id/preview.png", s.Preview)
			sessions.GET("/:id/download", s.Download)
			sessions.POST("/:id/retry", s.Retry)
			sessions.POST("/:id/reset", s.Reset)
		}
	}

	return router
}
