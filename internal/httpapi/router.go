package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mfifer/docchat/internal/common"
	"github.com/mfifer/docchat/internal/httpapi/handlers"
	"github.com/mfifer/docchat/internal/ws"
)

func NewRouter(h *handlers.Handler, wsHandler *ws.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.POST("/chat", h.Chat)
	api.DELETE("/chat/:session_id", h.ClearHistory)
	api.POST("/chat/async", h.ChatAsync)
	api.GET("/chat/jobs/:job_id", h.GetJob)

	r.GET("/ws/:session_id", wsHandler.Serve)

	return r
}
