package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jasrulete/AI-Scheduler/internal/common"
	"github.com/jasrulete/AI-Scheduler/internal/httpapi/handlers"
	"github.com/jasrulete/AI-Scheduler/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))

	// chat (JWT required)
	authGroup.GET("/chat/state", h.ChatState)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/history", h.RequestHistory)
	authGroup.POST("/chat/reconnect", h.Reconnect)
	authGroup.POST("/chat/logout", h.Logout)
	authGroup.GET("/chat/events", h.ChatEvents)

	// cached collections
	authGroup.GET("/data/:collection", h.GetCollection)
	authGroup.POST("/data/refresh", h.RefreshData)
	return r
}
