package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jasrulete/AI-Scheduler/internal/assistant"
	"github.com/jasrulete/AI-Scheduler/internal/chat"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

// Assistant is the part of assistant.Session the API drives.
type Assistant interface {
	Status() assistant.Status
	Send(text string) (chat.Message, error)
	History(limit int) error
	Reconnect(ctx context.Context) error
	Logout(ctx context.Context) error
	Router() *realtime.Router
}

type Refresher interface {
	RefreshAll() []datasync.Collection
}

type Handler struct {
	Assistant Assistant
	Cache     datasync.Cache
	Sync      Refresher

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func NewHandler(a Assistant, cache datasync.Cache, sync Refresher) *Handler {
	return &Handler{Assistant: a, Cache: cache, Sync: sync, Heartbeat: 15 * time.Second}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pong": true})
}
