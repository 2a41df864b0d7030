package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jasrulete/AI-Scheduler/internal/common"
	"github.com/jasrulete/AI-Scheduler/internal/httpapi/middleware"
	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

func (h *Handler) ChatState(c *gin.Context) {
	common.OK(c, h.Assistant.Status())
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	msg, err := h.Assistant.Send(text)
	if err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			common.Fail(c, http.StatusConflict, 40901, "assistant not connected")
			return
		}
		slog.Error("send chat message failed", "request_id", c.GetString(middleware.RequestIDKey), "error", err)
		common.Fail(c, http.StatusBadGateway, 50201, "failed to send message")
		return
	}
	common.OK(c, msg)
}

type historyReq struct {
	Limit int `json:"limit"`
}

func (h *Handler) RequestHistory(c *gin.Context) {
	var req historyReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	if req.Limit < 0 || req.Limit > 500 {
		common.Fail(c, http.StatusBadRequest, 10003, "limit out of range")
		return
	}
	if err := h.Assistant.History(req.Limit); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			common.Fail(c, http.StatusConflict, 40901, "assistant not connected")
			return
		}
		common.Fail(c, http.StatusBadGateway, 50201, "failed to request history")
		return
	}
	common.OK(c, gin.H{"requested": true})
}

func (h *Handler) Reconnect(c *gin.Context) {
	if err := h.Assistant.Reconnect(c.Request.Context()); err != nil {
		if errors.Is(err, realtime.ErrConnecting) {
			common.Fail(c, http.StatusConflict, 40902, "connect already in progress")
			return
		}
		common.Fail(c, http.StatusBadGateway, 50202, "reconnect failed: "+err.Error())
		return
	}
	common.OK(c, gin.H{"connection": h.Assistant.Status().Connection})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.Assistant.Logout(c.Request.Context()); err != nil {
		slog.Error("logout failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to clear session")
		return
	}
	common.OK(c, gin.H{"logged_out": true})
}

// ChatEvents streams every channel event as SSE until the client leaves.
func (h *Handler) ChatEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}

	events := make(chan realtime.Event, 64)
	router := h.Assistant.Router()
	sub := router.On(realtime.Wildcard, func(ev realtime.Event) {
		select {
		case events <- ev:
		default:
			// slow reader, drop
		}
	})
	defer router.Off(sub)

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	write := func(event string, data []byte) {
		fmt.Fprintf(c.Writer, "event: %s\n", event)
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev := <-events:
			write(ev.Type, ev.Payload)
		case <-ticker.C:
			b, _ := json.Marshal(gin.H{"type": "ping", "ts": time.Now().Unix()})
			write("ping", b)
		case <-ctx.Done():
			return
		}
	}
}
