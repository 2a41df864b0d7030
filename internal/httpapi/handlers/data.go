package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jasrulete/AI-Scheduler/internal/common"
	"github.com/jasrulete/AI-Scheduler/internal/datasync"
)

func (h *Handler) GetCollection(c *gin.Context) {
	col, err := datasync.ParseCollection(c.Param("collection"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40402, "unknown collection")
		return
	}
	data, ok, err := h.Cache.Get(c.Request.Context(), col)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "cache error")
		return
	}
	if !ok {
		common.Fail(c, http.StatusNotFound, 40403, "collection not loaded yet")
		return
	}
	common.OK(c, data)
}

func (h *Handler) RefreshData(c *gin.Context) {
	cols := h.Sync.RefreshAll()
	common.OK(c, gin.H{"refreshing": cols})
}
