package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskyard/overseer/internal/discovery"
	"github.com/taskyard/overseer/internal/store"
)

func (h *handlers) searchProcesses(c *gin.Context) {
	name := c.Query("name")
	matches, err := discovery.SearchByName(c.Request.Context(), name)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		out = append(out, gin.H{"pid": m.PID, "command": m.Command})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) listByPort(c *gin.Context) {
	port, err := discovery.ParsePort(c.Param("port"))
	if err != nil {
		writeErr(c, store.NewValidationError("invalid port"))
		return
	}
	matches, err := discovery.ListByPort(c.Request.Context(), port)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		out = append(out, gin.H{"pid": m.PID, "command": m.Command, "name": m.Name})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) killProcess(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	if req.PID <= 0 {
		writeErr(c, store.NewValidationError("pid must be positive"))
		return
	}
	signal := req.Signal
	if signal == "" {
		signal = "SIGTERM"
	}
	if err := discovery.Kill(req.PID, signal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "pid": req.PID, "signal": signal})
}
