package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskyard/overseer/internal/store"
)

func (h *handlers) listProjects(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

func (h *handlers) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	task, err := req.toTask()
	if err != nil {
		writeErr(c, err)
		return
	}
	created, err := h.store.Create(task)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *handlers) updateProject(c *gin.Context) {
	id := c.Param("id")
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	patch, err := req.toTask()
	if err != nil {
		writeErr(c, err)
		return
	}
	updated, err := h.store.Update(id, patch)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.guardian.Reset(id)
	c.JSON(http.StatusOK, updated)
}

func (h *handlers) deleteProject(c *gin.Context) {
	id := c.Param("id")
	_, _ = h.supervisor.Stop(c.Request.Context(), id, "", "", nil)
	if err := h.store.Delete(id); err != nil {
		writeErr(c, err)
		return
	}
	h.guardian.Reset(id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) dedupeProjects(c *gin.Context) {
	removed, total := h.store.Dedupe()
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": removed, "total": total})
}

func (h *handlers) startProject(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	env, err := stringEnv(req.EnvironmentVars)
	if err != nil {
		writeErr(c, err)
		return
	}

	res, err := h.supervisor.Start(c.Request.Context(), req.ID, req.StartCommand, req.WorkingDirectory, env, req.StartupTimeoutMS)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.guardian.Reset(req.ID)

	if !res.OK {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "error": res.Error, "code": res.Code, "signal": res.Signal,
			"logs": gin.H{"stdout": res.Stdout, "stderr": res.Stderr},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "pid": res.PID})
}

func (h *handlers) stopProject(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	env, err := stringEnv(req.EnvironmentVars)
	if err != nil {
		writeErr(c, err)
		return
	}

	res, err := h.supervisor.Stop(c.Request.Context(), req.ID, req.StopCommand, req.WorkingDirectory, env)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.guardian.Reset(req.ID)

	if !res.OK {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "error": res.Error,
			"logs": gin.H{"stdout": res.Stdout, "stderr": res.Stderr},
		})
		return
	}
	body := gin.H{"ok": true}
	if res.Message != "" {
		body["message"] = res.Message
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) restartProject(c *gin.Context) {
	var req restartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, store.NewValidationError(err.Error()))
		return
	}
	env, err := stringEnv(req.EnvironmentVars)
	if err != nil {
		writeErr(c, err)
		return
	}

	res, err := h.supervisor.Restart(c.Request.Context(), req.ID, req.StartCommand, req.StopCommand, req.WorkingDirectory, env, req.StartupTimeoutMS)
	if err != nil {
		writeErr(c, err)
		return
	}
	h.guardian.Reset(req.ID)

	if !res.OK {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "error": res.Error, "code": res.Code, "signal": res.Signal,
			"logs": gin.H{"stdout": res.Stdout, "stderr": res.Stderr},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "pid": res.PID})
}

func (h *handlers) statusProject(c *gin.Context) {
	id := c.Param("id")
	status := h.supervisor.Status(id)
	var pid any
	if status.Running {
		pid = status.PID
	}
	c.JSON(http.StatusOK, gin.H{"running": status.Running, "status": status.Status, "pid": pid})
}

func (h *handlers) getLogs(c *gin.Context) {
	id := c.Param("id")
	stdout, stderr := h.supervisor.Logs(id)
	c.JSON(http.StatusOK, gin.H{"stdout": orEmpty(stdout), "stderr": orEmpty(stderr)})
}

func (h *handlers) clearLogs(c *gin.Context) {
	id := c.Param("id")
	h.supervisor.ClearLogs(id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func orEmpty(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
