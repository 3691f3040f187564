// Package httpapi exposes the supervisor, task store, and OS discovery
// over a minimal JSON REST surface, built on gin with permissive CORS.
package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/taskyard/overseer/internal/guardian"
	"github.com/taskyard/overseer/internal/store"
	"github.com/taskyard/overseer/internal/supervisor"
)

type handlers struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	guardian   *guardian.Guardian
}

// NewRouter builds the gin.Engine serving the project/process endpoints.
func NewRouter(st *store.Store, sup *supervisor.Supervisor, g *guardian.Guardian, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog(logger))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	r.Use(cors.New(corsCfg))

	h := &handlers{store: st, supervisor: sup, guardian: g}

	api := r.Group("/api")
	{
		projects := api.Group("/projects")
		projects.GET("", h.listProjects)
		projects.POST("", h.createProject)
		projects.PUT("/:id", h.updateProject)
		projects.DELETE("/:id", h.deleteProject)
		projects.POST("/dedupe", h.dedupeProjects)
		projects.POST("/start", h.startProject)
		projects.POST("/stop", h.stopProject)
		projects.POST("/restart", h.restartProject)
		projects.GET("/status/:id", h.statusProject)
		projects.GET("/logs/:id", h.getLogs)
		projects.DELETE("/logs/:id", h.clearLogs)

		processes := api.Group("/processes")
		processes.GET("/search", h.searchProcesses)
		processes.GET("/by-port/:port", h.listByPort)
		processes.POST("/kill", h.killProcess)
	}
	return r
}
