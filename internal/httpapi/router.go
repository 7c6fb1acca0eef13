// Package httpapi is the thin gin-gonic HTTP surface over JobService —
// deliberately minimal glue, per spec.md's explicit scoping-out of
// upload/auth/rate-limiting concerns. Routed the way the teacher's
// routers.InitRouter groups v1 handlers and registers one websocket
// route alongside the REST group.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/mickaelli/reelforge/internal/jobservice"
)

// NewRouter builds the gin.Engine exposing Create/Get/Cancel and the
// progress websocket.
func NewRouter(svc *jobservice.Service) *gin.Engine {
	r := gin.Default()
	h := &Handler{svc: svc}

	v1 := r.Group("/v1")
	{
		v1.POST("/jobs", h.CreateJob)
		v1.GET("/jobs/:job_id", h.GetJob)
		v1.DELETE("/jobs/:job_id", h.CancelJob)
	}
	r.GET("/jobs/:job_id/progress", h.ProgressWebSocket)
	return r
}
