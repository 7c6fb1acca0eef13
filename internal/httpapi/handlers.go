package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mickaelli/reelforge/internal/jobservice"
	"github.com/mickaelli/reelforge/internal/model"
)

// Handler wraps the JobService façade for gin binding/response duty —
// no business logic lives here, mirroring how the teacher's api package
// is a thin translation layer over models/service calls.
type Handler struct {
	svc *jobservice.Service
}

var progressUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type artifactRefDTO struct {
	ArtifactID  string `json:"artifact_id" binding:"required"`
	ContentKind string `json:"content_kind" binding:"required"`
}

type audioWindowDTO struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

type createJobRequest struct {
	Clips       []artifactRefDTO `json:"clips" binding:"required"`
	Audio       artifactRefDTO   `json:"audio" binding:"required"`
	AudioWindow audioWindowDTO   `json:"audio_window"`
	Style       string           `json:"style" binding:"required"`
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clips := make([]model.ArtifactRef, len(req.Clips))
	for i, cl := range req.Clips {
		clips[i] = model.ArtifactRef{ArtifactID: cl.ArtifactID, ContentKind: cl.ContentKind}
	}

	jobID, err := h.svc.Create(c.Request.Context(), jobservice.CreateRequest{
		Clips:       clips,
		Audio:       model.ArtifactRef{ArtifactID: req.Audio.ArtifactID, ContentKind: req.Audio.ContentKind},
		WindowStart: req.AudioWindow.StartSec,
		WindowEnd:   req.AudioWindow.EndSec,
		Style:       req.Style,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetJob handles GET /v1/jobs/:job_id.
func (h *Handler) GetJob(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobViewDTO(view))
}

// CancelJob handles DELETE /v1/jobs/:job_id.
func (h *Handler) CancelJob(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), c.Param("job_id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// ProgressWebSocket polls JobService.Get at a fixed interval and pushes
// any status/progress change, the same DB-as-source-of-truth polling
// loop the teacher's TaskProgressWebSocket uses rather than a pub/sub
// fanout.
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	jobID := c.Param("job_id")
	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	view, err := h.svc.Get(c.Request.Context(), jobID)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	_ = conn.WriteJSON(jobViewDTO(view))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus, prevProgress := view.Job.Status, view.Job.Progress
	for range ticker.C {
		cur, err := h.svc.Get(c.Request.Context(), jobID)
		if err != nil {
			continue
		}
		if cur.Job.Status != prevStatus || cur.Job.Progress != prevProgress {
			if err := conn.WriteJSON(jobViewDTO(cur)); err != nil {
				return
			}
			prevStatus, prevProgress = cur.Job.Status, cur.Job.Progress
		}
		if model.IsTerminal(cur.Job.Status) {
			return
		}
	}
}

func jobViewDTO(v jobservice.JobView) gin.H {
	return gin.H{
		"id":                v.Job.ID,
		"status":            v.Job.Status,
		"progress":          v.Job.Progress,
		"current_step":      v.Job.CurrentStep,
		"error":             v.Job.Error,
		"output_url":        v.OutputURL,
		"style_description": v.StyleDescription,
	}
}

func writeServiceError(c *gin.Context, err error) {
	var invalid *jobservice.ErrInvalidInput
	switch {
	case isInvalidInput(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func isInvalidInput(err error, target **jobservice.ErrInvalidInput) bool {
	ii, ok := err.(*jobservice.ErrInvalidInput)
	if ok {
		*target = ii
	}
	return ok
}
