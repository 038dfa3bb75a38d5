package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/automation"
	"marketpulse/internal/repository"
)

// JobHandler exposes cron job management, manual triggers and run history.
type JobHandler struct {
	Orchestrator *automation.Orchestrator
	Repo         repository.Repository
}

func (h *JobHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/jobs")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/toggle", h.toggle)
	g.POST("/:id/trigger", h.trigger)
	g.GET("/:id/next-run", h.nextRun)

	r.GET("/api/v1/runs", h.listRuns)
}

func (h *JobHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListCronJobs(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *JobHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.Repo.GetCronJobByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(c, http.StatusNotFound, "job not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type createJobRequest struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	IsActive *bool  `json:"is_active"`
}

func (h *JobHandler) create(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	item, err := h.Orchestrator.CreateJob(c.Request.Context(), req.Name, req.Schedule, isActive)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type updateJobRequest struct {
	Name     *string `json:"name"`
	Schedule *string `json:"schedule"`
	IsActive *bool   `json:"is_active"`
}

func (h *JobHandler) update(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Orchestrator.UpdateJob(c.Request.Context(), id, automation.JobPatch{
		Name:     req.Name,
		Schedule: req.Schedule,
		IsActive: req.IsActive,
	})
	if err != nil {
		if errors.Is(err, automation.ErrJobNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *JobHandler) delete(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Orchestrator.DeleteJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, automation.ErrJobNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "deleted": true}, nil)
}

func (h *JobHandler) toggle(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.Orchestrator.ToggleJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrJobNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// trigger runs a job now. ?override=true additionally suspends the schedule
// for the grace window so the immediate run replaces the next firing.
func (h *JobHandler) trigger(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.Orchestrator.TriggerManually(c.Request.Context(), id, queryBool(c, "override"))
	if err != nil {
		if errors.Is(err, automation.ErrJobNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *JobHandler) nextRun(c *gin.Context) {
	if h.Orchestrator == nil || h.Orchestrator.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	next := h.Orchestrator.Scheduler.NextRun(id)
	Ok(c, map[string]any{"job_id": id, "next_run": next}, nil)
}

func (h *JobHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListExecutionLogsParams{
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if jobID := queryInt(c, "job_id", 0); jobID > 0 {
		id := uint64(jobID)
		params.JobID = &id
	}
	items, err := h.Repo.ListExecutionLogs(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
