package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/models"
	"marketpulse/internal/repository"
	"marketpulse/internal/rules"
)

// RuleHandler exposes exclusion rule management, rule previews and the rule
// audit trail.
type RuleHandler struct {
	Engine *rules.Engine
	Repo   repository.Repository
}

func (h *RuleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/rules")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/toggle", h.toggle)
	g.POST("/preview", h.preview)

	a := r.Group("/api/v1/audit")
	a.GET("", h.listAudit)
	a.POST("/:id/revert", h.revert)
}

func (h *RuleHandler) user(c *gin.Context) string {
	user := strings.TrimSpace(c.GetHeader("X-User"))
	if user == "" {
		user = "admin"
	}
	return user
}

func (h *RuleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListRules(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *RuleHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.Repo.GetRuleByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(c, http.StatusNotFound, "rule not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type createRuleRequest struct {
	Name       string             `json:"name"`
	IsActive   *bool              `json:"is_active"`
	Conditions []models.Condition `json:"conditions"`
}

func (h *RuleHandler) create(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	item, err := h.Engine.CreateRule(c.Request.Context(), req.Name, req.Conditions, isActive, h.user(c))
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, rules.ErrEmptyRuleName):
			status = http.StatusBadRequest
		case errors.Is(err, rules.ErrDuplicateRuleName):
			status = http.StatusConflict
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type updateRuleRequest struct {
	Name       *string            `json:"name"`
	IsActive   *bool              `json:"is_active"`
	Conditions []models.Condition `json:"conditions"`
}

func (h *RuleHandler) update(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Engine.UpdateRule(c.Request.Context(), id, rules.RulePatch{
		Name:       req.Name,
		IsActive:   req.IsActive,
		Conditions: req.Conditions,
	}, h.user(c))
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, rules.ErrRuleNotFound):
			status = http.StatusNotFound
		case errors.Is(err, rules.ErrDuplicateRuleName):
			status = http.StatusConflict
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *RuleHandler) delete(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Engine.DeleteRule(c.Request.Context(), id, h.user(c)); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "deleted": true}, nil)
}

func (h *RuleHandler) toggle(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	item, err := h.Engine.ToggleRule(c.Request.Context(), id, h.user(c))
	if err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type previewRequest struct {
	Rows    []map[string]any `json:"rows"`
	RuleIDs []uint64         `json:"rule_ids"`
}

// preview evaluates submitted rows against a rule set without persisting
// anything. With no rule_ids it uses every active rule.
func (h *RuleHandler) preview(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if len(req.Rows) == 0 {
		Error(c, http.StatusBadRequest, "rows are required", nil)
		return
	}
	verdicts, err := h.Engine.PreviewRows(c.Request.Context(), req.Rows, req.RuleIDs)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	excluded := 0
	for _, v := range verdicts {
		if v.Excluded {
			excluded++
		}
	}
	Ok(c, verdicts, map[string]any{"total": len(verdicts), "excluded": excluded})
}

func (h *RuleHandler) listAudit(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListAuditLogs(c.Request.Context(), repository.ListAuditLogsParams{
		Module: strings.TrimSpace(c.Query("module")),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *RuleHandler) revert(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Engine.Revert(c.Request.Context(), id, h.user(c)); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, repository.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, rules.ErrAuditNotRevertable):
			status = http.StatusConflict
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"audit_id": id, "reverted": true}, nil)
}
