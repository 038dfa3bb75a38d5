package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/upload"
)

// UploadHandler exposes the manual upload buffer: submit a batch, browse
// history, remove entries.
type UploadHandler struct {
	Service *upload.Service
}

func (h *UploadHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/uploads")
	g.POST("", h.submit)
	g.GET("", h.history)
	g.DELETE("/:id", h.delete)
}

type submitUploadRequest struct {
	SourceFile string           `json:"source_file"`
	UploadedBy string           `json:"uploaded_by"`
	Rows       []map[string]any `json:"rows"`
}

// submit validates and buffers one batch. The batch is processed during the
// next orchestrated run, not here.
func (h *UploadHandler) submit(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "upload service unavailable", nil)
		return
	}
	var req submitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	entry, err := h.Service.Enqueue(c.Request.Context(), req.Rows, req.SourceFile, req.UploadedBy)
	if err != nil {
		var vErr *upload.ValidationError
		switch {
		case errors.Is(err, upload.ErrEmptyBatch):
			Error(c, http.StatusBadRequest, err.Error(), nil)
		case errors.As(err, &vErr):
			Error(c, http.StatusBadRequest, "upload validation failed", map[string]any{
				"problems": vErr.Problems,
			})
		default:
			Error(c, http.StatusBadGateway, err.Error(), nil)
		}
		return
	}
	Ok(c, entry, map[string]any{"buffered": true})
}

func (h *UploadHandler) history(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "upload service unavailable", nil)
		return
	}
	items, err := h.Service.History(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	// Trim payloads out of the listing; history is about outcomes.
	for i := range items {
		items[i].Rows = nil
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filtered := items[:0]
		for _, item := range items {
			if item.Status == status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *UploadHandler) delete(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "upload service unavailable", nil)
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), id); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{"id": id, "deleted": true}, nil)
}
