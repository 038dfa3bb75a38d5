package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/output"
	"marketpulse/internal/repository"
	"marketpulse/internal/source"
)

// ColorHandler exposes the processed output store and the raw feed probe.
type ColorHandler struct {
	Output *output.Accumulator
	Source source.DataSource
}

func (h *ColorHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/colors")
	g.GET("", h.list)
	g.GET("/stats", h.stats)
	g.GET("/source/test", h.testSource)
}

func (h *ColorHandler) list(c *gin.Context) {
	if h.Output == nil {
		Error(c, http.StatusInternalServerError, "output store unavailable", nil)
		return
	}
	params := repository.ListProcessedParams{
		ProcessingType: strings.TrimSpace(c.Query("processing_type")),
		Cusip:          strings.TrimSpace(c.Query("cusip")),
		Ticker:         strings.TrimSpace(c.Query("ticker")),
		Limit:          queryInt(c, "limit", 100),
		Offset:         queryInt(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("message_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid message_id", nil)
			return
		}
		params.MessageID = &id
	}
	if raw := strings.TrimSpace(c.Query("date_from")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid date_from", nil)
			return
		}
		params.DateFrom = &t
	}
	if raw := strings.TrimSpace(c.Query("date_to")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid date_to", nil)
			return
		}
		params.DateTo = &t
	}

	items, err := h.Output.Read(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *ColorHandler) stats(c *gin.Context) {
	if h.Output == nil {
		Error(c, http.StatusInternalServerError, "output store unavailable", nil)
		return
	}
	stats, err := h.Output.Stats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

func (h *ColorHandler) testSource(c *gin.Context) {
	if h.Source == nil {
		Error(c, http.StatusInternalServerError, "data source unavailable", nil)
		return
	}
	status := h.Source.TestConnection(c.Request.Context())
	if !status.OK {
		Error(c, http.StatusBadGateway, status.Message, nil)
		return
	}
	Ok(c, status, nil)
}
