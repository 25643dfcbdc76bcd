package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/featurepulse-backend/internal/http/response"
	"github.com/yungbote/featurepulse-backend/internal/pkg/dbctx"
	"github.com/yungbote/featurepulse-backend/internal/pkg/logger"
	"github.com/yungbote/featurepulse-backend/internal/services"
)

type PipelineHandler struct {
	log      *logger.Logger
	pipeline services.PipelineService
}

func NewPipelineHandler(log *logger.Logger, pipeline services.PipelineService) *PipelineHandler {
	return &PipelineHandler{log: log.With("handler", "PipelineHandler"), pipeline: pipeline}
}

// POST /api/workspaces/:id/pipeline/:stage/trigger
func (h *PipelineHandler) Trigger(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	job, created, err := h.pipeline.Trigger(dbctx.Context{Ctx: c.Request.Context()}, ws, c.Param("stage"))
	if err != nil {
		h.log.Warn("Trigger failed", "workspace_id", ws, "stage", c.Param("stage"), "error", err)
		response.RespondServiceError(c, "trigger_failed", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"job": job, "created": created})
}

// GET /api/workspaces/:id/pipeline/stats
func (h *PipelineHandler) Stats(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	stats, err := h.pipeline.Stats(dbctx.Context{Ctx: c.Request.Context()}, ws)
	if err != nil {
		response.RespondServiceError(c, "stats_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"stats": stats})
}

// GET /api/workspaces/:id/aggregation-runs?limit=
func (h *PipelineHandler) AggregationRuns(c *gin.Context) {
	ws, ok := workspaceParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.pipeline.AggregationRuns(dbctx.Context{Ctx: c.Request.Context()}, ws, limit)
	if err != nil {
		response.RespondServiceError(c, "list_runs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

func workspaceParam(c *gin.Context) (uuid.UUID, bool) {
	ws, err := uuid.Parse(c.Param("id"))
	if err != nil || ws == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_workspace_id", err)
		return uuid.Nil, false
	}
	return ws, true
}
