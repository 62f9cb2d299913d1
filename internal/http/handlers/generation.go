package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/codeframe-backend/internal/http/response"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type GenerationHandler struct {
	orchestrator services.Orchestrator
}

func NewGenerationHandler(orchestrator services.Orchestrator) *GenerationHandler {
	return &GenerationHandler{orchestrator: orchestrator}
}

// POST /generations
func (h *GenerationHandler) Start(c *gin.Context) {
	var req services.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid request body: %v", err))
		return
	}
	resp, err := h.orchestrator.Start(dbctx.Context{Ctx: c.Request.Context()}, req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GET /generations/:id/status
func (h *GenerationHandler) Status(c *gin.Context) {
	id, ok := generationID(c)
	if !ok {
		return
	}
	snap, err := h.orchestrator.Status(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// DELETE /generations/:id
func (h *GenerationHandler) Delete(c *gin.Context) {
	id, ok := generationID(c)
	if !ok {
		return
	}
	if err := h.orchestrator.Delete(dbctx.Context{Ctx: c.Request.Context()}, id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func generationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return uuid.Nil, false
	}
	return id, true
}
