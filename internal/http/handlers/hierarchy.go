package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/codeframe-backend/internal/http/response"
	"github.com/yungbote/codeframe-backend/internal/pkg/dbctx"
	"github.com/yungbote/codeframe-backend/internal/platform/apierr"
	"github.com/yungbote/codeframe-backend/internal/services"
)

type HierarchyHandler struct {
	hierarchy services.HierarchyService
	apply     services.ApplyService
}

func NewHierarchyHandler(hierarchy services.HierarchyService, apply services.ApplyService) *HierarchyHandler {
	return &HierarchyHandler{hierarchy: hierarchy, apply: apply}
}

// GET /generations/:id/hierarchy
func (h *HierarchyHandler) Get(c *gin.Context) {
	id, ok := generationID(c)
	if !ok {
		return
	}
	tree, err := h.hierarchy.Tree(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"generation_id": id, "hierarchy": tree})
}

type editRequest struct {
	Action      string      `json:"action" binding:"required,oneof=rename merge move delete"`
	NodeID      uuid.UUID   `json:"node_id"`
	NewName     string      `json:"new_name"`
	NodeIDs     []uuid.UUID `json:"node_ids"`
	TargetName  string      `json:"target_name"`
	NewParentID *uuid.UUID  `json:"new_parent_id"`
}

// PATCH /generations/:id/hierarchy
func (h *HierarchyHandler) Edit(c *gin.Context) {
	id, ok := generationID(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondAPIError(c, apierr.Validation("invalid request body: %v", err))
		return
	}
	if req.Action != "merge" && req.NodeID == uuid.Nil {
		response.RespondAPIError(c, apierr.Validation("node_id is required for %s", req.Action))
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	switch req.Action {
	case "rename":
		node, err := h.hierarchy.Rename(dbc, id, req.NodeID, req.NewName)
		h.respondNode(c, req.Action, node, err)
	case "merge":
		node, err := h.hierarchy.Merge(dbc, id, req.NodeIDs, req.TargetName)
		h.respondNode(c, req.Action, node, err)
	case "move":
		node, err := h.hierarchy.Move(dbc, id, req.NodeID, req.NewParentID)
		h.respondNode(c, req.Action, node, err)
	case "delete":
		res, err := h.hierarchy.Delete(dbc, id, req.NodeID)
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"action": req.Action, "deleted_ids": res.DeletedIDs, "parent": res.Parent})
	}
}

func (h *HierarchyHandler) respondNode(c *gin.Context, action string, node any, err error) {
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"action": action, "node": node})
}

// POST /generations/:id/apply
func (h *HierarchyHandler) Apply(c *gin.Context) {
	id, ok := generationID(c)
	if !ok {
		return
	}
	req := services.ApplyRequest{AutoConfirmThreshold: 0.8}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondAPIError(c, apierr.Validation("invalid request body: %v", err))
			return
		}
	}
	res, err := h.apply.Apply(dbctx.Context{Ctx: c.Request.Context()}, id, req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
