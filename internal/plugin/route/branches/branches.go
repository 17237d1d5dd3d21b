// Package branches mounts the branch lifecycle HTTP surface: create, list,
// get/update/delete, and the branch's canonical root-to-leaf path.
package branches

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chirino/conversation-tree/internal/model"
	messagesroute "github.com/chirino/conversation-tree/internal/plugin/route/messages"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the branch endpoints under /api/v1.
func MountRoutes(r *gin.Engine, store registrystore.Store) {
	auth := security.UserIDMiddleware()
	g := r.Group("/api/v1", auth)

	g.POST("/conversations/:conversationId/branches", func(c *gin.Context) {
		createBranch(c, store)
	})
	g.GET("/conversations/:conversationId/branches", func(c *gin.Context) {
		listBranches(c, store)
	})
	g.GET("/conversations/:conversationId/branches/:branchId", func(c *gin.Context) {
		getBranch(c, store)
	})
	g.PUT("/conversations/:conversationId/branches/:branchId", func(c *gin.Context) {
		updateBranch(c, store)
	})
	g.DELETE("/conversations/:conversationId/branches/:branchId", func(c *gin.Context) {
		deleteBranch(c, store)
	})
	g.GET("/conversations/:conversationId/branches/:branchId/messages", func(c *gin.Context) {
		getBranchMessages(c, store)
	})
}

// BranchDTO is the wire shape of a branch.
type BranchDTO struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Name           string    `json:"name"`
	LeafMessageID  uuid.UUID `json:"leaf_message_id"`
	IsActive       bool      `json:"is_active"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toDTO(b model.Branch) BranchDTO {
	return BranchDTO{
		ID:             b.ID,
		ConversationID: b.ConversationID,
		Name:           b.Name,
		LeafMessageID:  b.LeafMessageID,
		IsActive:       b.IsActive,
		CreatedBy:      b.CreatedBy,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

type createBranchRequest struct {
	BranchName string `json:"branch_name"`
	Leaf       string `json:"leaf"`
	CreatedBy  string `json:"created_by"`
}

func createBranch(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	var req createBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	leafID, err := uuid.Parse(req.Leaf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": "invalid leaf"})
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = security.GetUserID(c)
	}
	branch, err := store.CreateBranch(c.Request.Context(), convID, registrystore.NewBranchInput{
		Name:          req.BranchName,
		LeafMessageID: leafID,
		CreatedBy:     createdBy,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(*branch))
}

func listBranches(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	branches, err := store.ListBranches(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	dtos := make([]BranchDTO, 0, len(branches))
	for _, b := range branches {
		dtos = append(dtos, toDTO(b))
	}
	c.JSON(http.StatusOK, gin.H{"data": dtos})
}

func getBranch(c *gin.Context, store registrystore.Store) {
	convID, branchID, ok := parseConvBranch(c)
	if !ok {
		return
	}
	branch, err := store.GetBranch(c.Request.Context(), convID, branchID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(*branch))
}

type updateBranchRequest struct {
	Name *string `json:"name"`
	Leaf *string `json:"leaf"`
}

func updateBranch(c *gin.Context, store registrystore.Store) {
	convID, branchID, ok := parseConvBranch(c)
	if !ok {
		return
	}
	var req updateBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	in := registrystore.UpdateBranchInput{Name: req.Name}
	if req.Leaf != nil {
		leafID, err := uuid.Parse(*req.Leaf)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": "invalid leaf"})
			return
		}
		in.LeafMessageID = &leafID
	}
	branch, err := store.UpdateBranch(c.Request.Context(), convID, branchID, in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDTO(*branch))
}

func deleteBranch(c *gin.Context, store registrystore.Store) {
	convID, branchID, ok := parseConvBranch(c)
	if !ok {
		return
	}
	if err := store.DeleteBranch(c.Request.Context(), convID, branchID); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func getBranchMessages(c *gin.Context, store registrystore.Store) {
	convID, branchID, ok := parseConvBranch(c)
	if !ok {
		return
	}
	lineage, err := store.GetBranchMessages(c.Request.Context(), convID, branchID)
	if err != nil {
		handleError(c, err)
		return
	}
	dto, err := messagesroute.ToLineageDTO(*lineage)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dto.Path})
}

func parseConvID(c *gin.Context) (uuid.UUID, bool) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return uuid.UUID{}, false
	}
	return convID, true
}

func parseConvBranch(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	convID, ok := parseConvID(c)
	if !ok {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	branchID, err := uuid.Parse(c.Param("branchId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "branch not found"})
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return convID, branchID, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var depthExceeded *registrystore.DepthExceededError
	var divergent *registrystore.BranchDivergentError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var tooLarge *registrystore.BatchTooLargeError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "cancelled", "error": "request cancelled"})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &depthExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"code": "depth_exceeded", "error": err.Error()})
	case errors.As(err, &divergent):
		c.JSON(http.StatusConflict, gin.H{"code": "branch_divergent", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "batch_too_large", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
	}
}
