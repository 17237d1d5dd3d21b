// Package fork mounts the fork-engine HTTP surface: copying a whole
// conversation, a branch's lineage plus its leaf's descendants, or the subtree
// rooted at a single message into a new conversation.
package fork

import (
	"context"
	"errors"
	"net/http"

	conversationsroute "github.com/chirino/conversation-tree/internal/plugin/route/conversations"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the fork endpoints under /api/v1.
func MountRoutes(r *gin.Engine, store registrystore.Store) {
	auth := security.UserIDMiddleware()
	g := r.Group("/api/v1", auth)

	g.POST("/conversations/:conversationId/fork", func(c *gin.Context) {
		forkConversation(c, store)
	})
	g.POST("/conversations/:conversationId/branches/:branchId/fork", func(c *gin.Context) {
		forkBranch(c, store)
	})
	g.POST("/conversations/:conversationId/messages/:messageId/fork", func(c *gin.Context) {
		forkMessage(c, store)
	})
}

type forkRequest struct {
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
}

func (req forkRequest) toInput(c *gin.Context) registrystore.ForkInput {
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = security.GetUserID(c)
	}
	return registrystore.ForkInput{Title: req.Title, CreatedBy: createdBy}
}

func bindForkRequest(c *gin.Context) (forkRequest, bool) {
	var req forkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return forkRequest{}, false
	}
	return req, true
}

func forkConversation(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	req, ok := bindForkRequest(c)
	if !ok {
		return
	}
	conv, err := store.ForkConversation(c.Request.Context(), convID, req.toInput(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationsroute.ToDTO(*conv))
}

func forkBranch(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	branchID, err := uuid.Parse(c.Param("branchId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "branch not found"})
		return
	}
	req, ok := bindForkRequest(c)
	if !ok {
		return
	}
	conv, err := store.ForkBranch(c.Request.Context(), convID, branchID, req.toInput(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationsroute.ToDTO(*conv))
}

func forkMessage(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return
	}
	req, ok := bindForkRequest(c)
	if !ok {
		return
	}
	conv, err := store.ForkMessage(c.Request.Context(), convID, msgID, req.toInput(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversationsroute.ToDTO(*conv))
}

func parseConvID(c *gin.Context) (uuid.UUID, bool) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return uuid.UUID{}, false
	}
	return convID, true
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
