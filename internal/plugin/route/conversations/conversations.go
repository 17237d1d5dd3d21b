// Package conversations mounts the conversation-header HTTP surface: create,
// get/update/delete, and the full-tree listing.
package conversations

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/chirino/conversation-tree/internal/model"
	messagesroute "github.com/chirino/conversation-tree/internal/plugin/route/messages"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the conversation endpoints under /api/v1.
func MountRoutes(r *gin.Engine, store registrystore.Store) {
	auth := security.UserIDMiddleware()
	g := r.Group("/api/v1", auth)

	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, store)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.PUT("/conversations/:conversationId", func(c *gin.Context) {
		updateConversation(c, store)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		deleteConversation(c, store)
	})
	g.GET("/conversations/:conversationId/tree", func(c *gin.Context) {
		getTree(c, store)
	})
}

// ConversationDTO is the wire shape of a conversation header.
type ConversationDTO struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	CreatedBy              string     `json:"created_by"`
	Public                 bool       `json:"public"`
	ForkFromConversationID *uuid.UUID `json:"fork_from_conversation_id"`
	ForkFromMessageID      *uuid.UUID `json:"fork_from_message_id"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// ToDTO renders a conversation header for the wire.
func ToDTO(conv model.Conversation) ConversationDTO {
	return ConversationDTO{
		ID:                     conv.ID,
		Title:                  conv.Title,
		Description:            conv.Description,
		CreatedBy:              conv.CreatedBy,
		Public:                 conv.Public,
		ForkFromConversationID: conv.ForkFromConversationID,
		ForkFromMessageID:      conv.ForkFromMessageID,
		CreatedAt:              conv.CreatedAt,
		UpdatedAt:              conv.UpdatedAt,
	}
}

type createConversationRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	Public      bool   `json:"public"`
}

func createConversation(c *gin.Context, store registrystore.Store) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = security.GetUserID(c)
	}
	conv, err := store.CreateConversation(c.Request.Context(), registrystore.NewConversationInput{
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   createdBy,
		Public:      req.Public,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToDTO(*conv))
}

func getConversation(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	conv, err := store.GetConversation(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToDTO(*conv))
}

type updateConversationRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Public      *bool   `json:"public"`
}

func updateConversation(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	conv, err := store.UpdateConversation(c.Request.Context(), convID, registrystore.UpdateConversationInput{
		Title:       req.Title,
		Description: req.Description,
		Public:      req.Public,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ToDTO(*conv))
}

func deleteConversation(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	if err := store.DeleteConversation(c.Request.Context(), convID); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// treeResponse reports total_messages plus the conversation's messages,
// which getTree sorts by (depth, created_at).
type treeResponse struct {
	Conversation  ConversationDTO           `json:"conversation"`
	TotalMessages int                       `json:"total_messages"`
	Messages      []messagesroute.MessageDTO `json:"messages"`
}

func getTree(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	tree, err := store.GetConversationTree(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	sort.SliceStable(tree.Messages, func(i, j int) bool {
		if tree.Messages[i].Depth != tree.Messages[j].Depth {
			return tree.Messages[i].Depth < tree.Messages[j].Depth
		}
		return tree.Messages[i].CreatedAt.Before(tree.Messages[j].CreatedAt)
	})
	dtos := make([]messagesroute.MessageDTO, 0, len(tree.Messages))
	for _, msg := range tree.Messages {
		dto, err := messagesroute.ToDTO(msg)
		if err != nil {
			handleError(c, err)
			return
		}
		dtos = append(dtos, dto)
	}
	c.JSON(http.StatusOK, treeResponse{
		Conversation:  ToDTO(tree.Conversation),
		TotalMessages: len(dtos),
		Messages:      dtos,
	})
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
