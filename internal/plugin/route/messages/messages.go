// Package messages mounts the message-tree HTTP surface (append, children,
// lineage) and owns the wire DTO every other route package borrows to
// render a message: MessageDTO.
package messages

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the message endpoints under /api/v1.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.Store) {
	auth := security.UserIDMiddleware()
	g := r.Group("/api/v1", auth)

	g.POST("/conversations/:conversationId/messages", func(c *gin.Context) {
		appendMessage(c, store)
	})
	g.GET("/conversations/:conversationId/messages/:messageId", func(c *gin.Context) {
		getMessage(c, store)
	})
	g.GET("/conversations/:conversationId/messages/:messageId/children", func(c *gin.Context) {
		getChildren(c, store)
	})
	g.GET("/conversations/:conversationId/messages/:messageId/lineage", func(c *gin.Context) {
		getLineage(c, store)
	})
}

// MessageDTO is the wire shape of a message: content is flattened with its
// "type" discriminator via codec.Content's own MarshalJSON.
type MessageDTO struct {
	ID              uuid.UUID         `json:"id"`
	ConversationID  uuid.UUID         `json:"conversation_id"`
	ParentMessageID *uuid.UUID        `json:"parent_message_id"`
	Role            model.Role        `json:"role"`
	Content         codec.Content     `json:"content"`
	ContentMetadata map[string]string `json:"content_metadata"`
	Lineage         []uuid.UUID       `json:"lineage"`
	Depth           int               `json:"depth"`
	CreatedAt       time.Time         `json:"created_at"`
	CreatedBy       string            `json:"created_by"`
}

// ToDTO decodes a message's persisted content triple into the wire shape.
func ToDTO(msg model.Message) (MessageDTO, error) {
	content, err := codec.Decode(msg.ContentType, msg.ContentData)
	if err != nil {
		return MessageDTO{}, err
	}
	return MessageDTO{
		ID:              msg.ID,
		ConversationID:  msg.ConversationID,
		ParentMessageID: msg.ParentMessageID,
		Role:            msg.Role,
		Content:         content,
		ContentMetadata: msg.ContentMetadata,
		Lineage:         msg.Lineage,
		Depth:           msg.Depth,
		CreatedAt:       msg.CreatedAt,
		CreatedBy:       msg.CreatedBy,
	}, nil
}

type appendMessageRequest struct {
	ParentMessageID string            `json:"parent_message_id"`
	Role            model.Role        `json:"role"`
	Content         codec.Content     `json:"content"`
	ContentMetadata map[string]string `json:"content_metadata"`
	CreatedBy       string            `json:"created_by"`
	BranchID        *string           `json:"branch_id"`
}

func appendMessage(c *gin.Context, store registrystore.Store) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return
	}
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	parentID, err := uuid.Parse(req.ParentMessageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": "invalid parent_message_id"})
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = security.GetUserID(c)
	}

	var branchID *uuid.UUID
	if req.BranchID != nil && *req.BranchID != "" {
		id, err := uuid.Parse(*req.BranchID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": "invalid branch_id"})
			return
		}
		branchID = &id
	}

	msg, err := store.AppendMessage(c.Request.Context(), convID, registrystore.NewMessageInput{
		ParentMessageID: parentID,
		Role:            req.Role,
		Content:         req.Content,
		ContentMetadata: req.ContentMetadata,
		CreatedBy:       createdBy,
		BranchID:        branchID,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	dto, err := ToDTO(*msg)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func getMessage(c *gin.Context, store registrystore.Store) {
	convID, msgID, ok := parseConvMsg(c)
	if !ok {
		return
	}
	msg, err := store.GetMessage(c.Request.Context(), convID, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	dto, err := ToDTO(*msg)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func getChildren(c *gin.Context, store registrystore.Store) {
	convID, msgID, ok := parseConvMsg(c)
	if !ok {
		return
	}
	children, err := store.GetMessageChildren(c.Request.Context(), convID, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	dtos := make([]MessageDTO, 0, len(children))
	for _, child := range children {
		dto, err := ToDTO(child)
		if err != nil {
			handleError(c, err)
			return
		}
		dtos = append(dtos, dto)
	}
	c.JSON(http.StatusOK, gin.H{"data": dtos})
}

// LineageDTO is the ordered root-to-leaf path plus the leaf itself.
type LineageDTO struct {
	Message   MessageDTO   `json:"message"`
	Ancestors []MessageDTO `json:"ancestors"`
	Path      []MessageDTO `json:"path"`
}

// ToLineageDTO renders a MessageLineage as the root-first path (ancestors
// then the message itself) alongside the raw message/ancestors split.
func ToLineageDTO(lineage registrystore.MessageLineage) (LineageDTO, error) {
	ancestorDTOs := make([]MessageDTO, 0, len(lineage.Ancestors))
	for _, a := range lineage.Ancestors {
		dto, err := ToDTO(a)
		if err != nil {
			return LineageDTO{}, err
		}
		ancestorDTOs = append(ancestorDTOs, dto)
	}
	msgDTO, err := ToDTO(lineage.Message)
	if err != nil {
		return LineageDTO{}, err
	}
	path := make([]MessageDTO, 0, len(ancestorDTOs)+1)
	path = append(path, ancestorDTOs...)
	path = append(path, msgDTO)
	return LineageDTO{Message: msgDTO, Ancestors: ancestorDTOs, Path: path}, nil
}

func getLineage(c *gin.Context, store registrystore.Store) {
	convID, msgID, ok := parseConvMsg(c)
	if !ok {
		return
	}
	lineage, err := store.GetMessageLineage(c.Request.Context(), convID, msgID)
	if err != nil {
		handleError(c, err)
		return
	}
	dto, err := ToLineageDTO(*lineage)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func parseConvMsg(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	convID, err := uuid.Parse(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "conversation not found"})
		return uuid.UUID{}, uuid.UUID{}, false
	}
	msgID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "message not found"})
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return convID, msgID, true
}

// handleError maps the core error taxonomy onto HTTP status codes using an
// errors.As-based dispatch, consistent across every route package.
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
