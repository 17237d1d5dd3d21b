// Package shares mounts the share-ledger HTTP surface: granting, listing,
// and revoking per-user access, plus the reverse "shared with me" index.
package shares

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chirino/conversation-tree/internal/model"
	conversationsroute "github.com/chirino/conversation-tree/internal/plugin/route/conversations"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts the share endpoints under /api/v1.
func MountRoutes(r *gin.Engine, store registrystore.Store) {
	auth := security.UserIDMiddleware()
	g := r.Group("/api/v1", auth)

	g.POST("/conversations/:conversationId/share", func(c *gin.Context) {
		grantShare(c, store)
	})
	g.GET("/conversations/:conversationId/shares", func(c *gin.Context) {
		listShares(c, store)
	})
	g.DELETE("/conversations/:conversationId/shares/:uid", func(c *gin.Context) {
		revokeShare(c, store)
	})
	g.GET("/users/:uid/conversations", func(c *gin.Context) {
		listSharesForUser(c, store)
	})
}

// ShareDTO is the wire shape of a share grant.
type ShareDTO struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	SharedWith     string    `json:"shared_with"`
	Permission     string    `json:"permission"`
	SharedBy       string    `json:"shared_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type grantShareRequest struct {
	SharedWith string `json:"shared_with"`
	Permission string `json:"permission"`
	SharedBy   string `json:"shared_by"`
}

func grantShare(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	var req grantShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
		return
	}
	sharedBy := req.SharedBy
	if sharedBy == "" {
		sharedBy = security.GetUserID(c)
	}
	share, err := store.GrantShare(c.Request.Context(), convID, registrystore.GrantShareInput{
		Grantee:    req.SharedWith,
		Permission: model.SharePermission(req.Permission),
		GrantedBy:  sharedBy,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ShareDTO{
		ConversationID: share.ConversationID,
		SharedWith:     share.Grantee,
		Permission:     string(share.Permission),
		SharedBy:       share.GrantedBy,
		CreatedAt:      share.GrantedAt,
	})
}

func listShares(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	shares, err := store.ListShares(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err)
		return
	}
	dtos := make([]ShareDTO, 0, len(shares))
	for _, s := range shares {
		dtos = append(dtos, ShareDTO{
			ConversationID: s.ConversationID,
			SharedWith:     s.Grantee,
			Permission:     string(s.Permission),
			SharedBy:       s.GrantedBy,
			CreatedAt:      s.GrantedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": dtos})
}

func revokeShare(c *gin.Context, store registrystore.Store) {
	convID, ok := parseConvID(c)
	if !ok {
		return
	}
	grantee := c.Param("uid")
	if err := store.RevokeShare(c.Request.Context(), convID, grantee); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

type sharedConversationDTO struct {
	Conversation conversationsroute.ConversationDTO `json:"conversation"`
	Permission   string                             `json:"permission"`
}

func listSharesForUser(c *gin.Context, store registrystore.Store) {
	uid := c.Param("uid")
	shared, err := store.ListSharesForUser(c.Request.Context(), uid)
	if err != nil {
		handleError(c, err)
		return
	}
	dtos := make([]sharedConversationDTO, 0, len(shared))
	for _, s := range shared {
		dtos = append(dtos, sharedConversationDTO{
			Conversation: conversationsroute.ToDTO(s.Conversation),
			Permission:   string(s.Permission),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": dtos})
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
