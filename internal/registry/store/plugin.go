// Package store declares the store-adapter contract and the typed DTOs the
// upper layers exchange with it. Concrete backends (only Postgres in this
// tree) register themselves from an init() function, the same
// plugin-selection pattern used for cache and route backends.
package store

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/chirino/conversation-tree/internal/model"
	"github.com/google/uuid"
)

// NewConversationInput is the input to CreateConversation.
type NewConversationInput struct {
	Title                  string
	Description            string
	CreatedBy              string
	Public                 bool
	ForkFromConversationID *uuid.UUID
	ForkFromMessageID      *uuid.UUID
}

// UpdateConversationInput carries the mutable conversation header fields;
// nil fields are left unchanged.
type UpdateConversationInput struct {
	Title       *string
	Description *string
	Public      *bool
}

// ConversationTree is the unordered set of messages in a conversation,
// as returned by GetConversationTree; callers sort by (depth, created_at)
// if they need a stable order.
type ConversationTree struct {
	Conversation model.Conversation
	Messages     []model.Message
}

// NewMessageInput is the input to AppendMessage.
type NewMessageInput struct {
	ParentMessageID uuid.UUID
	Role            model.Role
	Content         codec.Content
	ContentMetadata map[string]string
	CreatedBy       string
	// BranchID, if set, is advanced to the new message after the append
	// succeeds (see Store.AdvanceBranch).
	BranchID *uuid.UUID
}

// MessageLineage is a message plus its materialized ancestor chain,
// root first.
type MessageLineage struct {
	Message   model.Message
	Ancestors []model.Message
}

// NewBranchInput is the input to CreateBranch.
type NewBranchInput struct {
	Name          string
	LeafMessageID uuid.UUID
	CreatedBy     string
}

// UpdateBranchInput carries the mutable branch fields for the explicit
// relocation path (no monotonicity check); nil fields are left unchanged.
type UpdateBranchInput struct {
	Name          *string
	LeafMessageID *uuid.UUID
}

// ForkInput is the input shared by all three fork entry points.
type ForkInput struct {
	Title     string
	CreatedBy string
}

// GrantShareInput is the input to GrantShare.
type GrantShareInput struct {
	Grantee    string
	Permission model.SharePermission
	GrantedBy  string
}

// SharedConversation is a row of Store.ListSharesForUser: enough of the
// conversation header plus the permission to render a "shared with me" list.
type SharedConversation struct {
	Conversation model.Conversation
	Permission   model.SharePermission
	GrantedBy    string
}

// Store is the typed gateway the upper layers use in place of a raw
// wide-column driver: single-row upserts, single-partition range reads, and
// grouped writes scoped to one conversation partition. All operations
// honor ctx cancellation at every store call.
type Store interface {
	// Conversation repository
	CreateConversation(ctx context.Context, in NewConversationInput) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, conversationID uuid.UUID, in UpdateConversationInput) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID uuid.UUID) error
	GetConversationTree(ctx context.Context, conversationID uuid.UUID) (*ConversationTree, error)

	AppendMessage(ctx context.Context, conversationID uuid.UUID, in NewMessageInput) (*model.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*model.Message, error)
	GetMessageChildren(ctx context.Context, conversationID, messageID uuid.UUID) ([]model.Message, error)
	GetMessageLineage(ctx context.Context, conversationID, messageID uuid.UUID) (*MessageLineage, error)

	// Branch manager
	CreateBranch(ctx context.Context, conversationID uuid.UUID, in NewBranchInput) (*model.Branch, error)
	GetBranch(ctx context.Context, conversationID, branchID uuid.UUID) (*model.Branch, error)
	ListBranches(ctx context.Context, conversationID uuid.UUID) ([]model.Branch, error)
	UpdateBranch(ctx context.Context, conversationID, branchID uuid.UUID, in UpdateBranchInput) (*model.Branch, error)
	DeleteBranch(ctx context.Context, conversationID, branchID uuid.UUID) error
	// AdvanceBranch only moves the leaf forward when newLeafLineage
	// contains the branch's current leaf. Returns *BranchDivergentError
	// otherwise and leaves the branch untouched.
	AdvanceBranch(ctx context.Context, conversationID, branchID uuid.UUID, newLeafID uuid.UUID, newLeafLineage model.UUIDList) error
	GetBranchMessages(ctx context.Context, conversationID, branchID uuid.UUID) (*MessageLineage, error)

	// Fork engine
	ForkConversation(ctx context.Context, sourceConversationID uuid.UUID, in ForkInput) (*model.Conversation, error)
	ForkBranch(ctx context.Context, sourceConversationID, branchID uuid.UUID, in ForkInput) (*model.Conversation, error)
	ForkMessage(ctx context.Context, sourceConversationID, messageID uuid.UUID, in ForkInput) (*model.Conversation, error)

	// Share ledger
	GrantShare(ctx context.Context, conversationID uuid.UUID, in GrantShareInput) (*model.Share, error)
	ListShares(ctx context.Context, conversationID uuid.UUID) ([]model.Share, error)
	RevokeShare(ctx context.Context, conversationID uuid.UUID, grantee string) error
	ListSharesForUser(ctx context.Context, userID string) ([]SharedConversation, error)
}

// Loader creates a Store from the ambient config.WithContext snapshot.
type Loader func(ctx context.Context) (Store, error)

// Plugin names a registered store backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from backend init() functions.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
