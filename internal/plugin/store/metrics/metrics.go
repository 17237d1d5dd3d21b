// Package metrics wraps a registrystore.Store to observe per-operation
// latency with a decorator that implements the same interface it wraps.
package metrics

import (
	"context"
	"time"

	"github.com/chirino/conversation-tree/internal/model"
	"github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a Store that records security.StoreLatency for every operation.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateConversation(ctx context.Context, in store.NewConversationInput) (*model.Conversation, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, in)
}

func (m *metricsStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, conversationID)
}

func (m *metricsStore) UpdateConversation(ctx context.Context, conversationID uuid.UUID, in store.UpdateConversationInput) (*model.Conversation, error) {
	defer observe("update_conversation", time.Now())
	return m.inner.UpdateConversation(ctx, conversationID, in)
}

func (m *metricsStore) DeleteConversation(ctx context.Context, conversationID uuid.UUID) error {
	defer observe("delete_conversation", time.Now())
	return m.inner.DeleteConversation(ctx, conversationID)
}

func (m *metricsStore) GetConversationTree(ctx context.Context, conversationID uuid.UUID) (*store.ConversationTree, error) {
	defer observe("get_conversation_tree", time.Now())
	return m.inner.GetConversationTree(ctx, conversationID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, in store.NewMessageInput) (*model.Message, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, conversationID, in)
}

func (m *metricsStore) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, conversationID, messageID)
}

func (m *metricsStore) GetMessageChildren(ctx context.Context, conversationID, messageID uuid.UUID) ([]model.Message, error) {
	defer observe("get_message_children", time.Now())
	return m.inner.GetMessageChildren(ctx, conversationID, messageID)
}

func (m *metricsStore) GetMessageLineage(ctx context.Context, conversationID, messageID uuid.UUID) (*store.MessageLineage, error) {
	defer observe("get_message_lineage", time.Now())
	return m.inner.GetMessageLineage(ctx, conversationID, messageID)
}

func (m *metricsStore) CreateBranch(ctx context.Context, conversationID uuid.UUID, in store.NewBranchInput) (*model.Branch, error) {
	defer observe("create_branch", time.Now())
	return m.inner.CreateBranch(ctx, conversationID, in)
}

func (m *metricsStore) GetBranch(ctx context.Context, conversationID, branchID uuid.UUID) (*model.Branch, error) {
	defer observe("get_branch", time.Now())
	return m.inner.GetBranch(ctx, conversationID, branchID)
}

func (m *metricsStore) ListBranches(ctx context.Context, conversationID uuid.UUID) ([]model.Branch, error) {
	defer observe("list_branches", time.Now())
	return m.inner.ListBranches(ctx, conversationID)
}

func (m *metricsStore) UpdateBranch(ctx context.Context, conversationID, branchID uuid.UUID, in store.UpdateBranchInput) (*model.Branch, error) {
	defer observe("update_branch", time.Now())
	return m.inner.UpdateBranch(ctx, conversationID, branchID, in)
}

func (m *metricsStore) DeleteBranch(ctx context.Context, conversationID, branchID uuid.UUID) error {
	defer observe("delete_branch", time.Now())
	return m.inner.DeleteBranch(ctx, conversationID, branchID)
}

func (m *metricsStore) AdvanceBranch(ctx context.Context, conversationID, branchID uuid.UUID, newLeafID uuid.UUID, newLeafLineage model.UUIDList) error {
	defer observe("advance_branch", time.Now())
	return m.inner.AdvanceBranch(ctx, conversationID, branchID, newLeafID, newLeafLineage)
}

func (m *metricsStore) GetBranchMessages(ctx context.Context, conversationID, branchID uuid.UUID) (*store.MessageLineage, error) {
	defer observe("get_branch_messages", time.Now())
	return m.inner.GetBranchMessages(ctx, conversationID, branchID)
}

func (m *metricsStore) ForkConversation(ctx context.Context, sourceConversationID uuid.UUID, in store.ForkInput) (*model.Conversation, error) {
	defer observe("fork_conversation", time.Now())
	return m.inner.ForkConversation(ctx, sourceConversationID, in)
}

func (m *metricsStore) ForkBranch(ctx context.Context, sourceConversationID, branchID uuid.UUID, in store.ForkInput) (*model.Conversation, error) {
	defer observe("fork_branch", time.Now())
	return m.inner.ForkBranch(ctx, sourceConversationID, branchID, in)
}

func (m *metricsStore) ForkMessage(ctx context.Context, sourceConversationID, messageID uuid.UUID, in store.ForkInput) (*model.Conversation, error) {
	defer observe("fork_message", time.Now())
	return m.inner.ForkMessage(ctx, sourceConversationID, messageID, in)
}

func (m *metricsStore) GrantShare(ctx context.Context, conversationID uuid.UUID, in store.GrantShareInput) (*model.Share, error) {
	defer observe("grant_share", time.Now())
	return m.inner.GrantShare(ctx, conversationID, in)
}

func (m *metricsStore) ListShares(ctx context.Context, conversationID uuid.UUID) ([]model.Share, error) {
	defer observe("list_shares", time.Now())
	return m.inner.ListShares(ctx, conversationID)
}

func (m *metricsStore) RevokeShare(ctx context.Context, conversationID uuid.UUID, grantee string) error {
	defer observe("revoke_share", time.Now())
	return m.inner.RevokeShare(ctx, conversationID, grantee)
}

func (m *metricsStore) ListSharesForUser(ctx context.Context, userID string) ([]store.SharedConversation, error) {
	defer observe("list_shares_for_user", time.Now())
	return m.inner.ListSharesForUser(ctx, userID)
}

var _ store.Store = (*metricsStore)(nil)
