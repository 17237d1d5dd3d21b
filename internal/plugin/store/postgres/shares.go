package postgres

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// GrantShare upserts a grant, overwriting any existing permission for the
// same (conversation, grantee) pair, plus the reverse index used by
// ListSharesForUser. The primary write stands even when the reverse-index
// write partially lags; ListSharesForUser is a convenience view, not the
// source of truth.
func (s *Store) GrantShare(ctx context.Context, conversationID uuid.UUID, in registrystore.GrantShareInput) (*model.Share, error) {
	if in.Grantee == "" {
		return nil, &registrystore.ValidationError{Field: "grantee", Message: "grantee is required"}
	}
	if !in.Permission.Valid() {
		return nil, &registrystore.ValidationError{Field: "permission", Message: "invalid permission"}
	}
	if _, err := s.loadConversation(ctx, s.db, conversationID); err != nil {
		return nil, err
	}

	share := model.Share{
		ConversationID: conversationID,
		Grantee:        in.Grantee,
		Permission:     in.Permission,
		GrantedBy:      in.GrantedBy,
	}
	reverse := model.ShareByUser{
		Grantee:        in.Grantee,
		ConversationID: conversationID,
		Permission:     in.Permission,
		GrantedBy:      in.GrantedBy,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "grantee"}},
		DoUpdates: clause.AssignmentColumns([]string{"permission", "granted_by", "granted_at"}),
	}).Create(&share).Error
	if err != nil {
		return nil, fmt.Errorf("failed to grant share: %w", err)
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "grantee"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"permission", "granted_by", "granted_at"}),
	}).Create(&reverse).Error; err != nil {
		return nil, fmt.Errorf("failed to update share reverse index: %w", err)
	}

	return &share, nil
}

// ListShares is a partition scan by conversation_id.
func (s *Store) ListShares(ctx context.Context, conversationID uuid.UUID) ([]model.Share, error) {
	var shares []model.Share
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	return shares, nil
}

// RevokeShare deletes a single grant and its reverse-index row.
func (s *Store) RevokeShare(ctx context.Context, conversationID uuid.UUID, grantee string) error {
	result := s.db.WithContext(ctx).
		Where("conversation_id = ? AND grantee = ?", conversationID, grantee).
		Delete(&model.Share{})
	if result.Error != nil {
		return fmt.Errorf("failed to revoke share: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "share", ID: grantee}
	}
	if err := s.db.WithContext(ctx).
		Where("grantee = ? AND conversation_id = ?", grantee, conversationID).
		Delete(&model.ShareByUser{}).Error; err != nil {
		return fmt.Errorf("failed to revoke share reverse index: %w", err)
	}
	return nil
}

// ListSharesForUser is a scan of the reverse index by grantee, joined
// against conversation headers.
func (s *Store) ListSharesForUser(ctx context.Context, userID string) ([]registrystore.SharedConversation, error) {
	var rows []model.ShareByUser
	if err := s.readDB.WithContext(ctx).
		Where("grantee = ?", userID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list shares for user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ConversationID
	}
	var convs []model.Conversation
	if err := s.readDB.WithContext(ctx).Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to load shared conversations: %w", err)
	}
	byID := make(map[uuid.UUID]model.Conversation, len(convs))
	for _, c := range convs {
		byID[c.ID] = c
	}

	out := make([]registrystore.SharedConversation, 0, len(rows))
	for _, r := range rows {
		conv, ok := byID[r.ConversationID]
		if !ok {
			// Conversation was deleted without clearing this reverse-index
			// row; skip rather than surface a broken reference.
			continue
		}
		out = append(out, registrystore.SharedConversation{
			Conversation: conv,
			Permission:   r.Permission,
			GrantedBy:    r.GrantedBy,
		})
	}
	return out, nil
}
