package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateConversation allocates a fresh conversation and synthesizes its
// root message in one grouped write, per spec's append-protocol for the
// initial create: root's lineage is a one-element sequence, depth 1.
func (s *Store) CreateConversation(ctx context.Context, in registrystore.NewConversationInput) (*model.Conversation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &registrystore.ValidationError{Field: "title", Message: "title is required"}
	}

	conv := model.Conversation{
		ID:                     uuid.New(),
		Title:                  title,
		Description:            in.Description,
		CreatedBy:              in.CreatedBy,
		Public:                 in.Public,
		ForkFromConversationID: in.ForkFromConversationID,
		ForkFromMessageID:      in.ForkFromMessageID,
	}

	rootContentType, rootContentData, err := codec.Encode(codec.Content{
		Type:     codec.TypeMetadata,
		Metadata: &codec.MetadataContent{Title: title, CreatedBy: in.CreatedBy},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: encode root content: %w", err)
	}
	rootContentData, err = s.encryptContent(rootContentData)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	rootID := uuid.New()
	root := model.Message{
		ConversationID:  conv.ID,
		ID:              rootID,
		ParentMessageID: nil,
		Role:            model.RoleRoot,
		ContentType:     rootContentType,
		ContentData:     rootContentData,
		ContentMetadata: map[string]string{},
		Lineage:         model.UUIDList{rootID},
		Depth:           1,
		CreatedBy:       in.CreatedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		if err := tx.Create(&root).Error; err != nil {
			return fmt.Errorf("failed to create root message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) loadConversation(ctx context.Context, db *gorm.DB, conversationID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	if err := db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation is a single-row read, LOCAL_ONE (replica DSN if configured).
func (s *Store) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	return s.loadConversation(ctx, s.readDB, conversationID)
}

// UpdateConversation is a single-row upsert, LOCAL_QUORUM (always primary).
func (s *Store) UpdateConversation(ctx context.Context, conversationID uuid.UUID, in registrystore.UpdateConversationInput) (*model.Conversation, error) {
	conv, err := s.loadConversation(ctx, s.db, conversationID)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, &registrystore.ValidationError{Field: "title", Message: "title is required"}
		}
		conv.Title = title
	}
	if in.Description != nil {
		conv.Description = *in.Description
	}
	if in.Public != nil {
		conv.Public = *in.Public
	}
	if err := s.db.WithContext(ctx).Save(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conv, nil
}

// DeleteConversation cascades messages, then branches, then shares, then
// the header, per spec's stated ordering, in one transaction: a failed
// attempt leaves every row in place and can be retried. NotFound is
// returned up front when the conversation header is already absent.
func (s *Store) DeleteConversation(ctx context.Context, conversationID uuid.UUID) error {
	if _, err := s.loadConversation(ctx, s.db, conversationID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.MessageChild{}).Error; err != nil {
			return fmt.Errorf("failed to delete child index: %w", err)
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Branch{}).Error; err != nil {
			return fmt.Errorf("failed to delete branches: %w", err)
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Share{}).Error; err != nil {
			return fmt.Errorf("failed to delete shares: %w", err)
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.ShareByUser{}).Error; err != nil {
			return fmt.Errorf("failed to delete reverse shares: %w", err)
		}
		if err := tx.Delete(&model.Conversation{}, "id = ?", conversationID).Error; err != nil {
			return fmt.Errorf("failed to delete conversation header: %w", err)
		}
		return nil
	})
}

// GetConversationTree reads all messages in the partition, unordered; the
// caller sorts by (depth, created_at) if it needs a stable order.
func (s *Store) GetConversationTree(ctx context.Context, conversationID uuid.UUID) (*registrystore.ConversationTree, error) {
	conv, err := s.loadConversation(ctx, s.readDB, conversationID)
	if err != nil {
		return nil, err
	}
	limit := s.maxBatch()
	var messages []model.Message
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Limit(limit + 1).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversation tree: %w", err)
	}
	if len(messages) > limit {
		return nil, &registrystore.BatchTooLargeError{Operation: "get conversation tree", Count: len(messages), Max: limit}
	}
	for i := range messages {
		decoded, err := s.decryptContent(messages[i].ContentData)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		messages[i].ContentData = decoded
	}
	return &registrystore.ConversationTree{Conversation: *conv, Messages: messages}, nil
}
