package postgres

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppendMessage is the core append protocol: load parent, derive lineage,
// encode content, grouped write of the message row and its child-index
// entry, then (if requested) advance the branch leaf as a separate write.
// Two simultaneous appends under the same parent both succeed; there is no
// lock.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, in registrystore.NewMessageInput) (*model.Message, error) {
	parent, err := s.getMessageRow(ctx, s.db, conversationID, in.ParentMessageID)
	if err != nil {
		return nil, err
	}

	newID := uuid.New()
	newLineage := make(model.UUIDList, 0, len(parent.Lineage)+1)
	newLineage = append(newLineage, parent.Lineage...)
	newLineage = append(newLineage, newID)

	if len(newLineage) > s.maxDepth() {
		return nil, &registrystore.DepthExceededError{
			ConversationID: conversationID.String(),
			Depth:          len(newLineage),
			Max:            s.maxDepth(),
		}
	}

	contentType, contentData, err := codec.Encode(in.Content)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: "content", Message: err.Error()}
	}
	contentData, err = s.encryptContent(contentData)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	metadata := in.ContentMetadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	msg := model.Message{
		ConversationID:  conversationID,
		ID:              newID,
		ParentMessageID: &parent.ID,
		Role:            in.Role,
		ContentType:     contentType,
		ContentData:     contentData,
		ContentMetadata: metadata,
		Lineage:         newLineage,
		Depth:           len(newLineage),
		CreatedBy:       in.CreatedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		child := model.MessageChild{ConversationID: conversationID, ParentMessageID: parent.ID, MessageID: newID}
		if err := tx.Create(&child).Error; err != nil {
			return fmt.Errorf("failed to create child index row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Branch advancement is a subsequent, separate write: readers may
	// observe the new message before the branch leaf pointer moves.
	if in.BranchID != nil {
		if err := s.AdvanceBranch(ctx, conversationID, *in.BranchID, newID, newLineage); err != nil {
			return nil, err
		}
	}

	msg.ContentData, err = s.decryptContent(msg.ContentData)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &msg, nil
}

func (s *Store) getMessageRow(ctx context.Context, db *gorm.DB, conversationID, messageID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND id = ?", conversationID, messageID).
		First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return &msg, nil
}

// GetMessage is a point read by (conversation_id, message_id).
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*model.Message, error) {
	msg, err := s.getMessageRow(ctx, s.readDB, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	msg.ContentData, err = s.decryptContent(msg.ContentData)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return msg, nil
}

// GetMessageChildren is a range read of the child-index partition slice,
// then point reads of each child.
func (s *Store) GetMessageChildren(ctx context.Context, conversationID, messageID uuid.UUID) ([]model.Message, error) {
	if _, err := s.getMessageRow(ctx, s.readDB, conversationID, messageID); err != nil {
		return nil, err
	}
	var childIDs []uuid.UUID
	if err := s.readDB.WithContext(ctx).
		Model(&model.MessageChild{}).
		Where("conversation_id = ? AND parent_message_id = ?", conversationID, messageID).
		Pluck("message_id", &childIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load child index: %w", err)
	}
	if len(childIDs) == 0 {
		return nil, nil
	}
	var children []model.Message
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ? AND id IN ?", conversationID, childIDs).
		Find(&children).Error; err != nil {
		return nil, fmt.Errorf("failed to load children: %w", err)
	}
	for i := range children {
		decoded, err := s.decryptContent(children[i].ContentData)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		children[i].ContentData = decoded
	}
	return children, nil
}

// GetMessageLineage is an O(1) point read: the lineage array is already
// materialized on the message row, so reconstructing the ancestor chain is
// one batched read of N keys rather than `depth` round-trips.
func (s *Store) GetMessageLineage(ctx context.Context, conversationID, messageID uuid.UUID) (*registrystore.MessageLineage, error) {
	if cache := s.lineage; cache != nil && cache.Available() {
		if cached, err := cache.Get(ctx, conversationID, messageID); err == nil && cached != nil {
			return cached, nil
		}
	}

	msg, err := s.getMessageRow(ctx, s.readDB, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	msg.ContentData, err = s.decryptContent(msg.ContentData)
	if err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	result, err := s.loadLineage(ctx, conversationID, *msg)
	if err != nil {
		return nil, err
	}
	if cache := s.lineage; cache != nil && cache.Available() {
		_ = cache.Set(ctx, conversationID, messageID, *result, 0)
	}
	return result, nil
}

// loadLineage batch-reads every ancestor in msg.Lineage (one partition
// access) and orders them root-first.
func (s *Store) loadLineage(ctx context.Context, conversationID uuid.UUID, msg model.Message) (*registrystore.MessageLineage, error) {
	if len(msg.Lineage) <= 1 {
		return &registrystore.MessageLineage{Message: msg, Ancestors: nil}, nil
	}
	ancestorIDs := msg.Lineage[:len(msg.Lineage)-1]

	var rows []model.Message
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ? AND id IN ?", conversationID, []uuid.UUID(ancestorIDs)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load lineage ancestors: %w", err)
	}
	byID := make(map[uuid.UUID]model.Message, len(rows))
	for _, r := range rows {
		decoded, err := s.decryptContent(r.ContentData)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		r.ContentData = decoded
		byID[r.ID] = r
	}

	ancestors := make([]model.Message, 0, len(ancestorIDs))
	for _, id := range ancestorIDs {
		row, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("postgres store: lineage ancestor %s missing", id)
		}
		ancestors = append(ancestors, row)
	}
	return &registrystore.MessageLineage{Message: msg, Ancestors: ancestors}, nil
}
