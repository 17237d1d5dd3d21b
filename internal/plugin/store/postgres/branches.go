package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateBranch stores a branch row pointed at an existing message.
func (s *Store) CreateBranch(ctx context.Context, conversationID uuid.UUID, in registrystore.NewBranchInput) (*model.Branch, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &registrystore.ValidationError{Field: "name", Message: "branch name is required"}
	}
	if _, err := s.getMessageRow(ctx, s.db, conversationID, in.LeafMessageID); err != nil {
		return nil, err
	}

	branch := model.Branch{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Name:           name,
		LeafMessageID:  in.LeafMessageID,
		IsActive:       true,
		CreatedBy:      in.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(&branch).Error; err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}
	return &branch, nil
}

func (s *Store) getBranchRow(ctx context.Context, db *gorm.DB, conversationID, branchID uuid.UUID) (*model.Branch, error) {
	var branch model.Branch
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND id = ?", conversationID, branchID).
		First(&branch).Error
	if err == gorm.ErrRecordNotFound {
		return nil, &registrystore.NotFoundError{Resource: "branch", ID: branchID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch: %w", err)
	}
	return &branch, nil
}

// GetBranch is a single-row read.
func (s *Store) GetBranch(ctx context.Context, conversationID, branchID uuid.UUID) (*model.Branch, error) {
	return s.getBranchRow(ctx, s.readDB, conversationID, branchID)
}

// ListBranches is a partition scan by conversation_id, filtered to active.
func (s *Store) ListBranches(ctx context.Context, conversationID uuid.UUID) ([]model.Branch, error) {
	var branches []model.Branch
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}

// UpdateBranch is the explicit relocation path: no monotonicity
// requirement, unlike AdvanceBranch.
func (s *Store) UpdateBranch(ctx context.Context, conversationID, branchID uuid.UUID, in registrystore.UpdateBranchInput) (*model.Branch, error) {
	branch, err := s.getBranchRow(ctx, s.db, conversationID, branchID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, &registrystore.ValidationError{Field: "name", Message: "branch name is required"}
		}
		branch.Name = name
	}
	if in.LeafMessageID != nil {
		if _, err := s.getMessageRow(ctx, s.db, conversationID, *in.LeafMessageID); err != nil {
			return nil, err
		}
		branch.LeafMessageID = *in.LeafMessageID
	}
	if err := s.db.WithContext(ctx).Save(branch).Error; err != nil {
		return nil, fmt.Errorf("failed to update branch: %w", err)
	}
	return branch, nil
}

// DeleteBranch marks the branch inactive rather than removing the row.
func (s *Store) DeleteBranch(ctx context.Context, conversationID, branchID uuid.UUID) error {
	branch, err := s.getBranchRow(ctx, s.db, conversationID, branchID)
	if err != nil {
		return err
	}
	branch.IsActive = false
	if err := s.db.WithContext(ctx).Save(branch).Error; err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return nil
}

// AdvanceBranch moves the branch leaf forward via compare-and-set: the leaf
// only moves when newLeafLineage contains the branch's current leaf. No
// locking; the CAS itself is the concurrency control.
func (s *Store) AdvanceBranch(ctx context.Context, conversationID, branchID uuid.UUID, newLeafID uuid.UUID, newLeafLineage model.UUIDList) error {
	branch, err := s.getBranchRow(ctx, s.db, conversationID, branchID)
	if err != nil {
		return err
	}

	if !containsID(newLeafLineage, branch.LeafMessageID) {
		return &registrystore.BranchDivergentError{
			BranchID:      branchID.String(),
			CurrentLeafID: branch.LeafMessageID.String(),
		}
	}

	result := s.db.WithContext(ctx).Model(&model.Branch{}).
		Where("conversation_id = ? AND id = ? AND leaf_message_id = ?", conversationID, branchID, branch.LeafMessageID).
		Updates(map[string]interface{}{"leaf_message_id": newLeafID})
	if result.Error != nil {
		return fmt.Errorf("failed to advance branch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Another advancement raced us between the read above and this CAS.
		return &registrystore.BranchDivergentError{
			BranchID:      branchID.String(),
			CurrentLeafID: branch.LeafMessageID.String(),
		}
	}
	if cache := s.lineage; cache != nil && cache.Available() {
		_ = cache.Invalidate(ctx, conversationID, branch.LeafMessageID)
	}
	return nil
}

func containsID(lineage model.UUIDList, id uuid.UUID) bool {
	for _, l := range lineage {
		if l == id {
			return true
		}
	}
	return false
}

// GetBranchMessages returns the ordered lineage of the branch's leaf: a
// branch is a leaf pointer, so its canonical path is the path from root to
// that leaf.
func (s *Store) GetBranchMessages(ctx context.Context, conversationID, branchID uuid.UUID) (*registrystore.MessageLineage, error) {
	branch, err := s.getBranchRow(ctx, s.readDB, conversationID, branchID)
	if err != nil {
		return nil, err
	}
	return s.GetMessageLineage(ctx, conversationID, branch.LeafMessageID)
}
