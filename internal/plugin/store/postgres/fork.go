package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chirino/conversation-tree/internal/model"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ForkConversation copies the whole tree from the conversation's root.
func (s *Store) ForkConversation(ctx context.Context, sourceConversationID uuid.UUID, in registrystore.ForkInput) (*model.Conversation, error) {
	source, err := s.loadConversation(ctx, s.readDB, sourceConversationID)
	if err != nil {
		return nil, err
	}
	var root model.Message
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ? AND depth = 1", sourceConversationID).
		First(&root).Error; err != nil {
		return nil, fmt.Errorf("failed to load root message: %w", err)
	}
	return s.forkSubtree(ctx, source, root.ID, in, nil, nil)
}

// ForkBranch copies only the branch's own lineage (root through its current
// leaf) plus that leaf's descendants, excluding any sibling branch that
// diverged from an ancestor along the way. Provenance is recorded as the
// branch's current leaf.
func (s *Store) ForkBranch(ctx context.Context, sourceConversationID, branchID uuid.UUID, in registrystore.ForkInput) (*model.Conversation, error) {
	source, err := s.loadConversation(ctx, s.readDB, sourceConversationID)
	if err != nil {
		return nil, err
	}
	branch, err := s.getBranchRow(ctx, s.readDB, sourceConversationID, branchID)
	if err != nil {
		return nil, err
	}
	leaf, err := s.getMessageRow(ctx, s.readDB, sourceConversationID, branch.LeafMessageID)
	if err != nil {
		return nil, err
	}
	if len(leaf.Lineage) == 0 {
		return nil, fmt.Errorf("postgres store: branch leaf %s has empty lineage", leaf.ID)
	}
	return s.forkSubtree(ctx, source, leaf.Lineage[0], in, &branch.LeafMessageID, leaf.Lineage)
}

// ForkMessage copies only the subtree rooted at messageID: the new
// conversation's root is a copy of messageID, and messageID's ancestors are
// not carried over.
func (s *Store) ForkMessage(ctx context.Context, sourceConversationID, messageID uuid.UUID, in registrystore.ForkInput) (*model.Conversation, error) {
	source, err := s.loadConversation(ctx, s.readDB, sourceConversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getMessageRow(ctx, s.readDB, sourceConversationID, messageID); err != nil {
		return nil, err
	}
	return s.forkSubtree(ctx, source, messageID, in, &messageID, nil)
}

// forkSubtree performs a breadth-first copy of a subtree into a brand-new
// conversation, remapping identifiers and translating lineage so the new
// root becomes a one-element lineage. The new conversation header is
// written last: if anything above fails, no partially forked conversation
// is left behind for readers to observe.
//
// chainPath, when non-empty, is the root-to-leaf lineage of a single
// branch: traversal follows only that chain until it reaches the chain's
// last element (the branch's leaf), at which point it fans out to every
// descendant as usual. This is what keeps a branch fork from sweeping in
// sibling branches that diverged from a shared ancestor earlier in the
// chain. ForkConversation and ForkMessage pass no chainPath, since their
// traversal root has no siblings to exclude.
func (s *Store) forkSubtree(ctx context.Context, source *model.Conversation, rootMessageID uuid.UUID, in registrystore.ForkInput, provenanceMessageID *uuid.UUID, chainPath model.UUIDList) (*model.Conversation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = source.Title
	}

	var sourceMessages []model.Message
	if err := s.readDB.WithContext(ctx).
		Where("conversation_id = ?", source.ID).
		Find(&sourceMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to load source messages: %w", err)
	}
	byParent := make(map[uuid.UUID][]model.Message)
	byID := make(map[uuid.UUID]model.Message, len(sourceMessages))
	for _, m := range sourceMessages {
		byID[m.ID] = m
		if m.ParentMessageID != nil {
			byParent[*m.ParentMessageID] = append(byParent[*m.ParentMessageID], m)
		}
	}

	root, ok := byID[rootMessageID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: rootMessageID.String()}
	}

	var chainIndex map[uuid.UUID]int
	if len(chainPath) > 0 {
		chainIndex = make(map[uuid.UUID]int, len(chainPath))
		for i, id := range chainPath {
			chainIndex[id] = i
		}
	}

	// childrenOf restricts fan-out while walking an ancestor chain: a node
	// still on the chain (and not yet the leaf) only continues to the next
	// chain element, not every child. Once past the leaf, every descendant
	// is included.
	childrenOf := func(id uuid.UUID) []model.Message {
		kids := byParent[id]
		if chainIndex == nil {
			return kids
		}
		idx, onChain := chainIndex[id]
		if !onChain || idx == len(chainPath)-1 {
			return kids
		}
		nextID := chainPath[idx+1]
		for _, k := range kids {
			if k.ID == nextID {
				return []model.Message{k}
			}
		}
		return nil
	}

	newConvID := uuid.New()
	idMap := map[uuid.UUID]uuid.UUID{rootMessageID: uuid.New()}

	// Breadth-first so every parent's new ID is assigned before its children
	// are visited.
	queue := []model.Message{root}
	var newMessages []model.Message
	var newChildren []model.MessageChild

	maxBatch := s.maxBatch()

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(newMessages)+1 > maxBatch {
			return nil, &registrystore.BatchTooLargeError{Operation: "fork", Count: len(newMessages) + 1, Max: maxBatch}
		}

		newID := idMap[cur.ID]
		var newParentID *uuid.UUID
		var newLineage model.UUIDList
		if cur.ID == rootMessageID {
			newLineage = model.UUIDList{newID}
		} else {
			parentNewID := idMap[*cur.ParentMessageID]
			newParentID = &parentNewID
			oldLineage := cur.Lineage
			offset := indexOf(oldLineage, rootMessageID)
			translated := make(model.UUIDList, 0, len(oldLineage)-offset)
			for _, old := range oldLineage[offset:] {
				mapped, ok := idMap[old]
				if !ok {
					return nil, fmt.Errorf("postgres store: fork lineage missing mapping for %s", old)
				}
				translated = append(translated, mapped)
			}
			newLineage = translated
		}

		decoded, err := s.decryptContent(cur.ContentData)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		reencoded, err := s.encryptContent(decoded)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}

		newMessages = append(newMessages, model.Message{
			ConversationID:  newConvID,
			ID:              newID,
			ParentMessageID: newParentID,
			Role:            cur.Role,
			ContentType:     cur.ContentType,
			ContentData:     reencoded,
			ContentMetadata: cur.ContentMetadata,
			Lineage:         newLineage,
			Depth:           len(newLineage),
			CreatedBy:       in.CreatedBy,
		})
		if newParentID != nil {
			newChildren = append(newChildren, model.MessageChild{
				ConversationID:  newConvID,
				ParentMessageID: *newParentID,
				MessageID:       newID,
			})
		}

		for _, child := range childrenOf(cur.ID) {
			if _, seen := idMap[child.ID]; !seen {
				idMap[child.ID] = uuid.New()
			}
			queue = append(queue, child)
		}
	}

	// Deterministic write order within the transaction: parents before
	// children, matching breadth-first discovery order above.
	sort.SliceStable(newMessages, func(i, j int) bool { return newMessages[i].Depth < newMessages[j].Depth })

	newConv := model.Conversation{
		ID:                     newConvID,
		Title:                  title,
		Description:            source.Description,
		CreatedBy:              in.CreatedBy,
		Public:                 false,
		ForkFromConversationID: &source.ID,
		ForkFromMessageID:      provenanceMessageID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range newMessages {
			if err := tx.Create(&newMessages[i]).Error; err != nil {
				return fmt.Errorf("failed to create forked message: %w", err)
			}
		}
		for i := range newChildren {
			if err := tx.Create(&newChildren[i]).Error; err != nil {
				return fmt.Errorf("failed to create forked child index: %w", err)
			}
		}
		// Header written last: a reader cannot observe the new conversation
		// until every message it claims to contain is already committed.
		if err := tx.Create(&newConv).Error; err != nil {
			return fmt.Errorf("failed to create forked conversation header: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &newConv, nil
}

func indexOf(lineage model.UUIDList, id uuid.UUID) int {
	for i, l := range lineage {
		if l == id {
			return i
		}
	}
	return 0
}
