package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/chirino/conversation-tree/internal/config"
	"github.com/chirino/conversation-tree/internal/model"
	_ "github.com/chirino/conversation-tree/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/conversation-tree/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.Store, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.MaxLineageDepth = 5
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func setupTestStoreWithMaxBatch(t *testing.T, maxBatch int) (registrystore.Store, context.Context) {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.MaxLineageDepth = 5
	cfg.MaxBatchSize = maxBatch
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func textContent(s string) codec.Content {
	return codec.Content{Type: codec.TypeText, Text: &codec.TextContent{Text: s}}
}

// TestCreateConversationSynthesizesRoot checks that a fresh conversation
// has exactly one message, its own synthesized root, with depth 1.
func TestCreateConversationSynthesizesRoot(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title:     "Test Conversation",
		CreatedBy: "user1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Test Conversation", conv.Title)

	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, tree.Messages, 1)
	assert.Equal(t, 1, tree.Messages[0].Depth)
	assert.Nil(t, tree.Messages[0].ParentMessageID)
}

// TestAppendMessageExtendsLineage checks that a child's lineage is its
// parent's lineage plus itself.
func TestAppendMessageExtendsLineage(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Lineage", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	root := tree.Messages[0]

	child, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID,
		Role:            model.RoleHuman,
		Content:         textContent("hello"),
		CreatedBy:       "user1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, child.Depth)
	assert.Equal(t, model.UUIDList{root.ID, child.ID}, child.Lineage)

	lineage, err := store.GetMessageLineage(ctx, conv.ID, child.ID)
	require.NoError(t, err)
	require.Len(t, lineage.Ancestors, 1)
	assert.Equal(t, root.ID, lineage.Ancestors[0].ID)
}

// TestAppendMessageRejectsDepthExceeded checks that appends past the
// configured maximum lineage depth are rejected.
func TestAppendMessageRejectsDepthExceeded(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Deep", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	parent := tree.Messages[0]

	// cfg.MaxLineageDepth is 5; root is depth 1, so 4 more appends succeed
	// before the 5th fails.
	var lastErr error
	for i := 0; i < 10; i++ {
		msg, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
			ParentMessageID: parent.ID,
			Role:            model.RoleHuman,
			Content:         textContent("x"),
			CreatedBy:       "user1",
		})
		if err != nil {
			lastErr = err
			break
		}
		parent = *msg
	}
	require.Error(t, lastErr)
	var depthErr *registrystore.DepthExceededError
	assert.ErrorAs(t, lastErr, &depthErr)
}

// TestBranchAdvanceRejectsDivergentLeaf checks that advancing a branch from
// a sibling of its current leaf (not a descendant) fails.
func TestBranchAdvanceRejectsDivergentLeaf(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Branch", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	root := tree.Messages[0]

	a, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("a"), CreatedBy: "user1",
	})
	require.NoError(t, err)
	b, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("b"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	branch, err := store.CreateBranch(ctx, conv.ID, registrystore.NewBranchInput{
		Name: "main", LeafMessageID: a.ID, CreatedBy: "user1",
	})
	require.NoError(t, err)

	err = store.AdvanceBranch(ctx, conv.ID, branch.ID, b.ID, b.Lineage)
	var divergent *registrystore.BranchDivergentError
	assert.ErrorAs(t, err, &divergent)
}

// TestForkConversationCopiesSubtree checks that forking copies messages
// under disjoint identifiers, preserving shape but not identity.
func TestForkConversationCopiesSubtree(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Source", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	root := tree.Messages[0]

	_, err = store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("a"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	forked, err := store.ForkConversation(ctx, conv.ID, registrystore.ForkInput{
		Title: "Forked", CreatedBy: "user2",
	})
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, forked.ID)

	forkedTree, err := store.GetConversationTree(ctx, forked.ID)
	require.NoError(t, err)
	assert.Len(t, forkedTree.Messages, 2)
	for _, m := range forkedTree.Messages {
		assert.NotEqual(t, conv.ID, m.ConversationID)
	}
}

// TestForkBranchExcludesSiblingBranches checks that forking a branch copies
// only that branch's own lineage and the leaf's descendants, not a sibling
// branch that diverged from a shared ancestor.
func TestForkBranchExcludesSiblingBranches(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Branchy", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	root := tree.Messages[0]

	shared, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("shared"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	leafA, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: shared.ID, Role: model.RoleAssistant, Content: textContent("branch a"), CreatedBy: "user1",
	})
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: shared.ID, Role: model.RoleAssistant, Content: textContent("branch b"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	descendant, err := store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: leafA.ID, Role: model.RoleHuman, Content: textContent("continuing a"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	branch, err := store.CreateBranch(ctx, conv.ID, registrystore.NewBranchInput{
		Name: "a", LeafMessageID: leafA.ID, CreatedBy: "user1",
	})
	require.NoError(t, err)
	require.NoError(t, store.AdvanceBranch(ctx, conv.ID, branch.ID, descendant.ID, descendant.Lineage))

	forked, err := store.ForkBranch(ctx, conv.ID, branch.ID, registrystore.ForkInput{
		Title: "Forked A", CreatedBy: "user2",
	})
	require.NoError(t, err)

	forkedTree, err := store.GetConversationTree(ctx, forked.ID)
	require.NoError(t, err)
	// root, shared, leafA, descendant: branch b's leaf must be excluded.
	assert.Len(t, forkedTree.Messages, 4)
	for _, m := range forkedTree.Messages {
		decoded, err := codec.Decode(m.ContentType, m.ContentData)
		require.NoError(t, err)
		if decoded.Text != nil {
			assert.NotEqual(t, "branch b", decoded.Text.Text)
		}
	}
}

// TestGetConversationTreeRejectsOversizedBatch checks that a tree read past
// the configured max batch size fails rather than silently truncating.
func TestGetConversationTreeRejectsOversizedBatch(t *testing.T) {
	store, ctx := setupTestStoreWithMaxBatch(t, 2)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Big", CreatedBy: "user1",
	})
	require.NoError(t, err)
	tree, err := store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)
	root := tree.Messages[0]

	_, err = store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("x"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	// Root plus one append is exactly at the limit; still fine.
	_, err = store.GetConversationTree(ctx, conv.ID)
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, conv.ID, registrystore.NewMessageInput{
		ParentMessageID: root.ID, Role: model.RoleHuman, Content: textContent("y"), CreatedBy: "user1",
	})
	require.NoError(t, err)

	_, err = store.GetConversationTree(ctx, conv.ID)
	var tooLarge *registrystore.BatchTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

// TestGrantShareListsForUser checks the shared-conversations reverse index.
func TestGrantShareListsForUser(t *testing.T) {
	store, ctx := setupTestStore(t)

	conv, err := store.CreateConversation(ctx, registrystore.NewConversationInput{
		Title: "Shared", CreatedBy: "owner",
	})
	require.NoError(t, err)

	_, err = store.GrantShare(ctx, conv.ID, registrystore.GrantShareInput{
		Grantee: "friend", Permission: model.PermissionRead, GrantedBy: "owner",
	})
	require.NoError(t, err)

	shared, err := store.ListSharesForUser(ctx, "friend")
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, conv.ID, shared[0].Conversation.ID)
	assert.Equal(t, model.PermissionRead, shared[0].Permission)
}
