package conversations_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/conversation-tree/internal/config"
	"github.com/chirino/conversation-tree/internal/plugin/route/branches"
	"github.com/chirino/conversation-tree/internal/plugin/route/conversations"
	"github.com/chirino/conversation-tree/internal/plugin/route/messages"
	_ "github.com/chirino/conversation-tree/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/conversation-tree/internal/registry/migrate"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/testutil/testpg"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()

	dbURL := testpg.StartPostgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	conversations.MountRoutes(router, store)
	messages.MountRoutes(router, store)
	branches.MountRoutes(router, store)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestCreateConversationHasOneSyntheticRootMessage checks that creating a
// conversation yields a tree with exactly one synthesized root message.
func TestCreateConversationHasOneSyntheticRootMessage(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", map[string]any{
		"title": "My Chat",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var conv conversations.ConversationDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.NotEmpty(t, conv.ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+conv.ID.String()+"/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tree struct {
		TotalMessages int                `json:"total_messages"`
		Messages      []messages.MessageDTO `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.Equal(t, 1, tree.TotalMessages)
	require.Equal(t, 1, tree.Messages[0].Depth)
}

// TestBranchTracksAdvancingLeaf checks that creating a branch at a leaf,
// then advancing it by appending, shows the new leaf.
func TestBranchTracksAdvancingLeaf(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", map[string]any{"title": "Branching"})
	require.Equal(t, http.StatusOK, w.Code)
	var conv conversations.ConversationDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+conv.ID.String()+"/tree", nil)
	var tree struct {
		Messages []messages.MessageDTO `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	root := tree.Messages[0]

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", map[string]any{
		"parent_message_id": root.ID.String(),
		"role":              "human",
		"content":           map[string]any{"type": "text", "text": "hi"},
		"created_by":        "tester",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var s messages.MessageDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/branches", map[string]any{
		"branch_name": "b",
		"leaf":        s.ID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var b branches.BranchDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	require.Equal(t, s.ID, b.LeafMessageID)

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID.String()+"/messages", map[string]any{
		"parent_message_id": s.ID.String(),
		"role":              "assistant",
		"content":           map[string]any{"type": "text", "text": "reply"},
		"created_by":        "tester",
		"branch_id":         b.ID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var f messages.MessageDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+conv.ID.String()+"/branches/"+b.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got branches.BranchDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, f.ID, got.LeafMessageID)
}
