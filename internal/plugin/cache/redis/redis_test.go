package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-tree/internal/model"
	cacheredis "github.com/chirino/conversation-tree/internal/plugin/cache/redis"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/testutil/testredis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineageCacheSetGetInvalidate(t *testing.T) {
	redisURL := testredis.StartRedis(t)

	cache, err := cacheredis.LoadFromURLWithTTL(context.Background(), redisURL, time.Minute)
	require.NoError(t, err)
	require.True(t, cache.Available())

	conversationID := uuid.New()
	messageID := uuid.New()

	got, err := cache.Get(context.Background(), conversationID, messageID)
	require.NoError(t, err)
	assert.Nil(t, got)

	lineage := registrystore.MessageLineage{
		Message: model.Message{
			ConversationID: conversationID,
			ID:              messageID,
			Role:            model.RoleHuman,
			ContentType:     "text",
			ContentData:     `{"text":"hi"}`,
			Lineage:         model.UUIDList{messageID},
			Depth:           1,
			CreatedBy:       "tester",
		},
	}
	require.NoError(t, cache.Set(context.Background(), conversationID, messageID, lineage, 0))

	got, err = cache.Get(context.Background(), conversationID, messageID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, messageID, got.Message.ID)
	assert.Equal(t, "text", got.Message.ContentType)

	require.NoError(t, cache.Invalidate(context.Background(), conversationID, messageID))

	got, err = cache.Get(context.Background(), conversationID, messageID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
