package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// Writes landing in the same millisecond must still read back in reverse
// write order. Listing is newest-first with insertion order as the
// tie-break.
func TestGetMemoriesTieOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	roomID := uuid.New()

	for _, text := range []string{"first", "second", "third"} {
		_, err := s.CreateMemory(ctx, &models.Memory{
			EntityID:  uuid.New(),
			RoomID:    roomID,
			Content:   models.Content{Text: text},
			CreatedAt: 1000,
		}, models.TableMessages, false)
		require.NoError(t, err)
	}

	list, err := s.GetMemories(ctx, store.MemoryQuery{TableName: models.TableMessages, RoomID: roomID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Content.Text)
	assert.Equal(t, "second", list[1].Content.Text)
	assert.Equal(t, "first", list[2].Content.Text)

	// A count limit keeps the newest writes, not the oldest.
	limited, err := s.GetMemories(ctx, store.MemoryQuery{TableName: models.TableMessages, RoomID: roomID, Count: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "third", limited[0].Content.Text)
	assert.Equal(t, "second", limited[1].Content.Text)

	byRoom, err := s.GetMemoriesByRoomIDs(ctx, models.TableMessages, []uuid.UUID{roomID}, 2)
	require.NoError(t, err)
	require.Len(t, byRoom, 2)
	assert.Equal(t, "third", byRoom[0].Content.Text)
}

// Distinct timestamps still dominate the ordering; insertion order only
// decides ties.
func TestGetMemoriesNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	roomID := uuid.New()

	seed := func(text string, createdAt int64) {
		_, err := s.CreateMemory(ctx, &models.Memory{
			EntityID:  uuid.New(),
			RoomID:    roomID,
			Content:   models.Content{Text: text},
			CreatedAt: createdAt,
		}, models.TableMessages, false)
		require.NoError(t, err)
	}
	seed("newest", 3000)
	seed("oldest", 1000)
	seed("middle", 2000)

	list, err := s.GetMemories(ctx, store.MemoryQuery{TableName: models.TableMessages, RoomID: roomID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "newest", list[0].Content.Text)
	assert.Equal(t, "middle", list[1].Content.Text)
	assert.Equal(t, "oldest", list[2].Content.Text)
}
