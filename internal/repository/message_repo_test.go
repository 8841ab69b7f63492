package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/models"
)

func TestMessageRepositoryListPreservesAppendOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		message := newFreetext("room-1", "owner-1", fmt.Sprintf("message %d", i))
		require.NoError(t, repo.Append(ctx, &message))
	}

	messages, err := repo.ListByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, message := range messages {
		require.Equal(t, fmt.Sprintf("message %d", i), message.Body)
	}
}

func TestMessageRepositoryDeleteAndLatest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	first := newFreetext("room-1", "owner-1", "first")
	second := newFreetext("room-1", "inquirer-1", "second")
	require.NoError(t, repo.Append(ctx, &first))
	require.NoError(t, repo.Append(ctx, &second))

	latest, err := repo.LatestByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, second.MessageID, latest.MessageID)

	require.NoError(t, repo.Delete(ctx, "room-1", second.MessageID))

	latest, err = repo.LatestByRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Equal(t, first.MessageID, latest.MessageID)

	require.NoError(t, repo.Delete(ctx, "room-1", first.MessageID))
	_, err = repo.LatestByRoom(ctx, "room-1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMessageRepositoryFindScopedToRoom(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	message := newFreetext("room-1", "owner-1", "hello")
	require.NoError(t, repo.Append(ctx, &message))

	_, err := repo.FindByMessageID(ctx, "room-2", message.MessageID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	found, err := repo.FindByMessageID(ctx, "room-1", message.MessageID)
	require.NoError(t, err)
	require.Equal(t, "hello", found.Body)
}

func TestMessageRepositoryMarkSeenSkipsOwnMessages(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	mine := newFreetext("room-1", "owner-1", "mine")
	theirs := newFreetext("room-1", "inquirer-1", "theirs")
	require.NoError(t, repo.Append(ctx, &mine))
	require.NoError(t, repo.Append(ctx, &theirs))

	require.NoError(t, repo.MarkSeen(ctx, "room-1", "owner-1"))

	messages, err := repo.ListByRoom(ctx, "room-1")
	require.NoError(t, err)
	for _, message := range messages {
		if message.SenderID == "owner-1" {
			require.Equal(t, models.MessageStatusSent, message.Status)
		} else {
			require.Equal(t, models.MessageStatusSeen, message.Status)
		}
	}
}

func newFreetext(roomID, senderID, body string) models.ChatMessage {
	role := models.RoleOwner
	if senderID != "owner-1" {
		role = models.RoleInquirer
	}
	return models.ChatMessage{
		MessageID:  uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderRole: role,
		Kind:       models.MessageKindFreetext,
		Body:       body,
		Status:     models.MessageStatusSent,
	}
}
