package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kiraya-in/kiraya-api/internal/dto"
	"github.com/kiraya-in/kiraya-api/internal/models"
)

type stubMessageRepo struct {
	messages []models.ChatMessage
	seenFor  string
}

func (s *stubMessageRepo) Append(_ context.Context, message *models.ChatMessage) error {
	message.ID = uint(len(s.messages) + 1)
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *message)
	return nil
}

func (s *stubMessageRepo) ListByRoom(_ context.Context, roomID string) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, 0, len(s.messages))
	for _, message := range s.messages {
		if message.RoomID == roomID {
			out = append(out, message)
		}
	}
	return out, nil
}

func (s *stubMessageRepo) FindByMessageID(_ context.Context, roomID, messageID string) (models.ChatMessage, error) {
	for _, message := range s.messages {
		if message.RoomID == roomID && message.MessageID == messageID {
			return message, nil
		}
	}
	return models.ChatMessage{}, gorm.ErrRecordNotFound
}

func (s *stubMessageRepo) Delete(_ context.Context, roomID, messageID string) error {
	kept := s.messages[:0]
	for _, message := range s.messages {
		if message.RoomID == roomID && message.MessageID == messageID {
			continue
		}
		kept = append(kept, message)
	}
	s.messages = kept
	return nil
}

func (s *stubMessageRepo) LatestByRoom(_ context.Context, roomID string) (models.ChatMessage, error) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].RoomID == roomID {
			return s.messages[i], nil
		}
	}
	return models.ChatMessage{}, gorm.ErrRecordNotFound
}

func (s *stubMessageRepo) MarkSeen(_ context.Context, _ string, readerID string) error {
	s.seenFor = readerID
	return nil
}

func testRoom() models.ChatRoom {
	return models.ChatRoom{
		ID:         "room-1",
		ListingID:  "listing-1",
		OwnerID:    "owner-1",
		InquirerID: "inquirer-1",
		Status:     models.RoomStatusActive,
	}
}

func newTestMessageStore() (MessageStore, *stubMessageRepo, *stubRoomRepo) {
	messages := &stubMessageRepo{}
	rooms := newStubRoomRepo()
	rooms.rooms["room-1"] = testRoom()
	return NewMessageStore(messages, rooms, zerolog.Nop()), messages, rooms
}

func TestAppendFreetextUpdatesRoomSnapshot(t *testing.T) {
	store, messages, rooms := newTestMessageStore()

	message, updated, err := store.Append(context.Background(), testRoom(), "inquirer-1", dto.SendPayload{
		RoomID: "room-1",
		Kind:   "freetext",
		Body:   "  Is the flat still available?  ",
	})
	require.NoError(t, err)
	require.NotEmpty(t, message.MessageID)
	require.Equal(t, models.RoleInquirer, message.SenderRole)
	require.Equal(t, "Is the flat still available?", message.Body)
	require.Equal(t, models.MessageStatusSent, message.Status)
	require.Len(t, messages.messages, 1)

	require.Equal(t, "Is the flat still available?", updated.LastMessage)
	require.Equal(t, "inquirer-1", updated.LastMessageSender)
	require.True(t, updated.HasMessages)
	require.True(t, updated.HasRead("inquirer-1"), "sender has read their own message")
	require.False(t, updated.HasRead("owner-1"))

	persisted := rooms.rooms["room-1"]
	require.Equal(t, "Is the flat still available?", persisted.LastMessage)
}

func TestAppendOptionAdvancesConversationState(t *testing.T) {
	store, _, rooms := newTestMessageStore()

	message, updated, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID:      "room-1",
		Kind:        "option",
		OptionID:    "opt_rent",
		OptionLabel: "₹15000 per month",
		NextState:   "RENT_QUOTED",
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleOwner, message.SenderRole)
	require.Equal(t, "RENT_QUOTED", updated.CurrentState)
	require.Equal(t, "₹15000 per month", updated.LastMessage, "option messages preview as their label")
	require.Equal(t, "RENT_QUOTED", rooms.rooms["room-1"].CurrentState)
}

func TestAppendRejectsIncompleteOption(t *testing.T) {
	store, _, _ := newTestMessageStore()

	for _, payload := range []dto.SendPayload{
		{RoomID: "room-1", Kind: "option", OptionLabel: "label", NextState: "S"},
		{RoomID: "room-1", Kind: "option", OptionID: "opt", NextState: "S"},
		{RoomID: "room-1", Kind: "option", OptionID: "opt", OptionLabel: "label", NextState: "   "},
	} {
		_, _, err := store.Append(context.Background(), testRoom(), "owner-1", payload)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestAppendRejectsBlankAndOversizedFreetext(t *testing.T) {
	store, _, _ := newTestMessageStore()

	_, _, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: "   \t  ",
	})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: strings.Repeat("a", 501),
	})
	require.ErrorIs(t, err, ErrValidation)

	// 500 characters exactly is fine; the limit counts runes, not bytes.
	_, _, err = store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: strings.Repeat("₹", 500),
	})
	require.NoError(t, err)
}

func TestAppendSanitizesMarkup(t *testing.T) {
	store, _, _ := newTestMessageStore()

	message, _, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: `<script>alert("hi")</script>Visit at 5pm`,
	})
	require.NoError(t, err)
	require.Equal(t, "Visit at 5pm", message.Body)
}

func TestAppendRejectsNonParticipants(t *testing.T) {
	store, _, _ := newTestMessageStore()

	_, _, err := store.Append(context.Background(), testRoom(), "stranger", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: "hello",
	})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteOwnRequiresAuthorship(t *testing.T) {
	store, _, _ := newTestMessageStore()

	message, _, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: "typo",
	})
	require.NoError(t, err)

	_, err = store.DeleteOwn(context.Background(), "room-1", message.MessageID, "inquirer-1")
	require.ErrorIs(t, err, ErrNotMessageSender)

	_, err = store.DeleteOwn(context.Background(), "room-1", "missing", "owner-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOwnRecomputesLastMessage(t *testing.T) {
	store, _, rooms := newTestMessageStore()

	first, _, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: "first",
	})
	require.NoError(t, err)
	second, _, err := store.Append(context.Background(), testRoom(), "inquirer-1", dto.SendPayload{
		RoomID: "room-1", Kind: "freetext", Body: "second",
	})
	require.NoError(t, err)

	tail, err := store.DeleteOwn(context.Background(), "room-1", second.MessageID, "inquirer-1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	require.Equal(t, first.MessageID, tail.MessageID)
	require.Equal(t, "first", rooms.rooms["room-1"].LastMessage)

	tail, err = store.DeleteOwn(context.Background(), "room-1", first.MessageID, "owner-1")
	require.NoError(t, err)
	require.Nil(t, tail, "an empty log has no last message")
	require.Empty(t, rooms.rooms["room-1"].LastMessage)
}

func TestHistoryReturnsLogAndState(t *testing.T) {
	store, _, rooms := newTestMessageStore()
	room := rooms.rooms["room-1"]
	room.CurrentState = "VISIT_SCHEDULED"
	rooms.rooms["room-1"] = room

	for _, body := range []string{"one", "two", "three"} {
		_, _, err := store.Append(context.Background(), testRoom(), "owner-1", dto.SendPayload{
			RoomID: "room-1", Kind: "freetext", Body: body,
		})
		require.NoError(t, err)
	}

	messages, state, err := store.History(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "one", messages[0].Body)
	require.Equal(t, "three", messages[2].Body)
	require.Equal(t, "VISIT_SCHEDULED", state)
}
