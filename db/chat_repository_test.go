package db_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/skillsync/db"
	"github.com/techagentng/skillsync/db/dbtest"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
)

func newChatRepo(t *testing.T) (db.ChatRepository, *db.GormDB) {
	g := dbtest.New(t)
	return db.NewChatRepo(g), g
}

func text(content string) models.MessageDraft {
	return models.MessageDraft{Kind: models.MessageKindText, Content: content}
}

func TestFindOrCreateConversationConcurrentCallsConverge(t *testing.T) {
	repo, g := newChatRepo(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errors := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			conversation, err := repo.FindOrCreateConversation(ctx, a, b)
			errors[i] = err
			if err == nil {
				ids[i] = conversation.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errors[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, g.DB.Model(&models.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	conversation, err := repo.FindOrCreateConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, ids[0], conversation.ID)
	assert.Equal(t, []string{"u1", "u2"}, conversation.Participants)
	assert.Equal(t, models.ConversationActive, conversation.Status)
}

func TestFindOrCreateConversationKeepsSeparatorPairsApart(t *testing.T) {
	repo, g := newChatRepo(t)
	ctx := context.Background()

	first, err := repo.FindOrCreateConversation(ctx, "a:b", "c")
	require.NoError(t, err)
	second, err := repo.FindOrCreateConversation(ctx, "a", "b:c")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"a:b", "c"}, first.Participants)
	assert.ElementsMatch(t, []string{"a", "b:c"}, second.Participants)
	assert.True(t, second.HasParticipant("a"))

	var count int64
	require.NoError(t, g.DB.Model(&models.Conversation{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	again, err := repo.FindOrCreateConversation(ctx, "b:c", "a")
	require.NoError(t, err)
	assert.Equal(t, second.ID, again.ID)
}

func TestFindOrCreateConversationRejectsInvalidPairs(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()

	_, err := repo.FindOrCreateConversation(ctx, "u1", "u1")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = repo.FindOrCreateConversation(ctx, "", "u1")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestAppendMessage(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	conversation, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	t.Run("sender must be a participant", func(t *testing.T) {
		_, err := repo.AppendMessage(ctx, conversation.ID, "u3", text("hello"))
		assert.ErrorIs(t, err, errs.ErrNotParticipant)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, err := repo.AppendMessage(ctx, "missing", "u1", text("hello"))
		assert.ErrorIs(t, err, errs.ErrConversationNotFound)
	})

	t.Run("updates the last message", func(t *testing.T) {
		message, err := repo.AppendMessage(ctx, conversation.ID, "u1", text("Hi"))
		require.NoError(t, err)
		assert.NotEmpty(t, message.ID)
		assert.Equal(t, "u1", message.SenderID)
		assert.Empty(t, message.ReadBy)

		got, err := repo.GetConversation(ctx, conversation.ID, "u2")
		require.NoError(t, err)
		assert.Equal(t, "Hi", got.LastMessage.Content)
		assert.Equal(t, "u1", got.LastMessage.SenderID)
		require.NotNil(t, got.LastMessage.SentAt)
		assert.True(t, got.LastMessage.SentAt.Equal(message.CreatedAt))
	})
}

func TestAppendMessageTimestampsStrictlyIncrease(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	conversation, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		sender := "u1"
		if i%3 == 0 {
			sender = "u2"
		}
		_, err := repo.AppendMessage(ctx, conversation.ID, sender, text(strings.Repeat("x", i+1)))
		require.NoError(t, err)
	}

	messages, err := repo.ListMessages(ctx, conversation.ID, "u1", db.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 20)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i].CreatedAt.After(messages[i-1].CreatedAt), "message %d is not after %d", i, i-1)
		assert.Len(t, messages[i].Content, i+1)
	}
}

func TestListMessages(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	conversation, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	var sent []*models.Message
	for _, content := range []string{"one", "two", "three", "four", "five"} {
		m, err := repo.AppendMessage(ctx, conversation.ID, "u1", text(content))
		require.NoError(t, err)
		sent = append(sent, m)
	}

	t.Run("outsider is denied", func(t *testing.T) {
		_, err := repo.ListMessages(ctx, conversation.ID, "u3", db.ListMessagesOptions{})
		assert.ErrorIs(t, err, errs.ErrAccessDenied)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		_, err := repo.ListMessages(ctx, "missing", "u1", db.ListMessagesOptions{})
		assert.ErrorIs(t, err, errs.ErrConversationNotFound)
	})

	t.Run("latest page in ascending order", func(t *testing.T) {
		messages, err := repo.ListMessages(ctx, conversation.ID, "u2", db.ListMessagesOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "four", messages[0].Content)
		assert.Equal(t, "five", messages[1].Content)
		assert.Equal(t, sent[4].ID, messages[1].ID)
	})

	t.Run("paginates backward from a cursor", func(t *testing.T) {
		messages, err := repo.ListMessages(ctx, conversation.ID, "u2", db.ListMessagesOptions{Before: sent[3].ID, Limit: 2})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "two", messages[0].Content)
		assert.Equal(t, "three", messages[1].Content)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		_, err := repo.ListMessages(ctx, conversation.ID, "u2", db.ListMessagesOptions{Before: "nope"})
		assert.ErrorIs(t, err, errs.ErrValidation)
	})
}

func TestMarkReadIsIdempotent(t *testing.T) {
	repo, g := newChatRepo(t)
	ctx := context.Background()
	conversation, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	message, err := repo.AppendMessage(ctx, conversation.ID, "u1", text("Hi"))
	require.NoError(t, err)

	first, err := repo.MarkRead(ctx, conversation.ID, "u2", []string{message.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{message.ID}, first.MessageIDs)

	second, err := repo.MarkRead(ctx, conversation.ID, "u2", []string{message.ID})
	require.NoError(t, err)
	assert.Empty(t, second.MessageIDs, "a repeated mark records nothing new")

	again, err := repo.MarkRead(ctx, conversation.ID, "u2", nil)
	require.NoError(t, err)
	assert.Empty(t, again.MessageIDs)

	var reads []models.MessageRead
	require.NoError(t, g.DB.Find(&reads).Error)
	require.Len(t, reads, 1)
	assert.Equal(t, "u2", reads[0].UserID)
	assert.True(t, reads[0].ReadAt.Equal(first.ReadAt))

	messages, err := repo.ListMessages(ctx, conversation.ID, "u1", db.ListMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"u2"}, messages[0].ReadBy)
}

func TestMarkRead(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	conversation, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	fromU1, err := repo.AppendMessage(ctx, conversation.ID, "u1", text("question"))
	require.NoError(t, err)
	fromU2, err := repo.AppendMessage(ctx, conversation.ID, "u2", text("answer"))
	require.NoError(t, err)

	t.Run("outsider is rejected", func(t *testing.T) {
		_, err := repo.MarkRead(ctx, conversation.ID, "u3", []string{fromU1.ID})
		assert.ErrorIs(t, err, errs.ErrNotParticipant)
	})

	t.Run("ids from another conversation are ignored", func(t *testing.T) {
		other, err := repo.FindOrCreateConversation(ctx, "u1", "u4")
		require.NoError(t, err)
		result, err := repo.MarkRead(ctx, other.ID, "u1", []string{fromU2.ID})
		require.NoError(t, err)
		assert.Empty(t, result.MessageIDs)
	})

	t.Run("empty list marks every message from the other participant", func(t *testing.T) {
		result, err := repo.MarkRead(ctx, conversation.ID, "u2", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{fromU1.ID}, result.MessageIDs)
		assert.Equal(t, "u2", result.ReadBy)
	})

	t.Run("only newly read messages are reported", func(t *testing.T) {
		later, err := repo.AppendMessage(ctx, conversation.ID, "u1", text("follow up"))
		require.NoError(t, err)
		result, err := repo.MarkRead(ctx, conversation.ID, "u2", []string{fromU1.ID, later.ID})
		require.NoError(t, err)
		assert.Equal(t, []string{later.ID}, result.MessageIDs)
	})
}

func TestUnreadCounts(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	withU2, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	withU3, err := repo.FindOrCreateConversation(ctx, "u3", "u1")
	require.NoError(t, err)

	first, err := repo.AppendMessage(ctx, withU2.ID, "u2", text("a"))
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, withU2.ID, "u2", text("b"))
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, withU2.ID, "u1", text("mine"))
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, withU3.ID, "u3", text("c"))
	require.NoError(t, err)

	summary, err := repo.UnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.Conversations[withU2.ID])
	assert.Equal(t, int64(1), summary.Conversations[withU3.ID])

	_, err = repo.MarkRead(ctx, withU2.ID, "u1", []string{first.ID})
	require.NoError(t, err)

	summary, err = repo.UnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Total)
	assert.Equal(t, int64(1), summary.Conversations[withU2.ID])

	summary, err = repo.UnreadCounts(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Total)
}

func TestConversationStatus(t *testing.T) {
	repo, _ := newChatRepo(t)
	ctx := context.Background()
	older, err := repo.FindOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	newer, err := repo.FindOrCreateConversation(ctx, "u1", "u3")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, older.ID, "u2", text("first"))
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, newer.ID, "u3", text("second"))
	require.NoError(t, err)

	conversations, err := repo.ListConversations(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, newer.ID, conversations[0].ID, "most recently active first")

	_, err = repo.SetConversationStatus(ctx, newer.ID, "u2", models.ConversationArchived)
	assert.ErrorIs(t, err, errs.ErrAccessDenied)

	archived, err := repo.SetConversationStatus(ctx, newer.ID, "u1", models.ConversationArchived)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationArchived, archived.Status)

	active, err := repo.ListConversations(ctx, "u1", models.ConversationActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, older.ID, active[0].ID)

	onlyArchived, err := repo.ListConversations(ctx, "u1", models.ConversationArchived)
	require.NoError(t, err)
	require.Len(t, onlyArchived, 1)
	assert.Equal(t, newer.ID, onlyArchived[0].ID)

	messages, err := repo.ListMessages(ctx, newer.ID, "u1", db.ListMessagesOptions{})
	require.NoError(t, err)
	assert.Len(t, messages, 1, "archiving keeps history")

	_, err = repo.AppendMessage(ctx, newer.ID, "u3", text("back again"))
	require.NoError(t, err)
	reactivated, err := repo.GetConversation(ctx, newer.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, reactivated.Status)

	_, err = repo.ListConversations(ctx, "u1", "deleted")
	assert.ErrorIs(t, err, errs.ErrValidation)
}
