package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
)

// ChatRepository is the durable store for conversations and their message logs.
type ChatRepository interface {
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID, requester string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID string, draft models.MessageDraft) (*models.Message, error)
	ListConversations(ctx context.Context, userID string, status models.ConversationStatus) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, requester string, opts ListMessagesOptions) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID, reader string, messageIDs []string) (*models.MarkReadResult, error)
	UnreadCounts(ctx context.Context, userID string) (*models.UnreadSummary, error)
	SetConversationStatus(ctx context.Context, conversationID, requester string, status models.ConversationStatus) (*models.Conversation, error)
}

// ListMessagesOptions pages backward through history. Before is a message id.
type ListMessagesOptions struct {
	Before string
	Limit  int
}

type chatRepo struct {
	DB *gorm.DB
}

func NewChatRepo(db *GormDB) ChatRepository {
	return &chatRepo{db.DB}
}

func (r *chatRepo) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, errs.NewValidationError("both participants are required")
	}
	if userA == userB {
		return nil, errs.NewValidationError("a conversation needs two distinct participants")
	}

	db := r.DB.WithContext(ctx)
	conversation := models.NewConversation(userA, userB)

	// Concurrent creators race on the unique pair; losers insert nothing and read the winner's row.
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_a"}, {Name: "participant_b"}},
		DoNothing: true,
	}).Create(conversation).Error
	if err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}

	var found models.Conversation
	err = db.Where("participant_a = ? AND participant_b = ?", conversation.ParticipantA, conversation.ParticipantB).
		First(&found).Error
	if err != nil {
		return nil, errors.Wrap(err, "find conversation by pair")
	}

	if found.Status == models.ConversationArchived {
		if err := db.Model(&found).UpdateColumn("status", models.ConversationActive).Error; err != nil {
			return nil, errors.Wrap(err, "reactivate conversation")
		}
		found.Status = models.ConversationActive
	}
	return &found, nil
}

func (r *chatRepo) GetConversation(ctx context.Context, conversationID, requester string) (*models.Conversation, error) {
	conversation, err := loadConversation(r.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(requester) {
		return nil, errs.ErrAccessDenied
	}
	return conversation, nil
}

func (r *chatRepo) AppendMessage(ctx context.Context, conversationID, senderID string, draft models.MessageDraft) (*models.Message, error) {
	var message *models.Message

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversation models.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", conversationID).First(&conversation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrConversationNotFound
		}
		if err != nil {
			return errors.Wrap(err, "lock conversation")
		}
		if !conversation.HasParticipant(senderID) {
			return errs.ErrNotParticipant
		}

		// created_at is strictly increasing inside a conversation so that ordering by it
		// matches the order appends committed under the row lock.
		createdAt := time.Now().UTC().Truncate(time.Microsecond)
		if last := conversation.LastMessage.SentAt; last != nil && !createdAt.After(last.UTC()) {
			createdAt = last.UTC().Add(time.Microsecond)
		}

		kind := draft.Kind
		if kind == "" {
			kind = models.MessageKindText
		}
		message = &models.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			SenderID:       senderID,
			Kind:           kind,
			Content:        draft.Content,
			File:           draft.File,
			CreatedAt:      createdAt,
			ReadBy:         []string{},
		}
		if err := tx.Create(message).Error; err != nil {
			return errors.Wrap(err, "insert message")
		}

		updates := map[string]interface{}{
			"last_message_content":   summarize(message),
			"last_message_sender_id": senderID,
			"last_message_kind":      kind,
			"last_message_sent_at":   createdAt,
			"updated_at":             createdAt,
			"status":                 models.ConversationActive,
		}
		err = tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Updates(updates).Error
		return errors.Wrap(err, "update last message")
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (r *chatRepo) ListConversations(ctx context.Context, userID string, status models.ConversationStatus) ([]models.Conversation, error) {
	if status == "" {
		status = models.ConversationActive
	}
	if !status.Valid() {
		return nil, errs.NewValidationError("unknown conversation status " + string(status))
	}

	conversations := []models.Conversation{}
	err := r.DB.WithContext(ctx).
		Where("(participant_a = ? OR participant_b = ?) AND status = ?", userID, userID, status).
		Order("updated_at DESC").
		Order("id").
		Find(&conversations).Error
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	return conversations, nil
}

func (r *chatRepo) ListMessages(ctx context.Context, conversationID, requester string, opts ListMessagesOptions) ([]models.Message, error) {
	db := r.DB.WithContext(ctx)

	conversation, err := loadConversation(db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(requester) {
		return nil, errs.ErrAccessDenied
	}

	query := db.Where("conversation_id = ?", conversationID)
	if opts.Before != "" {
		var cursor models.Message
		err := db.Select("id", "created_at").Where("id = ? AND conversation_id = ?", opts.Before, conversationID).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NewValidationError("unknown cursor message " + opts.Before)
		}
		if err != nil {
			return nil, errors.Wrap(err, "load cursor message")
		}
		query = query.Where("created_at < ?", cursor.CreatedAt)
	}

	messages := []models.Message{}
	err = query.
		Preload("Reads", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") }).
		Order("created_at DESC").
		Limit(pageSize(opts.Limit)).
		Find(&messages).Error
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}

	// fetched newest first for the limit; callers get them oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	for i := range messages {
		normalizeMessage(&messages[i])
	}
	return messages, nil
}

func (r *chatRepo) MarkRead(ctx context.Context, conversationID, reader string, messageIDs []string) (*models.MarkReadResult, error) {
	db := r.DB.WithContext(ctx)

	conversation, err := loadConversation(db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(reader) {
		return nil, errs.ErrNotParticipant
	}

	query := db.Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	if len(messageIDs) > 0 {
		query = query.Where("id IN ?", messageIDs)
	} else {
		query = query.Where("sender_id <> ?", reader)
	}
	ids := []string{}
	if err := query.Order("created_at").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "resolve messages to mark")
	}

	result := &models.MarkReadResult{
		ConversationID: conversationID,
		MessageIDs:     []string{},
		ReadBy:         reader,
		ReadAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
	if len(ids) == 0 {
		return result, nil
	}

	// messages the reader already read keep their first read_at and are not reported again
	already := []string{}
	err = db.Model(&models.MessageRead{}).
		Where("user_id = ? AND message_id IN ?", reader, ids).
		Pluck("message_id", &already).Error
	if err != nil {
		return nil, errors.Wrap(err, "load read receipts")
	}
	fresh := without(ids, already)
	if len(fresh) == 0 {
		return result, nil
	}

	reads := make([]models.MessageRead, 0, len(fresh))
	for _, id := range fresh {
		reads = append(reads, models.MessageRead{
			MessageID:      id,
			UserID:         reader,
			ConversationID: conversationID,
			ReadAt:         result.ReadAt,
		})
	}
	tx := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reads)
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "insert read receipts")
	}
	if tx.RowsAffected < int64(len(reads)) {
		// a concurrent mark recorded some of them first
		ours := []string{}
		err = db.Model(&models.MessageRead{}).
			Where("user_id = ? AND message_id IN ? AND read_at = ?", reader, fresh, result.ReadAt).
			Pluck("message_id", &ours).Error
		if err != nil {
			return nil, errors.Wrap(err, "load read receipts")
		}
		fresh = without(fresh, without(fresh, ours))
	}
	result.MessageIDs = fresh
	return result, nil
}

// without returns ids minus exclude, keeping the order of ids.
func without(ids, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func (r *chatRepo) UnreadCounts(ctx context.Context, userID string) (*models.UnreadSummary, error) {
	type unreadRow struct {
		ConversationID string
		Unread         int64
	}
	var rows []unreadRow

	err := r.DB.WithContext(ctx).
		Table("messages").
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS unread").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.participant_a = ? OR conversations.participant_b = ?", userID, userID).
		Where("messages.sender_id <> ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM message_reads WHERE message_reads.message_id = messages.id AND message_reads.user_id = ?)", userID).
		Group("messages.conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count unread messages")
	}

	summary := &models.UnreadSummary{Conversations: make(map[string]int64, len(rows))}
	for _, row := range rows {
		summary.Conversations[row.ConversationID] = row.Unread
		summary.Total += row.Unread
	}
	return summary, nil
}

func (r *chatRepo) SetConversationStatus(ctx context.Context, conversationID, requester string, status models.ConversationStatus) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, errs.NewValidationError("unknown conversation status " + string(status))
	}
	db := r.DB.WithContext(ctx)

	conversation, err := loadConversation(db, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(requester) {
		return nil, errs.ErrAccessDenied
	}
	if conversation.Status == status {
		return conversation, nil
	}
	if err := db.Model(conversation).UpdateColumn("status", status).Error; err != nil {
		return nil, errors.Wrap(err, "update conversation status")
	}
	conversation.Status = status
	return conversation, nil
}

func loadConversation(db *gorm.DB, conversationID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, errs.ErrConversationNotFound
	}
	var conversation models.Conversation
	err := db.Where("id = ?", conversationID).First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load conversation")
	}
	return &conversation, nil
}

func normalizeMessage(m *models.Message) {
	m.ReadBy = make([]string, 0, len(m.Reads))
	for _, read := range m.Reads {
		m.ReadBy = append(m.ReadBy, read.UserID)
	}
	if m.File != nil && m.File.URL == "" {
		m.File = nil
	}
}

func summarize(m *models.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if m.File != nil {
		return m.File.Name
	}
	return ""
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMessagePageSize
	case limit > MaxMessagePageSize:
		return MaxMessagePageSize
	}
	return limit
}
