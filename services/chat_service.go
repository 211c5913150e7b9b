package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
)

// ChatService is shared by the live channel and the REST surface so that both go
// through the same validation and the same store.
type ChatService interface {
	StartConversation(ctx context.Context, userID, participantID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, status models.ConversationStatus) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string, opts db.ListMessagesOptions) ([]models.Message, error)
	SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*SendResult, error)
	MarkRead(ctx context.Context, conversationID, reader string, messageIDs []string) (*ReadResult, error)
	UnreadSummary(ctx context.Context, userID string) (*models.UnreadSummary, error)
	SetConversationStatus(ctx context.Context, conversationID, userID string, status models.ConversationStatus) (*models.Conversation, error)
}

type SendMessageInput struct {
	ConversationID string
	RecipientID    string
	Draft          models.MessageDraft
}

// SendResult is a persisted message together with the participant it is addressed to.
type SendResult struct {
	Message     *models.Message
	RecipientID string
}

// ReadResult is a persisted read receipt together with the participant who sent the messages.
type ReadResult struct {
	*models.MarkReadResult
	RecipientID string
}

type chatService struct {
	Config   *config.Config
	chatRepo db.ChatRepository
}

func NewChatService(chatRepo db.ChatRepository, conf *config.Config) ChatService {
	return &chatService{
		Config:   conf,
		chatRepo: chatRepo,
	}
}

func (s *chatService) StartConversation(ctx context.Context, userID, participantID string) (*models.Conversation, error) {
	return s.chatRepo.FindOrCreateConversation(ctx, userID, strings.TrimSpace(participantID))
}

func (s *chatService) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.chatRepo.GetConversation(ctx, conversationID, userID)
}

func (s *chatService) ListConversations(ctx context.Context, userID string, status models.ConversationStatus) ([]models.Conversation, error) {
	return s.chatRepo.ListConversations(ctx, userID, status)
}

func (s *chatService) ListMessages(ctx context.Context, conversationID, userID string, opts db.ListMessagesOptions) ([]models.Message, error) {
	return s.chatRepo.ListMessages(ctx, conversationID, userID, opts)
}

// SendMessage validates before touching the store; nothing is persisted for an invalid draft.
// An empty ConversationID finds or creates the conversation with RecipientID.
func (s *chatService) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*SendResult, error) {
	draft, err := ValidateDraft(input.Draft, s.maxAttachmentSize())
	if err != nil {
		return nil, err
	}
	if draft.File != nil {
		conversationID, err := s.attachmentConversation(draft.File)
		if err != nil {
			return nil, err
		}
		if input.ConversationID == "" {
			input.ConversationID = conversationID
		} else if input.ConversationID != conversationID {
			return nil, errs.NewValidationError("attachment was uploaded to another conversation")
		}
	}

	var conversation *models.Conversation
	if input.ConversationID == "" {
		if input.RecipientID == "" {
			return nil, errs.NewValidationError("recipientId is required when conversationId is empty")
		}
		conversation, err = s.chatRepo.FindOrCreateConversation(ctx, senderID, input.RecipientID)
	} else {
		conversation, err = s.chatRepo.GetConversation(ctx, input.ConversationID, senderID)
		if errors.Is(err, errs.ErrAccessDenied) {
			err = errs.ErrNotParticipant
		}
	}
	if err != nil {
		return nil, err
	}

	recipientID := conversation.OtherParticipant(senderID)
	if input.RecipientID != "" && input.RecipientID != recipientID {
		return nil, errs.NewValidationError("recipientId is not the other participant of the conversation")
	}

	message, err := s.chatRepo.AppendMessage(ctx, conversation.ID, senderID, draft)
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: message, RecipientID: recipientID}, nil
}

func (s *chatService) MarkRead(ctx context.Context, conversationID, reader string, messageIDs []string) (*ReadResult, error) {
	result, err := s.chatRepo.MarkRead(ctx, conversationID, reader, messageIDs)
	if err != nil {
		return nil, err
	}
	conversation, err := s.chatRepo.GetConversation(ctx, conversationID, reader)
	if err != nil {
		return nil, err
	}
	return &ReadResult{MarkReadResult: result, RecipientID: conversation.OtherParticipant(reader)}, nil
}

func (s *chatService) UnreadSummary(ctx context.Context, userID string) (*models.UnreadSummary, error) {
	return s.chatRepo.UnreadCounts(ctx, userID)
}

func (s *chatService) SetConversationStatus(ctx context.Context, conversationID, userID string, status models.ConversationStatus) (*models.Conversation, error) {
	return s.chatRepo.SetConversationStatus(ctx, conversationID, userID, status)
}

// attachmentConversation returns the conversation an attachment was uploaded to. Files that were
// not stored through the attachment upload are rejected.
func (s *chatService) attachmentConversation(file *models.FileAttachment) (string, error) {
	base := ""
	if s.Config != nil {
		base = s.Config.AttachmentBaseURL()
	}
	if base == "" {
		return "", errs.NewValidationError("attachments are not enabled")
	}

	conversationID, ok := uploadedConversation(file.URL, base)
	if !ok {
		return "", errs.NewValidationError("file url does not reference an uploaded attachment")
	}
	if file.ThumbnailURL != "" {
		if thumbnailConversation, ok := uploadedConversation(file.ThumbnailURL, base); !ok || thumbnailConversation != conversationID {
			return "", errs.NewValidationError("thumbnail url does not reference an uploaded attachment")
		}
	}
	return conversationID, nil
}

// uploadedConversation parses base + "conversations/<id>/<name>".
func uploadedConversation(rawURL, base string) (string, bool) {
	if !strings.HasPrefix(rawURL, base+attachmentPrefix) {
		return "", false
	}
	parts := strings.Split(strings.TrimPrefix(rawURL, base+attachmentPrefix), "/")
	if len(parts) != 2 {
		return "", false
	}
	conversationID, name := parts[0], parts[1]
	if conversationID == "" || name == "" || conversationID == ".." || name == ".." || strings.ContainsAny(name, "?#") {
		return "", false
	}
	return conversationID, true
}

func (s *chatService) maxAttachmentSize() int64 {
	if s.Config == nil || s.Config.MaxAttachmentSize <= 0 {
		return DefaultMaxAttachmentSize
	}
	return s.Config.MaxAttachmentSize
}

// ValidateDraft normalizes a client draft and rejects anything that must not be stored.
func ValidateDraft(draft models.MessageDraft, maxAttachmentSize int64) (models.MessageDraft, error) {
	if draft.Kind == "" {
		draft.Kind = models.MessageKindText
		if draft.File != nil {
			draft.Kind = models.MessageKindFile
		}
	}
	if utf8.RuneCountInString(draft.Content) > models.MaxMessageLength {
		return draft, errs.NewValidationError("message content exceeds 10000 characters")
	}

	switch draft.Kind {
	case models.MessageKindText:
		if strings.TrimSpace(draft.Content) == "" {
			return draft, errs.NewValidationError("message content is empty")
		}
		draft.File = nil
	case models.MessageKindFile, models.MessageKindImage:
		if draft.File == nil || draft.File.URL == "" || draft.File.Name == "" {
			return draft, errs.NewValidationError("file messages need a file url and name")
		}
		if draft.File.Size <= 0 || draft.File.Size > maxAttachmentSize {
			return draft, errs.NewValidationError("file size is out of range")
		}
		if !SupportedMimeType(draft.File.MimeType) {
			return draft, errs.NewValidationError("unsupported file type " + draft.File.MimeType)
		}
		if draft.Kind == models.MessageKindImage && !IsImageMimeType(draft.File.MimeType) {
			return draft, errs.NewValidationError("image messages need an image file")
		}
	case models.MessageKindSystem:
		return draft, errs.NewValidationError("system messages cannot be sent by clients")
	default:
		return draft, errs.NewValidationError("unknown message kind " + string(draft.Kind))
	}
	return draft, nil
}
