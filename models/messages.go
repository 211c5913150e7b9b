package models

import (
	"time"
)

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindFile   MessageKind = "file"
	MessageKindImage  MessageKind = "image"
	MessageKindSystem MessageKind = "system"
)

// MaxMessageLength bounds the content of a single message, in characters.
const MaxMessageLength = 10000

// FileAttachment references an uploaded file.
type FileAttachment struct {
	URL          string `gorm:"type:text" json:"url"`
	Name         string `gorm:"type:varchar(255)" json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `gorm:"type:varchar(127)" json:"mime_type"`
	ThumbnailURL string `gorm:"type:text" json:"thumbnail_url,omitempty"`
}

type Message struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string          `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       string          `gorm:"type:varchar(64);not null" json:"sender_id"`
	Kind           MessageKind     `gorm:"type:varchar(16);not null;default:text" json:"kind"`
	Content        string          `gorm:"type:text" json:"content"`
	File           *FileAttachment `gorm:"embedded;embeddedPrefix:file_" json:"file,omitempty"`
	CreatedAt      time.Time       `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	Reads          []MessageRead   `gorm:"foreignKey:MessageID" json:"-"`
	ReadBy         []string        `gorm:"-" json:"read_by"`
}

// MessageRead records that UserID has read MessageID. Rows are never deleted.
type MessageRead struct {
	MessageID      string    `gorm:"type:varchar(36);primaryKey" json:"message_id"`
	UserID         string    `gorm:"type:varchar(64);primaryKey;index" json:"user_id"`
	ConversationID string    `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MessageDraft is the client supplied part of a message.
type MessageDraft struct {
	Kind    MessageKind     `json:"kind"`
	Content string          `json:"content"`
	File    *FileAttachment `json:"file,omitempty"`
}

type SendMessageRequest struct {
	RecipientID string          `json:"recipient_id"`
	Kind        MessageKind     `json:"kind"`
	Content     string          `json:"content"`
	File        *FileAttachment `json:"file,omitempty"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type MarkReadResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadBy         string    `json:"read_by"`
	ReadAt         time.Time `json:"read_at"`
}

type UnreadSummary struct {
	Total         int64            `json:"total"`
	Conversations map[string]int64 `json:"conversations"`
}
