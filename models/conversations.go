package models

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

func (s ConversationStatus) Valid() bool {
	return s == ConversationActive || s == ConversationArchived
}

// LastMessage is the denormalized summary of the newest message in a conversation.
type LastMessage struct {
	Content  string      `gorm:"type:text" json:"content"`
	SenderID string      `gorm:"type:varchar(64)" json:"sender_id"`
	Kind     MessageKind `gorm:"type:varchar(16)" json:"kind"`
	SentAt   *time.Time  `json:"sent_at"`
}

// Conversation is a direct thread between exactly two users. ParticipantA and
// ParticipantB are stored sorted and unique together, so a pair maps to one row.
type Conversation struct {
	Model
	ParticipantA string             `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:1" json:"-"`
	ParticipantB string             `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:2;index" json:"-"`
	Status       ConversationStatus `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	LastMessage  LastMessage        `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
	Participants []string           `gorm:"-" json:"participants"`
}

// CanonicalPair orders two identities.
func CanonicalPair(userA, userB string) (string, string) {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// NewConversation builds an active conversation for the pair.
func NewConversation(userA, userB string) *Conversation {
	a, b := CanonicalPair(userA, userB)
	return &Conversation{
		ParticipantA: a,
		ParticipantB: b,
		Status:       ConversationActive,
		Participants: []string{a, b},
	}
}

func (c *Conversation) AfterFind(tx *gorm.DB) error {
	c.Participants = []string{c.ParticipantA, c.ParticipantB}
	return nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// OtherParticipant returns the counterpart of userID, or "" if userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id" binding:"required" conform:"trim"`
}

type ConversationStatusRequest struct {
	Status ConversationStatus `json:"status" binding:"required,oneof=active archived"`
}
