package realtime

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/techagentng/skillsync/models"
)

// Live channel event types.
const (
	EventJoin              = "join"
	EventJoined            = "joined"
	EventSendMessage       = "send_message"
	EventReceiveMessage    = "receive_message"
	EventMessageSent       = "message_sent"
	EventMessageError      = "message_error"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMarkRead          = "mark_read"
	EventMessageRead       = "message_read"
	EventPing              = "ping"
	EventPong              = "pong"
)

// Inbound is a frame received from a client. Data is decoded by the handler for Type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a frame sent to a client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type JoinPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	ConversationID string                 `json:"conversationId"`
	RecipientID    string                 `json:"recipientId"`
	Content        string                 `json:"content"`
	Kind           models.MessageKind     `json:"kind"`
	File           *models.FileAttachment `json:"file,omitempty"`
	// ClientID is echoed on message_sent and message_error so clients can reconcile optimistic sends.
	ClientID string `json:"clientId,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
}

type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
	RecipientID    string   `json:"recipientId"`
}

type JoinedData struct {
	UserID string `json:"userId"`
}

type ReceiveMessageData struct {
	ConversationID string          `json:"conversationId"`
	Message        *models.Message `json:"message"`
	SenderID       string          `json:"senderId"`
	Timestamp      time.Time       `json:"timestamp"`
}

type MessageSentData struct {
	ConversationID string          `json:"conversationId"`
	Message        *models.Message `json:"message"`
	Timestamp      time.Time       `json:"timestamp"`
	ClientID       string          `json:"clientId,omitempty"`
}

type MessageErrorData struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type MessageReadData struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	MessageIDs     []string  `json:"messageIds"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}
