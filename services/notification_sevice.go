package services

import (
	"context"
	"unicode/utf8"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/db"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
	"google.golang.org/api/option"
)

const pushPreviewLength = 120

// PushSender is the part of the Firebase messaging client used for offline push.
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type DeviceTokenStore interface {
	FindDeviceToken(userID string) (string, error)
}

// NewFirebaseMessaging initializes the Firebase app from a service account file.
func NewFirebaseMessaging(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, errors.Wrap(err, "error initializing Firebase app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error getting Messaging client")
	}
	return client, nil
}

// NotificationService pushes messages to recipients that are not connected to the live channel.
type NotificationService struct {
	sender PushSender
	tokens DeviceTokenStore
}

func NewNotificationService(sender PushSender, tokens DeviceTokenStore) *NotificationService {
	return &NotificationService{
		sender: sender,
		tokens: tokens,
	}
}

// NotifyOffline sends a push for message to recipientID. A recipient without a registered
// device token is skipped silently.
func (s *NotificationService) NotifyOffline(ctx context.Context, recipientID string, message *models.Message) error {
	token, err := s.tokens.FindDeviceToken(recipientID)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "find device token")
	}
	if token == "" {
		return nil
	}

	_, err = s.sender.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: "New message",
			Body:  pushPreview(message),
		},
		Data: map[string]string{
			"type":           "receive_message",
			"conversationId": message.ConversationID,
			"messageId":      message.ID,
			"senderId":       message.SenderID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", recipientID).Str("message_id", message.ID).Msg("offline push failed")
		return errs.ErrTransientDelivery
	}
	return nil
}

func pushPreview(message *models.Message) string {
	if message.Kind != models.MessageKindText && message.File != nil {
		return "Sent you a file: " + message.File.Name
	}
	if utf8.RuneCountInString(message.Content) <= pushPreviewLength {
		return message.Content
	}
	runes := []rune(message.Content)
	return string(runes[:pushPreviewLength]) + "..."
}
