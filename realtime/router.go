package realtime

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/metrics"
	"github.com/techagentng/skillsync/models"
	"github.com/techagentng/skillsync/services"
)

const offlineNotifyTimeout = 10 * time.Second

type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseJoined
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseJoined:
		return "joined"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// State is what the router knows about one connection. AuthUserID comes from the bearer
// token, UserID is set once the connection has joined.
type State struct {
	ConnID     string
	AuthUserID string
	UserID     string
	Phase      Phase
}

// Outbound addresses Event to a user. An empty Recipient means the originating connection.
type Outbound struct {
	Recipient string
	Event     Event
}

// OfflineNotifier is told about messages whose recipient had no live connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipientID string, message *models.Message) error
}

// Router turns inbound events into persisted state and outbound events.
type Router struct {
	chat     services.ChatService
	presence *Presence
	notifier OfflineNotifier
}

func NewRouter(chat services.ChatService, presence *Presence) *Router {
	return &Router{
		chat:     chat,
		presence: presence,
	}
}

// SetOfflineNotifier installs the notifier used for offline recipients of receive_message.
func (r *Router) SetOfflineNotifier(notifier OfflineNotifier) {
	r.notifier = notifier
}

// Handle processes one inbound event for the connection in state. Apart from the store it
// has no side effects: the returned events are pushed by Deliver.
func (r *Router) Handle(ctx context.Context, state State, in Inbound) (State, []Outbound) {
	metrics.EventsReceived.WithLabelValues(in.Type).Inc()

	switch in.Type {
	case EventPing:
		return state, []Outbound{reply(Event{Type: EventPong})}
	case EventJoin:
		return r.join(state, in)
	}

	if state.Phase != PhaseJoined {
		return state, []Outbound{errorReply(errs.NewValidationError("join before sending "+in.Type), "")}
	}

	switch in.Type {
	case EventSendMessage:
		return state, r.sendMessage(ctx, state, in)
	case EventTypingStart, EventTypingStop:
		return state, r.typing(ctx, state, in)
	case EventMarkRead:
		return state, r.markRead(ctx, state, in)
	}
	return state, []Outbound{errorReply(errs.NewValidationError("unknown event type "+in.Type), "")}
}

func (r *Router) join(state State, in Inbound) (State, []Outbound) {
	var payload JoinPayload
	if err := decode(in, &payload); err != nil {
		return state, []Outbound{errorReply(err, "")}
	}
	if payload.UserID == "" {
		payload.UserID = state.AuthUserID
	}
	if payload.UserID != state.AuthUserID {
		return state, []Outbound{errorReply(errs.ErrAccessDenied, "")}
	}

	state.UserID = payload.UserID
	state.Phase = PhaseJoined
	return state, []Outbound{reply(Event{Type: EventJoined, Data: JoinedData{UserID: state.UserID}})}
}

func (r *Router) sendMessage(ctx context.Context, state State, in Inbound) []Outbound {
	var payload SendMessagePayload
	if err := decode(in, &payload); err != nil {
		return []Outbound{errorReply(err, "")}
	}

	result, err := r.chat.SendMessage(ctx, state.UserID, services.SendMessageInput{
		ConversationID: payload.ConversationID,
		RecipientID:    payload.RecipientID,
		Draft: models.MessageDraft{
			Kind:    payload.Kind,
			Content: payload.Content,
			File:    payload.File,
		},
	})
	if err != nil {
		return []Outbound{errorReply(err, payload.ClientID)}
	}
	metrics.MessagesPersisted.WithLabelValues(string(result.Message.Kind)).Inc()

	return []Outbound{
		{Recipient: result.RecipientID, Event: receiveMessage(result.Message)},
		reply(Event{Type: EventMessageSent, Data: MessageSentData{
			ConversationID: result.Message.ConversationID,
			Message:        result.Message,
			Timestamp:      result.Message.CreatedAt,
			ClientID:       payload.ClientID,
		}}),
	}
}

// typing resolves the recipient from the conversation when one is given. Before the first
// message there is no conversation yet and the notice goes to recipientId directly.
func (r *Router) typing(ctx context.Context, state State, in Inbound) []Outbound {
	var payload TypingPayload
	if err := decode(in, &payload); err != nil {
		return []Outbound{errorReply(err, "")}
	}

	recipient := payload.RecipientID
	if payload.ConversationID != "" {
		conversation, err := r.chat.GetConversation(ctx, payload.ConversationID, state.UserID)
		if err != nil {
			return []Outbound{errorReply(err, "")}
		}
		recipient = conversation.OtherParticipant(state.UserID)
	}
	if recipient == "" || recipient == state.UserID {
		return []Outbound{errorReply(errs.NewValidationError("typing needs a conversationId or recipientId"), "")}
	}

	eventType := EventUserTyping
	if in.Type == EventTypingStop {
		eventType = EventUserStoppedTyping
	}
	return []Outbound{{
		Recipient: recipient,
		Event: Event{Type: eventType, Data: TypingData{
			ConversationID: payload.ConversationID,
			UserID:         state.UserID,
		}},
	}}
}

func (r *Router) markRead(ctx context.Context, state State, in Inbound) []Outbound {
	var payload MarkReadPayload
	if err := decode(in, &payload); err != nil {
		return []Outbound{errorReply(err, "")}
	}

	ids := payload.MessageIDs
	if payload.MessageID != "" {
		ids = append(ids, payload.MessageID)
	}
	result, err := r.chat.MarkRead(ctx, payload.ConversationID, state.UserID, ids)
	if err != nil {
		return []Outbound{errorReply(err, "")}
	}
	if len(result.MessageIDs) == 0 {
		return nil
	}
	return []Outbound{{Recipient: result.RecipientID, Event: messageRead(result, payload.MessageID)}}
}

// Deliver pushes outbound events. from receives events with an empty recipient and may be nil
// when there is no originating connection. Push failures are logged and never returned.
func (r *Router) Deliver(ctx context.Context, from Conn, outs []Outbound) {
	for _, out := range outs {
		if out.Recipient == "" {
			if from == nil {
				continue
			}
			if err := from.Send(out.Event); err != nil {
				r.deliveryFailed(out, err)
				continue
			}
			metrics.EventsDelivered.WithLabelValues(out.Event.Type).Inc()
			continue
		}

		conn, ok := r.presence.Lookup(out.Recipient)
		if !ok {
			metrics.EventsDropped.WithLabelValues(out.Event.Type).Inc()
			r.notifyOffline(out)
			continue
		}
		if err := conn.Send(out.Event); err != nil {
			r.deliveryFailed(out, err)
			continue
		}
		metrics.EventsDelivered.WithLabelValues(out.Event.Type).Inc()
	}
}

// PushMessage delivers a message persisted outside the live channel to both participants.
func (r *Router) PushMessage(ctx context.Context, senderID string, result *services.SendResult) {
	r.Deliver(ctx, nil, []Outbound{
		{Recipient: result.RecipientID, Event: receiveMessage(result.Message)},
		{Recipient: senderID, Event: Event{Type: EventMessageSent, Data: MessageSentData{
			ConversationID: result.Message.ConversationID,
			Message:        result.Message,
			Timestamp:      result.Message.CreatedAt,
		}}},
	})
}

// PushRead delivers a read receipt recorded outside the live channel to the message sender.
func (r *Router) PushRead(ctx context.Context, result *services.ReadResult) {
	if len(result.MessageIDs) == 0 {
		return
	}
	r.Deliver(ctx, nil, []Outbound{{Recipient: result.RecipientID, Event: messageRead(result, "")}})
}

func (r *Router) deliveryFailed(out Outbound, err error) {
	metrics.DeliveryFailures.WithLabelValues(out.Event.Type).Inc()
	log.Warn().
		Err(err).
		Str("code", errs.CodeTransientDelivery).
		Str("recipient_id", out.Recipient).
		Str("event", out.Event.Type).
		Msg("push to live connection failed")
}

func (r *Router) notifyOffline(out Outbound) {
	if r.notifier == nil || out.Event.Type != EventReceiveMessage {
		return
	}
	data, ok := out.Event.Data.(ReceiveMessageData)
	if !ok {
		return
	}

	notifier := r.notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), offlineNotifyTimeout)
		defer cancel()
		if err := notifier.NotifyOffline(ctx, out.Recipient, data.Message); err != nil {
			metrics.OfflinePushes.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Str("code", errs.CodeTransientDelivery).Str("recipient_id", out.Recipient).Msg("offline notification failed")
			return
		}
		metrics.OfflinePushes.WithLabelValues("sent").Inc()
	}()
}

func reply(event Event) Outbound {
	return Outbound{Event: event}
}

func errorReply(err error, clientID string) Outbound {
	message := err.Error()
	code := errs.Code(err)
	if code == "" && errs.Status(err) >= 500 {
		log.Error().Err(err).Msg("chat operation failed")
		message = errs.ErrInternalServerError.Message
	}
	metrics.RecordMessageError(code)
	return reply(Event{Type: EventMessageError, Data: MessageErrorData{
		Error:    message,
		Code:     code,
		ClientID: clientID,
	}})
}

func receiveMessage(message *models.Message) Event {
	return Event{Type: EventReceiveMessage, Data: ReceiveMessageData{
		ConversationID: message.ConversationID,
		Message:        message,
		SenderID:       message.SenderID,
		Timestamp:      message.CreatedAt,
	}}
}

func messageRead(result *services.ReadResult, messageID string) Event {
	return Event{Type: EventMessageRead, Data: MessageReadData{
		ConversationID: result.ConversationID,
		MessageID:      messageID,
		MessageIDs:     result.MessageIDs,
		ReadBy:         result.ReadBy,
		ReadAt:         result.ReadAt,
	}}
}

func decode(in Inbound, v interface{}) error {
	if len(in.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return errs.NewValidationError("malformed " + in.Type + " payload")
	}
	return nil
}
