// Package messaging implements sending and reading one-to-one messages on top
// of the message/conversation stores and the presence registry.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/metrics"
	"github.com/PaulBabatuyi/realtime-messaging/internal/normalize"
	"github.com/PaulBabatuyi/realtime-messaging/internal/notify"

	"go.uber.org/zap"
)

var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrMessageNotFound  = errors.New("message not found")
	ErrStatusRegression = errors.New("message status cannot move backwards")
	ErrNotParticipant   = errors.New("not a participant")
)

const (
	DefaultLimit int64 = 50
	MaxLimit     int64 = 100
)

// MessageStore is the message facet of the durable store.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *data.Message) (string, error)
	ListMessages(ctx context.Context, conversationID string, limit int64, cursor string) ([]*data.Message, string, error)
	GetMessage(ctx context.Context, id string) (*data.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status data.MessageStatus) (bool, error)
}

// ConversationStore is the conversation facet of the durable store.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, userA, userB string) (string, error)
	UpdateConversationOnMessage(ctx context.Context, conversationID, preview string) error
	ListConversations(ctx context.Context, userID string, limit, skip int64) ([]*data.Conversation, error)
	GetConversation(ctx context.Context, id string) (*data.Conversation, error)
}

// Presence answers whether a user currently holds a live connection.
type Presence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Service orchestrates the stores and presence.
type Service struct {
	messages      MessageStore
	conversations ConversationStore
	presence      Presence
	notifier      notify.Notifier
	logger        *zap.Logger
}

// NewService wires a Service. A nil notifier drops offline notifications and a
// nil logger discards logs.
func NewService(messages MessageStore, conversations ConversationStore, presence Presence, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		messages:      messages,
		conversations: conversations,
		presence:      presence,
		notifier:      notifier,
		logger:        logger,
	}
}

// SendInput is a message to be sent. Empty optional strings count as absent.
type SendInput struct {
	SenderID    string
	RecipientID string
	Type        data.MessageType
	Text        *string
	ImageURL    *string
	SharedRefID *string
}

// SendMessage resolves the conversation for the pair, stores the message and
// then refreshes the conversation summary. The message is written first: if
// the summary update fails the message stays persisted, the failure is logged
// and the send still succeeds; the summary catches up on the next message.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*data.Message, error) {
	msg, err := buildMessage(in)
	if err != nil {
		return nil, err
	}

	convID, err := s.conversations.EnsureConversation(ctx, msg.SenderID, msg.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	msg.ConversationID, err = objectID(convID)
	if err != nil {
		return nil, err
	}

	if _, err := s.messages.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	preview := Preview(msg)
	if err := s.conversations.UpdateConversationOnMessage(ctx, convID, preview); err != nil {
		s.logger.Error("conversation summary left stale after message insert",
			zap.String("message_id", msg.ID.Hex()),
			zap.String("conversation_id", convID),
			zap.Error(err))
	}

	s.notifyIfOffline(ctx, msg, preview)
	return msg, nil
}

func (s *Service) notifyIfOffline(ctx context.Context, msg *data.Message, preview string) {
	if s.presence == nil {
		return
	}
	online, err := s.presence.IsOnline(ctx, msg.RecipientID)
	if err != nil {
		s.logger.Warn("presence lookup failed; skipping offline notification",
			zap.String("recipient_id", msg.RecipientID), zap.Error(err))
		return
	}
	if online {
		return
	}
	err = s.notifier.NotifyOffline(ctx, notify.OfflineMessage{
		MessageID:      msg.ID.Hex(),
		ConversationID: msg.ConversationID.Hex(),
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Type:           string(msg.Type),
		Preview:        preview,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("offline notification failed",
			zap.String("message_id", msg.ID.Hex()), zap.Error(err))
	}
}

func buildMessage(in SendInput) (*data.Message, error) {
	sender := normalize.UserID(in.SenderID)
	recipient := normalize.UserID(in.RecipientID)
	if sender == "" || recipient == "" {
		return nil, fmt.Errorf("%w: sender and recipient are required", ErrInvalidMessage)
	}

	typ := in.Type
	if typ == "" {
		typ = data.TypeText
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, typ)
	}

	msg := &data.Message{
		SenderID:    sender,
		RecipientID: recipient,
		Type:        typ,
		Text:        nonEmpty(in.Text),
		ImageURL:    nonEmpty(in.ImageURL),
		SharedRefID: nonEmpty(in.SharedRefID),
	}
	if msg.Text == nil && msg.ImageURL == nil && msg.SharedRefID == nil {
		return nil, fmt.Errorf("%w: one of text, image_url or shared_ref_id is required", ErrInvalidMessage)
	}
	return msg, nil
}

// ListMessages pages through a conversation newest-first. limit is clamped to
// [1, MaxLimit] with DefaultLimit for non-positive values.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int64, cursor string) ([]*data.Message, string, error) {
	return s.messages.ListMessages(ctx, conversationID, clampLimit(limit), cursor)
}

// ListMessagesAs is ListMessages for a caller that must take part in the
// conversation. An unknown conversation is an empty page.
func (s *Service) ListMessagesAs(ctx context.Context, userID, conversationID string, limit int64, cursor string) ([]*data.Message, string, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	if conv == nil {
		return nil, "", nil
	}
	if !conv.HasParticipant(normalize.UserID(userID)) {
		return nil, "", ErrNotParticipant
	}
	return s.ListMessages(ctx, conversationID, limit, cursor)
}

// ListConversations returns userID's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string, limit, skip int64) ([]*data.Conversation, error) {
	if skip < 0 {
		skip = 0
	}
	return s.conversations.ListConversations(ctx, userID, clampLimit(limit), skip)
}

// UpdateMessageStatus moves a message forward to status and returns the
// message as stored afterwards. Asking for the status the message already has
// is a no-op; asking for an earlier one is ErrStatusRegression.
func (s *Service) UpdateMessageStatus(ctx context.Context, messageID string, status data.MessageStatus) (*data.Message, error) {
	return s.updateStatus(ctx, "", messageID, status)
}

// UpdateMessageStatusAs is UpdateMessageStatus restricted to the message's
// recipient.
func (s *Service) UpdateMessageStatusAs(ctx context.Context, userID, messageID string, status data.MessageStatus) (*data.Message, error) {
	userID = normalize.UserID(userID)
	if userID == "" {
		return nil, ErrNotParticipant
	}
	return s.updateStatus(ctx, userID, messageID, status)
}

func (s *Service) updateStatus(ctx context.Context, actor, messageID string, status data.MessageStatus) (*data.Message, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, status)
	}

	if actor != "" {
		msg, err := s.messages.GetMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, ErrMessageNotFound
		}
		if msg.RecipientID != actor {
			return nil, ErrNotParticipant
		}
	}

	changed, err := s.messages.UpdateMessageStatus(ctx, messageID, status)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if !changed && status.Before(msg.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, msg.Status, status)
	}
	return msg, nil
}

// GetConversation returns a conversation or nil when it does not exist.
func (s *Service) GetConversation(ctx context.Context, id string) (*data.Conversation, error) {
	return s.conversations.GetConversation(ctx, id)
}

func clampLimit(limit int64) int64 {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
