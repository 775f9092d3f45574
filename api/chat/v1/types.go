package v1

import (
	"time"

	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
)

// Message is the wire form of a stored message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Type           string    `json:"type"`
	Text           *string   `json:"text"`
	ImageURL       *string   `json:"image_url"`
	SharedRefID    *string   `json:"shared_ref_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Conversation is the wire form of a conversation summary.
type Conversation struct {
	ID                 string    `json:"id"`
	UserAID            string    `json:"user_a_id"`
	UserBID            string    `json:"user_b_id"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessagePreview *string   `json:"last_message_preview"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func MessageFromData(m *data.Message) *Message {
	return &Message{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID.Hex(),
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Type:           string(m.Type),
		Text:           m.Text,
		ImageURL:       m.ImageURL,
		SharedRefID:    m.SharedRefID,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func ConversationFromData(c *data.Conversation) *Conversation {
	return &Conversation{
		ID:                 c.ID.Hex(),
		UserAID:            c.UserAID,
		UserBID:            c.UserBID,
		LastMessageAt:      c.LastMessageAt,
		LastMessagePreview: c.LastMessagePreview,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type SendMessageRequest struct {
	RecipientID string  `json:"recipient_id"`
	Type        string  `json:"type,omitempty"`
	Text        *string `json:"text,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	SharedRefID *string `json:"shared_ref_id,omitempty"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int64  `json:"limit,omitempty"`
	Cursor         string `json:"cursor,omitempty"`
}

// ListMessagesResponse carries one page, newest first. NextCursor is empty
// only when Items is empty.
type ListMessagesResponse struct {
	Items      []*Message `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type ListConversationsRequest struct {
	Limit int64 `json:"limit,omitempty"`
	Skip  int64 `json:"skip,omitempty"`
}

type ListConversationsResponse struct {
	Items []*Conversation `json:"items"`
}

type UpdateMessageStatusRequest struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type UpdateMessageStatusResponse struct {
	Message *Message `json:"message"`
}

type GetPresenceRequest struct {
	UserID string `json:"user_id"`
}

type GetPresenceResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
