package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypePost  MessageType = "post" // shared post reference
	TypeReel  MessageType = "reel" // shared reel reference
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypePost, TypeReel:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. Statuses only move
// forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// rank orders statuses; unknown statuses rank 0.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool { return s.rank() > 0 }

// Before reports whether s is strictly earlier than other.
func (s MessageStatus) Before(other MessageStatus) bool {
	return s.rank() < other.rank()
}

// Predecessors returns every status strictly earlier than s. A message in one
// of these states may be advanced to s. The result is never nil, so it always
// encodes as a BSON array.
func (s MessageStatus) Predecessors() []MessageStatus {
	out := []MessageStatus{}
	for _, p := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if p.Before(s) {
			out = append(out, p)
		}
	}
	return out
}

// Message maps to the messages collection.
type Message struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID bson.ObjectID `bson:"conversation_id"`
	SenderID       string        `bson:"sender_id"`
	RecipientID    string        `bson:"recipient_id"`
	Type           MessageType   `bson:"type"`
	Text           *string       `bson:"text"`          // null when absent
	ImageURL       *string       `bson:"image_url"`     // null when absent
	SharedRefID    *string       `bson:"shared_ref_id"` // post/reel id for share messages
	Status         MessageStatus `bson:"status"`
	CreatedAt      time.Time     `bson:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at"`
}

// Conversation maps to the conversations collection. UserAID and UserBID are
// always stored in canonical order (see normalize.Pair).
type Conversation struct {
	ID                 bson.ObjectID `bson:"_id,omitempty"`
	UserAID            string        `bson:"user_a_id"`
	UserBID            string        `bson:"user_b_id"`
	LastMessageAt      time.Time     `bson:"last_message_at"`
	LastMessagePreview *string       `bson:"last_message_preview"`
	CreatedAt          time.Time     `bson:"created_at"`
	UpdatedAt          time.Time     `bson:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Now returns the current time truncated to the millisecond precision that
// BSON datetimes keep, in UTC.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
