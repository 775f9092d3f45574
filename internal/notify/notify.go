// Package notify hands messages for offline recipients to the push
// notification service over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
// The full subject is {prefix}.{recipientId}.
const DefaultSubjectPrefix = "chat.offline"

// OfflineMessage is published when a message is stored for a recipient that
// holds no live connection.
type OfflineMessage struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Type           string    `json:"type"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notifier delivers offline notifications.
type Notifier interface {
	NotifyOffline(ctx context.Context, msg OfflineMessage) error
}

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes OfflineMessage events as JSON.
type NATSNotifier struct {
	pub    Publisher
	prefix string
}

// NewNATSNotifier returns a notifier publishing under prefix.
func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix}
}

// Subject returns the subject an event for recipientID is published on.
func (n *NATSNotifier) Subject(recipientID string) string {
	return n.prefix + "." + recipientID
}

// NotifyOffline publishes msg. Publish is fire-and-forget on the NATS side;
// an error here means the connection is closed or the payload was rejected.
func (n *NATSNotifier) NotifyOffline(_ context.Context, msg OfflineMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal offline message: %w", err)
	}
	if err := n.pub.Publish(n.Subject(msg.RecipientID), payload); err != nil {
		return fmt.Errorf("publish offline message %s: %w", msg.MessageID, err)
	}
	return nil
}

// Nop drops every notification. It is used when no NATS URL is configured.
type Nop struct{}

// NotifyOffline implements Notifier.
func (Nop) NotifyOffline(context.Context, OfflineMessage) error { return nil }

// Connect opens a NATS connection with reconnects enabled.
func Connect(url string, maxReconnects int, reconnectWait time.Duration, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name("chat-messaging"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
	}
	conn, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
