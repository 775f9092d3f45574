// Package memstore is an in-memory implementation of the message and
// conversation store contracts. It follows the Mongo stores' semantics
// (increasing ObjectIDs, id < cursor paging, canonical pairs, forward-only
// status) and is used where a database is not available, mainly tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store holds messages and conversations in memory. The zero value is not
// usable; call New.
type Store struct {
	mu            sync.Mutex
	messages      map[bson.ObjectID]*data.Message
	conversations map[bson.ObjectID]*data.Conversation
	pairs         map[[2]string]bson.ObjectID

	// FailConversationUpdate, when set, is returned by
	// UpdateConversationOnMessage to simulate a partial write failure.
	FailConversationUpdate error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages:      make(map[bson.ObjectID]*data.Message),
		conversations: make(map[bson.ObjectID]*data.Conversation),
		pairs:         make(map[[2]string]bson.ObjectID),
	}
}

// EnsureConversation implements the get-or-create of the conversation for a pair.
func (s *Store) EnsureConversation(_ context.Context, userA, userB string) (string, error) {
	a, b := normalize.Pair(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[[2]string{a, b}]; ok {
		return id.Hex(), nil
	}
	now := data.Now()
	conv := &data.Conversation{
		ID:            bson.NewObjectID(),
		UserAID:       a,
		UserBID:       b,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	s.pairs[[2]string{a, b}] = conv.ID
	return conv.ID.Hex(), nil
}

// UpdateConversationOnMessage stamps the conversation with now and preview.
func (s *Store) UpdateConversationOnMessage(_ context.Context, conversationID, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailConversationUpdate != nil {
		return s.FailConversationUpdate
	}
	oid, err := bson.ObjectIDFromHex(conversationID)
	if err != nil {
		return fmt.Errorf("conversation %q: %w", conversationID, data.ErrInvalidID)
	}
	conv, ok := s.conversations[oid]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, data.ErrNotFound)
	}
	now := data.Now()
	p := preview
	conv.LastMessageAt = now
	conv.LastMessagePreview = &p
	conv.UpdatedAt = now
	return nil
}

// ListConversations returns userID's conversations, most recent first.
func (s *Store) ListConversations(_ context.Context, userID string, limit, skip int64) ([]*data.Conversation, error) {
	userID = normalize.UserID(userID)

	s.mu.Lock()
	var out []*data.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			cp := *c
			out = append(out, &cp)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return page(out, limit, skip), nil
}

// GetConversation returns a copy of the conversation, or nil when missing.
func (s *Store) GetConversation(_ context.Context, id string) (*data.Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[oid]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// InsertMessage stores msg with status sent and a fresh id.
func (s *Store) InsertMessage(_ context.Context, msg *data.Message) (string, error) {
	now := data.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = bson.NewObjectID()
	msg.Status = data.StatusSent
	msg.CreatedAt = now
	msg.UpdatedAt = now
	cp := *msg
	s.messages[msg.ID] = &cp
	return msg.ID.Hex(), nil
}

// ListMessages pages a conversation newest-first by id.
func (s *Store) ListMessages(_ context.Context, conversationID string, limit int64, cursor string) ([]*data.Message, string, error) {
	convID, err := bson.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, "", nil
	}
	var before string
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return nil, "", data.ErrInvalidCursor
		}
		before = oid.Hex()
	}

	s.mu.Lock()
	var out []*data.Message
	for _, m := range s.messages {
		// hex of a 12-byte id sorts like the id itself
		if m.ConversationID != convID || (before != "" && m.ID.Hex() >= before) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() > out[j].ID.Hex() })
	out = page(out, limit, 0)
	if len(out) == 0 {
		return out, "", nil
	}
	return out, out[len(out)-1].ID.Hex(), nil
}

// GetMessage returns a copy of the message, or nil when missing.
func (s *Store) GetMessage(_ context.Context, id string) (*data.Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[oid]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// UpdateMessageStatus advances a message's status; it never moves it back.
func (s *Store) UpdateMessageStatus(_ context.Context, id string, status data.MessageStatus) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[oid]
	if !ok || !m.Status.Before(status) {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = data.Now()
	return true, nil
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func page[T any](items []T, limit, skip int64) []T {
	if skip > 0 {
		if skip >= int64(len(items)) {
			return nil
		}
		items = items[skip:]
	}
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}
