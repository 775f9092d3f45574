package data

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is the "messages" collection; ids are ObjectIDs so that id order
	// follows insertion order closely enough for cursor pagination.
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// InsertMessage appends msg with status "sent" and fresh timestamps, sets its
// generated id and returns the id in hex form. Optional content fields are
// stored as null when absent.
func (m *MessagesStore) InsertMessage(ctx context.Context, msg *Message) (string, error) {
	now := Now()
	msg.ID = bson.ObjectID{} // let the driver issue a fresh, increasing id
	msg.Status = StatusSent
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg.ID.Hex(), nil
}

// ListMessages returns up to limit messages of a conversation, newest first by
// id. When cursor is non-empty only messages with id < cursor are returned.
// The returned next cursor is the id of the last item, or "" for an empty page.
// An unknown or malformed conversation id yields an empty page.
func (m *MessagesStore) ListMessages(ctx context.Context, conversationID string, limit int64, cursor string) ([]*Message, string, error) {
	convID, ok := parseID(conversationID)
	if !ok {
		return nil, "", nil
	}

	filter := bson.D{{Key: "conversation_id", Value: convID}}
	if cursor != "" {
		before, ok := parseID(cursor)
		if !ok {
			return nil, "", ErrInvalidCursor
		}
		// strictly older than the last item already seen
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$lt", Value: before}}})
	}

	// served by the (conversation_id, _id desc) index
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var messages []*Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, "", fmt.Errorf("decode messages: %w", err)
	}

	return messages, nextCursor(messages), nil
}

// GetMessage finds a message by id. A missing message is (nil, nil).
func (m *MessagesStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	oid, ok := parseID(id)
	if !ok {
		return nil, nil
	}

	var msg Message
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	return &msg, nil
}

// UpdateMessageStatus moves a message to status and refreshes updated_at, but
// only when its current status is strictly earlier. It reports whether the
// document was changed; false means the message is missing or already at (or
// past) status, and callers tell those apart with GetMessage.
func (m *MessagesStore) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus) (bool, error) {
	oid, ok := parseID(id)
	if !ok {
		return false, nil
	}
	// nothing precedes the first status, so no document can move to it
	if len(status.Predecessors()) == 0 {
		return false, nil
	}

	filter := statusFilter(oid, status)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: Now()},
	}}}

	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("update message %s status: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}

// statusFilter matches the message only while its status is earlier than
// status, which makes the forward-only rule atomic on the server.
func statusFilter(oid bson.ObjectID, status MessageStatus) bson.D {
	return bson.D{
		{Key: "_id", Value: oid},
		{Key: "status", Value: bson.D{{Key: "$in", Value: status.Predecessors()}}},
	}
}

func nextCursor(messages []*Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].ID.Hex()
}
