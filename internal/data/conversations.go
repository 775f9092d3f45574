package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/realtime-messaging/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations.
type ConversationsStore struct {
	// coll is the "conversations" collection. A unique index on
	// (user_a_id, user_b_id) keeps one document per participant pair.
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// EnsureConversation returns the id of the conversation between userA and
// userB, creating it when absent. Argument order does not matter.
//
// Concurrent callers for the same pair may both miss the lookup and race on
// the insert; the unique index lets exactly one win and the loser re-reads
// the winner's document.
func (c *ConversationsStore) EnsureConversation(ctx context.Context, userA, userB string) (string, error) {
	a, b := normalize.Pair(userA, userB)
	filter := bson.D{{Key: "user_a_id", Value: a}, {Key: "user_b_id", Value: b}}

	id, err := c.findID(ctx, filter)
	if err != nil || id != "" {
		return id, err
	}

	now := Now()
	result, err := c.coll.InsertOne(ctx, &Conversation{
		UserAID:       a,
		UserBID:       b,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("insert conversation: %w", err)
		}
		// lost the race: the other insert is committed, read it back
		id, err := c.findID(ctx, filter)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("conversation %s/%s: %w", a, b, ErrDuplicate)
		}
		return id, nil
	}

	return result.InsertedID.(bson.ObjectID).Hex(), nil
}

func (c *ConversationsStore) findID(ctx context.Context, filter bson.D) (string, error) {
	var doc struct {
		ID bson.ObjectID `bson:"_id"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})

	err := c.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	return doc.ID.Hex(), nil
}

// UpdateConversationOnMessage stamps last_message_at with the current time and
// replaces the preview.
func (c *ConversationsStore) UpdateConversationOnMessage(ctx context.Context, conversationID, preview string) error {
	oid, ok := parseID(conversationID)
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrInvalidID)
	}

	now := Now()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "last_message_at", Value: now},
		{Key: "last_message_preview", Value: preview},
		{Key: "updated_at", Value: now},
	}}}

	res, err := c.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, update)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", conversationID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return nil
}

// ListConversations returns the conversations userID takes part in, most
// recently active first, skipping the first skip results.
func (c *ConversationsStore) ListConversations(ctx context.Context, userID string, limit, skip int64) ([]*Conversation, error) {
	userID = normalize.UserID(userID)
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "user_a_id", Value: userID}},
		bson.D{{Key: "user_b_id", Value: userID}},
	}}}

	// _id breaks ties between equal timestamps so offsets stay stable
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cur.Close(ctx)

	var conversations []*Conversation
	if err := cur.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return conversations, nil
}

// GetConversation finds a conversation by id. A missing conversation is
// (nil, nil).
func (c *ConversationsStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	oid, ok := parseID(id)
	if !ok {
		return nil, nil
	}

	var conv Conversation
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation %s: %w", id, err)
	}
	return &conv, nil
}
