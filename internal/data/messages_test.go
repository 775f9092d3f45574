package data

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/PaulBabatuyi/realtime-messaging/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func setupDB(t *testing.T) *db.Client {
	t.Helper()
	// no env loader; require MONGODB_URI set externally for integration tests
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "chat_service_test_data")
	require.NoError(t, err)

	// ensure clean collections in case previous runs left data
	_ = c.MessagesCollection().Drop(ctx)
	_ = c.ConversationsCollection().Drop(ctx)
	require.NoError(t, c.CreateIndexes(ctx))

	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func strPtr(s string) *string { return &s }

func TestMessagesInsertAndGet(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection())
	convs := NewConversationsStore(c.ConversationsCollection())

	convID, err := convs.EnsureConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	oid, _ := parseID(convID)

	msg := &Message{ConversationID: oid, SenderID: "u1", RecipientID: "u2", Type: TypeText, Text: strPtr("hi")}
	id, err := msgs.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID.Hex())
	assert.Equal(t, StatusSent, msg.Status)

	items, next, err := msgs.ListMessages(ctx, convID, 1, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID.Hex())
	assert.Equal(t, StatusSent, items[0].Status)
	assert.Equal(t, "hi", *items[0].Text)
	assert.Nil(t, items[0].ImageURL)
	assert.Equal(t, id, next)

	got, err := msgs.GetMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u2", got.RecipientID)

	// reads on missing or malformed ids are empty, not errors
	missing, err := msgs.GetMessage(ctx, "ffffffffffffffffffffffff")
	require.NoError(t, err)
	assert.Nil(t, missing)
	missing, err = msgs.GetMessage(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessagesCursorPagination(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection())
	convs := NewConversationsStore(c.ConversationsCollection())

	convID, err := convs.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	oid, _ := parseID(convID)

	const n = 23
	inserted := map[string]bool{}
	for i := 0; i < n; i++ {
		id, err := msgs.InsertMessage(ctx, &Message{
			ConversationID: oid, SenderID: "alice", RecipientID: "bob",
			Type: TypeText, Text: strPtr(fmt.Sprintf("m%d", i)),
		})
		require.NoError(t, err)
		inserted[id] = true
	}

	seen := map[string]bool{}
	var prev string
	cursor := ""
	for pages := 0; pages < n+2; pages++ {
		items, next, err := msgs.ListMessages(ctx, convID, 5, cursor)
		require.NoError(t, err)
		for _, m := range items {
			id := m.ID.Hex()
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
			if prev != "" {
				assert.Less(t, id, prev, "ids must strictly decrease")
			}
			prev = id
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, inserted, seen)

	_, _, err = msgs.ListMessages(ctx, convID, 5, "not-an-id")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	items, next, err := msgs.ListMessages(ctx, "ffffffffffffffffffffffff", 5, "")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, next)
}

func TestMessagesStatusOnlyMovesForward(t *testing.T) {
	c := setupDB(t)
	ctx := context.Background()
	msgs := NewMessagesStore(c.MessagesCollection())

	id, err := msgs.InsertMessage(ctx, &Message{SenderID: "a", RecipientID: "b", Type: TypeImage, ImageURL: strPtr("http://x/y.png")})
	require.NoError(t, err)

	// sent -> sent is a no-op, not a server error
	ok, err := msgs.UpdateMessageStatus(ctx, id, StatusSent)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = msgs.UpdateMessageStatus(ctx, id, StatusRead)
	require.NoError(t, err)
	assert.True(t, ok)

	// read -> delivered is a regression and must not match
	ok, err = msgs.UpdateMessageStatus(ctx, id, StatusDelivered)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := msgs.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, got.Status)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	ok, err = msgs.UpdateMessageStatus(ctx, "ffffffffffffffffffffffff", StatusRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusFilter_EncodesArray(t *testing.T) {
	oid := bson.NewObjectID()
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		raw, err := bson.Marshal(statusFilter(oid, st))
		require.NoError(t, err)
		in := bson.Raw(raw).Lookup("status", "$in")
		assert.Equal(t, bson.TypeArray, in.Type, "status %s", st)
	}
}
