package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/data/memstore"
	"github.com/PaulBabatuyi/realtime-messaging/internal/notify"
	"github.com/PaulBabatuyi/realtime-messaging/internal/presence"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.OfflineMessage
	err  error
}

func (n *recordingNotifier) NotifyOffline(_ context.Context, msg notify.OfflineMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	svc      *Service
	store    *memstore.Store
	presence *presence.Registry
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memstore.New()
	reg := presence.New(rdb)
	n := &recordingNotifier{}
	return &fixture{
		svc:      NewService(store, store, reg, n, zaptest.NewLogger(t)),
		store:    store,
		presence: reg,
		notifier: n,
	}
}

func strPtr(s string) *string { return &s }

func TestSendMessage_PersistsAndSummarises(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u2", RecipientID: "u1", Text: strPtr("hi")})
	require.NoError(t, err)
	assert.False(t, msg.ID.IsZero())
	assert.Equal(t, data.TypeText, msg.Type)
	assert.Equal(t, data.StatusSent, msg.Status)

	conv, err := f.svc.GetConversation(ctx, msg.ConversationID.Hex())
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "u1", conv.UserAID)
	assert.Equal(t, "u2", conv.UserBID)
	require.NotNil(t, conv.LastMessagePreview)
	assert.Equal(t, "hi", *conv.LastMessagePreview)

	// The reverse direction lands in the same conversation.
	reply, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u2", ImageURL: strPtr("https://x/img.png"), Type: data.TypeImage})
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, reply.ConversationID)

	conv, err = f.svc.GetConversation(ctx, msg.ConversationID.Hex())
	require.NoError(t, err)
	assert.Equal(t, ImagePreview, *conv.LastMessagePreview)
	imageAt := conv.LastMessageAt

	// A text after the image replaces the image preview.
	text, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u2", RecipientID: "u1", Text: strPtr("nice pic")})
	require.NoError(t, err)
	assert.Equal(t, msg.ConversationID, text.ConversationID)

	conv, err = f.svc.GetConversation(ctx, msg.ConversationID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "nice pic", *conv.LastMessagePreview)
	assert.False(t, conv.LastMessageAt.Before(imageAt))
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
	}{
		{"no content", SendInput{SenderID: "u1", RecipientID: "u2"}},
		{"empty content", SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("")}},
		{"unknown type", SendInput{SenderID: "u1", RecipientID: "u2", Type: "video", Text: strPtr("x")}},
		{"missing recipient", SendInput{SenderID: "u1", RecipientID: "  ", Text: strPtr("x")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(ctx, tc.in)
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
	assert.Zero(t, f.store.MessageCount())
}

func TestSendMessage_SelfConversation(t *testing.T) {
	f := newFixture(t)
	msg, err := f.svc.SendMessage(context.Background(), SendInput{SenderID: "u1", RecipientID: "u1", Text: strPtr("note to self")})
	require.NoError(t, err)

	conv, err := f.svc.GetConversation(context.Background(), msg.ConversationID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "u1", conv.UserAID)
	assert.Equal(t, "u1", conv.UserBID)
}

func TestSendMessage_SummaryFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.store.FailConversationUpdate = errors.New("write conflict")

	msg, err := f.svc.SendMessage(context.Background(), SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("hello")})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.MessageCount())

	conv, err := f.svc.GetConversation(context.Background(), msg.ConversationID.Hex())
	require.NoError(t, err)
	assert.Nil(t, conv.LastMessagePreview)
}

func TestSendMessage_OfflineNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("are you there")})
	require.NoError(t, err)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "u2", f.notifier.sent[0].RecipientID)
	assert.Equal(t, "are you there", f.notifier.sent[0].Preview)

	require.NoError(t, f.presence.SetOnline(ctx, "u2", "tok", time.Minute))
	_, err = f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("again")})
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.count(), "online recipients are not notified")

	f.notifier.err = errors.New("nats down")
	_, err = f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u3", Text: strPtr("x")})
	assert.NoError(t, err, "notification failures do not fail the send")
}

func TestListMessages_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var convID string
	for i := 0; i < 7; i++ {
		m, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("m")})
		require.NoError(t, err)
		convID = m.ConversationID.Hex()
	}

	var seen []string
	cursor := ""
	for {
		page, next, err := f.svc.ListMessagesAs(ctx, "u2", convID, 3, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			assert.Empty(t, next)
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		for _, m := range page {
			seen = append(seen, m.ID.Hex())
		}
		cursor = next
	}
	require.Len(t, seen, 7)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i], "newest first")
	}

	_, _, err := f.svc.ListMessagesAs(ctx, "u3", convID, 3, "")
	assert.ErrorIs(t, err, ErrNotParticipant)

	page, _, err := f.svc.ListMessagesAs(ctx, "u1", "000000000000000000000000", 3, "")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestListConversations_ClampsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, peer := range []string{"a", "b", "c"} {
		_, err := f.svc.SendMessage(ctx, SendInput{SenderID: "me", RecipientID: peer, Text: strPtr("hi " + peer)})
		require.NoError(t, err)
	}

	convs, err := f.svc.ListConversations(ctx, "me", 0, -4)
	require.NoError(t, err)
	require.Len(t, convs, 3)
	assert.Equal(t, "hi c", *convs[0].LastMessagePreview)

	convs, err = f.svc.ListConversations(ctx, "me", 1, 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "hi b", *convs[0].LastMessagePreview)

	assert.Equal(t, DefaultLimit, clampLimit(-1))
	assert.Equal(t, MaxLimit, clampLimit(1000))
	assert.Equal(t, int64(7), clampLimit(7))
}

func TestUpdateMessageStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.svc.SendMessage(ctx, SendInput{SenderID: "u1", RecipientID: "u2", Text: strPtr("x")})
	require.NoError(t, err)
	id := msg.ID.Hex()

	got, err := f.svc.UpdateMessageStatusAs(ctx, "u2", id, data.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, data.StatusDelivered, got.Status)

	got, err = f.svc.UpdateMessageStatus(ctx, id, data.StatusDelivered)
	require.NoError(t, err, "same status is a no-op")
	assert.Equal(t, data.StatusDelivered, got.Status)

	_, err = f.svc.UpdateMessageStatus(ctx, id, data.StatusSent)
	assert.ErrorIs(t, err, ErrStatusRegression)

	_, err = f.svc.UpdateMessageStatusAs(ctx, "u1", id, data.StatusRead)
	assert.ErrorIs(t, err, ErrNotParticipant, "only the recipient acknowledges")

	_, err = f.svc.UpdateMessageStatus(ctx, id, "seen")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.svc.UpdateMessageStatus(ctx, "000000000000000000000000", data.StatusRead)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := Preview(&data.Message{Text: &long})
	assert.Equal(t, maxPreviewRunes, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	assert.Equal(t, "short", Preview(&data.Message{Text: strPtr("short")}))
	assert.Equal(t, ImagePreview, Preview(&data.Message{ImageURL: strPtr("u")}))
	assert.Equal(t, SharedPreview, Preview(&data.Message{SharedRefID: strPtr("p1")}))
}
