package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/auth"
	"github.com/PaulBabatuyi/realtime-messaging/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// startBufconn serves the full interceptor chain over an in-memory listener.
func startBufconn(t *testing.T) (v1.ChatServiceClient, *Server, *auth.JWTManager) {
	t.Helper()
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour, auth.WithIssuer("auth-service"), auth.WithAudience("chat-service"))
	limiter := middleware.NewLimiterStore(600, 100, time.Minute)
	t.Cleanup(limiter.Stop)

	srv, _ := newTestServer(t, limiter)
	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(zaptest.NewLogger(t)),
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, map[string]bool{v1.ChatService_SendMessage_FullMethodName: true}, rateLimitKey),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)
	registerService(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(func() {
		srv.hub.CloseAll(ErrShuttingDown)
		s.GracefulStop()
	})

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return v1.NewChatServiceClient(conn), srv, jwtMgr
}

func withToken(t *testing.T, j *auth.JWTManager, user string) context.Context {
	t.Helper()
	tok, _, err := j.GenerateToken(user)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func recvFrame(t *testing.T, stream v1.ChatService_ChatStreamClient) (v1.Frame, wireFrame) {
	t.Helper()
	f, err := stream.Recv()
	require.NoError(t, err)
	var wf wireFrame
	_ = json.Unmarshal(*f, &wf)
	return *f, wf
}

func TestEndToEnd_StreamAndUnary(t *testing.T) {
	client, srv, jwtMgr := startBufconn(t)

	bobCtx := withToken(t, jwtMgr, "bob")
	bobStream, err := client.ChatStream(bobCtx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.hub.Connected("bob") }, 2*time.Second, 5*time.Millisecond)

	// unary send reaches bob's live stream
	aliceCtx := withToken(t, jwtMgr, "alice")
	msg, err := client.SendMessage(aliceCtx, &v1.SendMessageRequest{RecipientID: "bob", Text: strPtr("hi bob")})
	require.NoError(t, err)
	_, f := recvFrame(t, bobStream)
	assert.Equal(t, "new_message", f.Event)

	// stream send from alice is acked and pushed
	aliceStream, err := client.ChatStream(aliceCtx)
	require.NoError(t, err)
	require.NoError(t, aliceStream.Send(&v1.Frame{}))
	raw, _ := recvFrame(t, aliceStream)
	assert.Empty(t, raw, "empty frame echoed unchanged")

	frame := v1.Frame(`{"event":"send_message","data":{"recipient_id":"bob","text":"again"}}`)
	require.NoError(t, aliceStream.Send(&frame))
	_, ack := recvFrame(t, aliceStream)
	assert.Equal(t, "message_ack", ack.Event)
	_, f = recvFrame(t, bobStream)
	assert.Equal(t, "new_message", f.Event)

	// signaling passes through untouched
	offer := v1.Frame(`{"event":"offer","to":"alice","sdp":"v=0"}`)
	require.NoError(t, bobStream.Send(&offer))
	raw, _ = recvFrame(t, aliceStream)
	assert.Equal(t, string(offer), string(raw))

	presence, err := client.GetPresence(aliceCtx, &v1.GetPresenceRequest{UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, presence.Online)

	page, err := client.ListMessages(bobCtx, &v1.ListMessagesRequest{ConversationID: msg.ConversationID})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "again", *page.Items[0].Text)

	convs, err := client.ListConversations(aliceCtx, &v1.ListConversationsRequest{})
	require.NoError(t, err)
	require.Len(t, convs.Items, 1)
	assert.Equal(t, "again", *convs.Items[0].LastMessagePreview)

	require.NoError(t, bobStream.CloseSend())
	_, err = bobStream.Recv()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return !srv.hub.Connected("bob") }, 2*time.Second, 5*time.Millisecond)
}

func TestEndToEnd_RequiresAuth(t *testing.T) {
	client, _, _ := startBufconn(t)
	ctx := context.Background()

	_, err := client.ListConversations(ctx, &v1.ListConversationsRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	_, err = client.GetPresence(bad, &v1.GetPresenceRequest{UserID: "x"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	stream, err := client.ChatStream(ctx)
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
