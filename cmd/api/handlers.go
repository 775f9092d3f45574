package main

import (
	"context"
	"errors"
	"strings"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/auth"
	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/messaging"
	"github.com/PaulBabatuyi/realtime-messaging/internal/protocol"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SendMessage stores a message from the authenticated user and pushes it to
// the recipient if they are connected.
func (s *Server) SendMessage(ctx context.Context, req *v1.SendMessageRequest) (*v1.Message, error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := s.svc.SendMessage(ctx, messaging.SendInput{
		SenderID:    userID,
		RecipientID: req.RecipientID,
		Type:        data.MessageType(req.Type),
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		SharedRefID: req.SharedRefID,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	out := v1.MessageFromData(msg)
	s.fanOut(msg.RecipientID, protocol.NewMessage(out), s.logger.With(zap.String("user_id", userID)))
	return out, nil
}

// ListMessages returns one page of a conversation the caller takes part in.
func (s *Server) ListMessages(ctx context.Context, req *v1.ListMessagesRequest) (*v1.ListMessagesResponse, error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	msgs, next, err := s.svc.ListMessagesAs(ctx, userID, req.ConversationID, req.Limit, req.Cursor)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &v1.ListMessagesResponse{Items: make([]*v1.Message, 0, len(msgs)), NextCursor: next}
	for _, m := range msgs {
		resp.Items = append(resp.Items, v1.MessageFromData(m))
	}
	return resp, nil
}

// ListConversations returns the caller's conversations, most recent first.
func (s *Server) ListConversations(ctx context.Context, req *v1.ListConversationsRequest) (*v1.ListConversationsResponse, error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	convs, err := s.svc.ListConversations(ctx, userID, req.Limit, req.Skip)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &v1.ListConversationsResponse{Items: make([]*v1.Conversation, 0, len(convs))}
	for _, c := range convs {
		resp.Items = append(resp.Items, v1.ConversationFromData(c))
	}
	return resp, nil
}

// UpdateMessageStatus lets a recipient mark a message delivered or read. The
// sender is told if connected.
func (s *Server) UpdateMessageStatus(ctx context.Context, req *v1.UpdateMessageStatusRequest) (*v1.UpdateMessageStatusResponse, error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := s.svc.UpdateMessageStatusAs(ctx, userID, req.MessageID, data.MessageStatus(req.Status))
	if err != nil {
		return nil, toStatus(err)
	}

	s.fanOut(msg.SenderID, protocol.MessageStatus(msg.ID.Hex(), string(msg.Status)), s.logger.With(zap.String("user_id", userID)))
	return &v1.UpdateMessageStatusResponse{Message: v1.MessageFromData(msg)}, nil
}

// GetPresence reports whether a user is online anywhere in the cluster.
func (s *Server) GetPresence(ctx context.Context, req *v1.GetPresenceRequest) (*v1.GetPresenceResponse, error) {
	if _, err := userFromContext(ctx); err != nil {
		return nil, err
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		return nil, status.Errorf(codes.InvalidArgument, "user_id is required")
	}

	online, err := s.presence.IsOnline(ctx, target)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.GetPresenceResponse{UserID: target, Online: online}, nil
}

// fanOut pushes frame to userID's live connection, if any. Offline users and
// failed writes are logged, never returned.
func (s *Server) fanOut(userID string, frame v1.Frame, log *zap.Logger) bool {
	delivered, err := s.hub.SendToUser(userID, frame)
	switch {
	case err != nil:
		log.Warn("push failed; peer connection dropped", zap.String("peer_id", userID), zap.Error(err))
	case !delivered:
		log.Debug("peer offline; push dropped", zap.String("peer_id", userID))
	}
	return delivered
}

// toStatus maps domain errors to gRPC status errors. Unrecognised errors are
// Internal and their text is not exposed.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, messaging.ErrInvalidMessage),
		errors.Is(err, data.ErrInvalidCursor),
		errors.Is(err, data.ErrInvalidID):
		code = codes.InvalidArgument
	case errors.Is(err, messaging.ErrMessageNotFound), errors.Is(err, data.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, messaging.ErrStatusRegression):
		code = codes.FailedPrecondition
	case errors.Is(err, messaging.ErrNotParticipant):
		code = codes.PermissionDenied
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNoUserID):
		code = codes.Unauthenticated
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
