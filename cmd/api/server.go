package main

import (
	"context"
	"time"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/messaging"
	"github.com/PaulBabatuyi/realtime-messaging/internal/middleware"
	"github.com/PaulBabatuyi/realtime-messaging/internal/presence"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// PresenceRegistry is the presence surface the handlers need. A connection
// owns its entry through a per-connection token.
type PresenceRegistry interface {
	SetOnline(ctx context.Context, userID, connectionToken string, ttl time.Duration) error
	Refresh(ctx context.Context, userID, connectionToken string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, userID, connectionToken string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

var _ PresenceRegistry = (*presence.Registry)(nil)

// Server implements the chat service.
type Server struct {
	v1.UnimplementedChatServiceServer

	svc         *messaging.Service
	presence    PresenceRegistry
	hub         *ConnectionHub
	limiter     *middleware.LimiterStore
	presenceTTL time.Duration
	logger      *zap.Logger
}

// newServer returns a ready-to-use Server. limiter may be nil to disable
// per-user send limits.
func newServer(svc *messaging.Service, reg PresenceRegistry, hub *ConnectionHub, limiter *middleware.LimiterStore, presenceTTL time.Duration, logger *zap.Logger) *Server {
	if presenceTTL <= 0 {
		presenceTTL = presence.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:         svc,
		presence:    reg,
		hub:         hub,
		limiter:     limiter,
		presenceTTL: presenceTTL,
		logger:      logger,
	}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	v1.RegisterChatServiceServer(s, srv)
}

// allowSend applies the per-user send limit shared by the stream and the
// unary SendMessage.
func (s *Server) allowSend(userID string) bool {
	return s.limiter == nil || s.limiter.Allow(userRateKey(userID))
}

func userRateKey(userID string) string {
	return "user:" + userID
}
