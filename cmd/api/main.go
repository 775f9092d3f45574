package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/auth"
	"github.com/PaulBabatuyi/realtime-messaging/internal/config"
	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/db"
	"github.com/PaulBabatuyi/realtime-messaging/internal/health"
	"github.com/PaulBabatuyi/realtime-messaging/internal/messaging"
	"github.com/PaulBabatuyi/realtime-messaging/internal/middleware"
	"github.com/PaulBabatuyi/realtime-messaging/internal/notify"
	"github.com/PaulBabatuyi/realtime-messaging/internal/presence"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// tokenTTL is only used when this process signs tokens (tests, local tools);
// production tokens come from the auth service.
const tokenTTL = 24 * time.Hour

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func newJWTManager(cfg *config.Config) *auth.JWTManager {
	opts := []auth.Option{auth.WithIssuer(cfg.JWT.Issuer), auth.WithAudience(cfg.JWT.Audience)}
	if len(cfg.JWT.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.JWT.Keys, cfg.JWT.ActiveKID, tokenTTL, opts...)
	}
	return auth.NewJWTManager(cfg.JWT.Secret, tokenTTL, opts...)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Durable store
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dbClient.Close(closeCtx)
	}()
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	msgsStore := data.NewMessagesStore(dbClient.MessagesCollection())
	convStore := data.NewConversationsStore(dbClient.ConversationsCollection())

	// Presence
	rdb, err := presence.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	registry := presence.New(rdb)

	// Offline notifications
	var (
		notifier notify.Notifier = notify.Nop{}
		natsConn *nats.Conn
	)
	if cfg.NATS.URL != "" {
		natsConn, err = notify.Connect(cfg.NATS.URL, -1, 2*time.Second,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			return err
		}
		defer natsConn.Close()
		notifier = notify.NewNATSNotifier(natsConn, cfg.NATS.SubjectPrefix)
	} else {
		logger.Info("NATS_URL not set; offline notifications disabled")
	}

	svc := messaging.NewService(msgsStore, convStore, registry, notifier, logger.Named("messaging"))
	jwtMgr := newJWTManager(cfg)

	limiterStore := middleware.NewLimiterStore(cfg.RateLimit.RPM, cfg.RateLimit.Burst, time.Minute)
	defer limiterStore.Stop()
	limited := map[string]bool{
		v1.ChatService_SendMessage_FullMethodName: true,
	}

	var serverOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	// logging -> auth -> rate limit: the limiter keys on the authenticated user
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(logger.Named("rpc")),
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiterStore, limited, rateLimitKey),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)
	grpcServer := grpc.NewServer(serverOpts...)

	hub := NewConnectionHub(logger.Named("hub"))
	srv := newServer(svc, registry, hub, limiterStore, cfg.PresenceTTL, logger.Named("stream"))
	registerService(grpcServer, srv)

	// Health and metrics
	checker := &health.Checker{
		Mongo:       dbClient,
		Redis:       registry,
		Connections: hub.Count,
	}
	if natsConn != nil {
		checker.NATS = health.PingFunc(func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats: %s", natsConn.Status())
			}
			return nil
		})
	}
	httpServer := health.NewServer(checker, logger.Named("health"))

	listenAddr := ":" + cfg.Port
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", listenAddr), zap.Bool("tls", cfg.TLSEnabled()))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		logger.Info("health server listening", zap.String("addr", cfg.HealthAddr))
		if err := httpServer.Start(cfg.HealthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed; shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	// Live streams never end on their own; cancel them so GracefulStop can
	// finish. Streams accepted after this point are cancelled by Connect.
	hub.CloseAll(ErrShuttingDown)
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("graceful stop timed out; forcing")
		grpcServer.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", zap.Error(err))
	}
	if natsConn != nil {
		if err := natsConn.Drain(); err != nil {
			logger.Warn("nats drain", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return runErr
}
