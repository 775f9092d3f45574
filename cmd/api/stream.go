package main

import (
	"context"
	"errors"
	"io"
	"time"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/data"
	"github.com/PaulBabatuyi/realtime-messaging/internal/messaging"
	"github.com/PaulBabatuyi/realtime-messaging/internal/metrics"
	"github.com/PaulBabatuyi/realtime-messaging/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const cleanupTimeout = 5 * time.Second

// ChatStream runs one live connection: it registers the user, processes
// inbound frames in order until the stream ends or the hub evicts it, and
// always deregisters on the way out.
func (s *Server) ChatStream(stream v1.ChatService_ChatStreamServer) error {
	userID, err := userFromContext(stream.Context())
	if err != nil {
		return err
	}
	token := uuid.NewString()

	ctx, cancel := context.WithCancelCause(stream.Context())
	defer cancel(nil)

	conn := s.hub.Connect(userID, stream, cancel)
	log := s.logger.With(zap.String("user_id", userID), zap.Int64("conn", conn.ID()))
	defer s.closeConnection(userID, conn, token, log)
	if ctx.Err() != nil {
		return endStatus(ctx)
	}

	if err := s.presence.SetOnline(ctx, userID, token, s.presenceTTL); err != nil {
		// the keep-alive retries; the connection itself is usable
		log.Error("set online failed", zap.Error(err))
	}
	log.Info("connection opened")

	frames := make(chan v1.Frame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- *f:
			case <-ctx.Done():
				return
			}
		}
	}()

	keepAlive := time.NewTicker(s.presenceTTL / 3)
	defer keepAlive.Stop()

	for {
		select {
		case f := <-frames:
			if err := s.handleFrame(ctx, userID, conn, f, log); err != nil {
				if ctx.Err() != nil {
					return endStatus(ctx)
				}
				log.Info("write to own connection failed", zap.Error(err))
				return status.Errorf(codes.Unavailable, "send failed: %v", err)
			}

		case err := <-recvErr:
			if errors.Is(err, io.EOF) {
				// the client half-closed; let frames already queued reach it
				flushCtx, cancelFlush := context.WithTimeout(ctx, cleanupTimeout)
				defer cancelFlush()
				if err := conn.flush(flushCtx); err != nil {
					log.Debug("pending frames dropped", zap.Error(err))
				}
				return nil
			}
			if status.Code(err) == codes.Canceled {
				return nil
			}
			log.Info("receive failed", zap.Error(err))
			return err

		case <-keepAlive.C:
			owned, err := s.presence.Refresh(ctx, userID, token, s.presenceTTL)
			if err != nil {
				log.Warn("presence refresh failed", zap.Error(err))
			} else if !owned {
				log.Debug("presence entry owned by another connection")
			}

		case <-ctx.Done():
			return endStatus(ctx)
		}
	}
}

// endStatus maps the reason a connection's context ended to its final status.
func endStatus(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrReplaced):
		return status.Error(codes.Aborted, "replaced by a newer connection")
	case errors.Is(cause, ErrWriteFailed):
		return status.Error(codes.Unavailable, cause.Error())
	case errors.Is(cause, ErrShuttingDown):
		return status.Error(codes.Unavailable, "server shutting down")
	}
	return status.FromContextError(ctx.Err()).Err()
}

// closeConnection is the single exit path of a connection. It never waits on
// the stream. Both registry steps are ownership-checked, so a connection that
// was replaced leaves its successor's registry entry and presence alone.
func (s *Server) closeConnection(userID string, conn *Conn, token string, log *zap.Logger) {
	deregistered := s.hub.Disconnect(userID, conn.ID())
	conn.close()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	released, err := s.presence.Release(ctx, userID, token)
	if err != nil {
		log.Error("presence release failed; entry will expire", zap.Error(err))
	}
	log.Info("connection closed", zap.Bool("deregistered", deregistered), zap.Bool("presence_released", released))
}

// handleFrame dispatches one inbound frame. A non-nil error means the
// connection's own stream can no longer be written.
func (s *Server) handleFrame(ctx context.Context, userID string, conn *Conn, frame v1.Frame, log *zap.Logger) error {
	ev := protocol.Decode(frame)
	metrics.Frames.WithLabelValues(ev.Name()).Inc()

	switch ev := ev.(type) {
	case protocol.SendMessage:
		return s.onSendMessage(ctx, userID, conn, ev, log)
	case protocol.Signal:
		s.relaySignal(ev, log)
		return nil
	case protocol.Unknown:
		return conn.write(ctx, protocol.Echo(ev.Raw))
	case protocol.Malformed:
		return conn.write(ctx, v1.Frame(ev.Raw))
	}
	return nil
}

func (s *Server) onSendMessage(ctx context.Context, userID string, conn *Conn, ev protocol.SendMessage, log *zap.Logger) error {
	if !s.allowSend(userID) {
		return conn.write(ctx, protocol.Error("rate limit exceeded"))
	}

	msg, err := s.svc.SendMessage(ctx, messaging.SendInput{
		SenderID:    userID,
		RecipientID: ev.RecipientID,
		Type:        data.MessageType(ev.Type),
		Text:        ev.Text,
		ImageURL:    ev.ImageURL,
		SharedRefID: ev.SharedRefID,
	})
	if err != nil {
		st := status.Convert(toStatus(err))
		if st.Code() == codes.Internal {
			log.Error("send_message failed", zap.Error(err))
		} else {
			log.Info("send_message rejected", zap.Error(err))
		}
		return conn.write(ctx, protocol.Error(st.Message()))
	}

	if err := conn.write(ctx, protocol.Ack(msg.ID.Hex())); err != nil {
		return err
	}
	s.fanOut(msg.RecipientID, protocol.NewMessage(v1.MessageFromData(msg)), log)
	return nil
}

func (s *Server) relaySignal(sig protocol.Signal, log *zap.Logger) {
	if sig.To == "" {
		log.Warn("signal without target dropped", zap.String("kind", string(sig.Kind)))
		return
	}
	metrics.SignalsRelayed.WithLabelValues(string(sig.Kind)).Inc()
	s.fanOut(sig.To, v1.Frame(sig.Raw), log)
}
