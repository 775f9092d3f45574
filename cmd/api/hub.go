package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	v1 "github.com/PaulBabatuyi/realtime-messaging/api/chat/v1"
	"github.com/PaulBabatuyi/realtime-messaging/internal/metrics"

	"go.uber.org/zap"
)

// outboundQueueSize bounds the frames waiting for a connection's writer.
const outboundQueueSize = 256

var (
	// ErrReplaced cancels a connection when the same user connects again.
	ErrReplaced = errors.New("connection replaced by a newer connection")
	// ErrWriteFailed cancels a connection whose stream rejected a push or
	// whose outbound queue overflowed.
	ErrWriteFailed = errors.New("connection write failed")
	// ErrShuttingDown cancels every connection on server shutdown.
	ErrShuttingDown = errors.New("server shutting down")
	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the peer is not draining its
	// outbound queue.
	ErrQueueFull = errors.New("outbound queue full")
)

// StreamSender defines the minimal interface the hub needs from a stream.
type StreamSender interface {
	Send(*v1.Frame) error
}

// Conn is one registered connection. Frames are queued and written by a
// single writer goroutine, the only code that touches the stream.
type Conn struct {
	id     int64
	userID string
	hub    *ConnectionHub
	cancel context.CancelCauseFunc
	sender StreamSender

	writeCh   chan outbound
	closeCh   chan struct{}
	closeOnce sync.Once
}

// outbound is one queued frame, or a flush marker when flushed is set.
type outbound struct {
	frame   v1.Frame
	flushed chan struct{}
}

// ID is the connection's generation; it increases with every Connect.
func (c *Conn) ID() int64 { return c.id }

// Send queues a frame without waiting. A full queue is ErrQueueFull.
func (c *Conn) Send(f v1.Frame) error {
	select {
	case <-c.closeCh:
		return ErrConnClosed
	default:
	}
	select {
	case c.writeCh <- outbound{frame: f}:
		return nil
	default:
		return ErrQueueFull
	}
}

// write queues a frame from the connection's own handler, waiting for room.
func (c *Conn) write(ctx context.Context, f v1.Frame) error {
	return c.enqueue(ctx, outbound{frame: f})
}

// flush waits until every frame queued before the call has been written.
func (c *Conn) flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, outbound{flushed: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.closeCh:
		return ErrConnClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (c *Conn) enqueue(ctx context.Context, o outbound) error {
	select {
	case c.writeCh <- o:
		return nil
	case <-c.closeCh:
		return ErrConnClosed
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case o := <-c.writeCh:
			if o.flushed != nil {
				close(o.flushed)
				continue
			}
			if err := c.sender.Send(&o.frame); err != nil {
				select {
				case <-c.closeCh:
				default:
					c.hub.evict(c, err)
				}
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// close stops the writer. Frames still queued are dropped.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// ConnectionHub maps each user to their single live connection.
type ConnectionHub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	nextID  int64
	closing error
	logger  *zap.Logger
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub(logger *zap.Logger) *ConnectionHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionHub{conns: make(map[string]*Conn), logger: logger}
}

// Connect registers s as userID's connection and starts its writer. A
// connection the user already had is cancelled with ErrReplaced; its handler
// then unwinds on its own. cancel is invoked, with a cause, when the hub wants
// the connection gone. After CloseAll the new connection is cancelled at once
// and never registered.
func (h *ConnectionHub) Connect(userID string, s StreamSender, cancel context.CancelCauseFunc) *Conn {
	h.mu.Lock()
	h.nextID++
	c := &Conn{
		id:      h.nextID,
		userID:  userID,
		hub:     h,
		cancel:  cancel,
		sender:  s,
		writeCh: make(chan outbound, outboundQueueSize),
		closeCh: make(chan struct{}),
	}
	if h.closing != nil {
		cause := h.closing
		h.mu.Unlock()
		cancel(cause)
		return c
	}
	old := h.conns[userID]
	h.conns[userID] = c
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	h.mu.Unlock()

	go c.writeLoop()

	if old != nil {
		h.logger.Info("replacing connection",
			zap.String("user_id", userID), zap.Int64("old_conn", old.id), zap.Int64("new_conn", c.id))
		old.cancel(ErrReplaced)
	}
	return c
}

// Disconnect removes userID's entry if it is still generation id. It reports
// whether it removed anything; a connection that was already replaced leaves
// its successor in place.
func (h *ConnectionHub) Disconnect(userID string, id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[userID]
	if !ok || c.id != id {
		return false
	}
	delete(h.conns, userID)
	metrics.ActiveConnections.Set(float64(len(h.conns)))
	return true
}

// evict deregisters c and cancels it with ErrWriteFailed.
func (h *ConnectionHub) evict(c *Conn, err error) {
	metrics.Fanout.WithLabelValues("failed").Inc()
	h.Disconnect(c.userID, c.id)
	c.cancel(fmt.Errorf("%w: %v", ErrWriteFailed, err))
}

// SendToUser queues frame on userID's connection without blocking. An
// offline user is not an error: delivered is false and err nil. A connection
// that is closed or not draining its queue is deregistered and cancelled, and
// the error is returned.
func (h *ConnectionHub) SendToUser(userID string, frame v1.Frame) (delivered bool, err error) {
	h.mu.RLock()
	c, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		metrics.Fanout.WithLabelValues("offline").Inc()
		return false, nil
	}
	if err := c.Send(frame); err != nil {
		h.evict(c, err)
		return false, err
	}
	metrics.Fanout.WithLabelValues("delivered").Inc()
	return true, nil
}

// Connected reports whether userID has a registered connection.
func (h *ConnectionHub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Count returns the number of registered connections.
func (h *ConnectionHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll cancels every connection with cause and makes later Connect calls
// fail the same way. Each handler runs its own cleanup.
func (h *ConnectionHub) CloseAll(cause error) {
	h.mu.Lock()
	h.closing = cause
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.cancel(cause)
	}
}
