package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/open-same/collab-hub/internal/model"
	"github.com/open-same/collab-hub/pkg/metrics"
)

// Transport is the duplex frame stream a Connection adapts.
// *websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// State is the lifecycle stage of a Connection.
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateJoiningRoom
	StateInRoom
	StateUnregistering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateJoiningRoom:
		return "joining_room"
	case StateInRoom:
		return "in_room"
	case StateUnregistering:
		return "unregistering"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection adapts one client stream to the hub protocol.
type Connection struct {
	id        string
	identity  model.Identity
	hub       *Hub
	transport Transport
	cfg       Config
	log       *slog.Logger
	limiter   *rate.Limiter

	// outbound queue; closed only through close() under mu
	send   chan []byte
	mu     sync.Mutex
	closed bool

	state        atomic.Int32
	teardownOnce sync.Once
	closeOnce    sync.Once
}

// NewConnection creates a Connection bound to hub. It is not registered
// until Run is called.
func NewConnection(hub *Hub, transport Transport, identity model.Identity) *Connection {
	id := uuid.New().String()
	c := &Connection{
		id:        id,
		identity:  identity,
		hub:       hub,
		transport: transport,
		cfg:       hub.cfg,
		log:       hub.log.With("conn_id", id, "user_id", identity.UserID),
		send:      make(chan []byte, hub.cfg.SendBufferSize),
	}
	if hub.cfg.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(hub.cfg.MessageRate), hub.cfg.MessageBurst)
	}
	return c
}

// ID returns the opaque connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the id of the user owning this connection.
func (c *Connection) UserID() string { return c.identity.UserID }

// Username returns the display name of the user owning this connection.
func (c *Connection) Username() string { return c.identity.Username }

// Identity returns the identity supplied at accept time.
func (c *Connection) Identity() model.Identity { return c.identity }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// SendChan returns the outbound queue.
func (c *Connection) SendChan() <-chan []byte { return c.send }

// enqueue adds data to the outbound queue without blocking. It reports
// false when the queue is full or already closed.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the outbound queue so the write pump can finish.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true once the outbound queue has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Run registers the connection and serves it until the stream ends.
// It returns only after both pumps have exited.
func (c *Connection) Run(ctx context.Context) {
	c.hub.Register(c)
	if c.State() != StateRegistered {
		// hub is shutting down
		c.closeTransport()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(ctx)
	<-writerDone
}

// teardown is the single exit path for both pumps: it unregisters the
// connection and closes the transport, unblocking whichever pump remains.
func (c *Connection) teardown() {
	c.teardownOnce.Do(func() {
		c.hub.Unregister(c)
		c.close()
		c.closeTransport()
	})
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if c.transport != nil {
			_ = c.transport.Close()
		}
	})
}

// readPump pumps frames from the transport to the hub.
func (c *Connection) readPump(ctx context.Context) {
	defer c.teardown()

	c.transport.SetReadLimit(c.cfg.MaxMessageSize)
	c.transport.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.transport.SetPongHandler(func(string) error {
		c.transport.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("conn.read_error", "err", err)
			}
			break
		}

		msg, err := decodeMessage(frame)
		if err != nil {
			c.log.Warn("conn.decode_failed", "err", err)
			metrics.FramesDropped.WithLabelValues("decode").Inc()
			continue
		}

		c.dispatch(ctx, msg)
	}
}

// writePump pumps queued messages and keepalive probes to the transport.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.transport.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the queue
				c.transport.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.transport.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("conn.write_error", "err", err)
				return
			}

			// Drain what queued up meanwhile, one frame per message so every
			// frame stays a single JSON document.
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					c.transport.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				c.transport.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
				if err := c.transport.WriteMessage(websocket.TextMessage, queued); err != nil {
					c.log.Debug("conn.write_error", "err", err)
					return
				}
			}
		case <-ticker.C:
			c.transport.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one decoded inbound message.
func (c *Connection) dispatch(ctx context.Context, msg *Message) {
	if !msg.Type.IsInbound() {
		c.log.Debug("conn.unexpected_type", "type", msg.Type)
		metrics.FramesDropped.WithLabelValues("unknown_type").Inc()
		return
	}

	switch {
	case msg.Type == MessageTypeJoinRoom:
		c.handleJoinRoom(ctx, msg)
	case msg.Type == MessageTypeLeaveRoom:
		c.hub.LeaveRoom(c, msg.RoomID)
	case msg.Type.IsRelayed():
		if !c.allow() {
			c.log.Debug("conn.rate_limited", "type", msg.Type)
			metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			return
		}
		c.handleRelay(ctx, msg)
	case msg.Type == MessageTypePing:
		c.hub.SendToConnection(c, &Message{Type: MessageTypePong})
	}
}

func (c *Connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// documentState is the data payload of a document_state message.
type documentState struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int64  `json:"version"`
}

func (c *Connection) handleJoinRoom(ctx context.Context, msg *Message) {
	if msg.RoomID == "" {
		return
	}

	if !c.state.CompareAndSwap(int32(StateRegistered), int32(StateJoiningRoom)) {
		c.state.CompareAndSwap(int32(StateInRoom), int32(StateJoiningRoom))
	}

	if err := c.hub.JoinRoom(c, msg.RoomID); err != nil {
		c.hub.SendToConnection(c, &Message{
			Type:   MessageTypeError,
			RoomID: msg.RoomID,
			Error:  err.Error(),
		})
		return
	}

	collab := c.hub.Collaborator()
	if collab == nil || c.State() != StateInRoom {
		return
	}

	doc, err := collab.Snapshot(ctx, msg.RoomID)
	if err != nil {
		if !errors.Is(err, model.ErrDocumentNotFound) {
			c.log.Warn("conn.snapshot_failed", "room_id", msg.RoomID, "err", err)
		}
		return
	}

	data, err := json.Marshal(documentState{Title: doc.Title, Content: doc.Content, Version: doc.Version})
	if err != nil {
		return
	}
	c.hub.SendToConnection(c, &Message{
		Type:   MessageTypeDocumentState,
		RoomID: msg.RoomID,
		Data:   data,
	})
}

func (c *Connection) handleRelay(ctx context.Context, msg *Message) {
	out := &Message{Type: msg.Type}
	if msg.Type == MessageTypeChatMessage {
		out.Content = msg.Content
	} else {
		out.Data = msg.Data
	}

	roomID, ok := c.hub.Relay(c, out)
	if !ok {
		return
	}

	if msg.Type == MessageTypeContentChange {
		if collab := c.hub.Collaborator(); collab != nil {
			collab.ContentChanged(ctx, roomID, c.UserID(), msg.Data)
		}
	}
}
