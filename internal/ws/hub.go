package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-same/collab-hub/internal/model"
	"github.com/open-same/collab-hub/pkg/metrics"
)

// command is one unit of work executed on the hub loop.
type command struct {
	fn   func()
	done chan struct{}
}

// Hub owns the connection registry and room membership. All state is
// mutated on the goroutine running Run; callers submit closures and wait
// for them to finish, so every broadcast observes a consistent room.
type Hub struct {
	cfg        Config
	log        *slog.Logger
	instanceID string

	commands chan command
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine.
	connections map[*Connection]string // connection -> current room, "" when none
	rooms       map[string]map[*Connection]struct{}
	users       map[string]map[*Connection]struct{}

	mu           sync.RWMutex
	bus          Bus
	collaborator Collaborator
	outbox       chan BusMessage
}

// NewHub creates a hub. Nothing is processed until Run is called.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Hub{
		cfg:         cfg,
		log:         logger.With("component", "hub", "instance_id", id),
		instanceID:  id,
		commands:    make(chan command, cfg.CommandQueueSize),
		stopped:     make(chan struct{}),
		connections: make(map[*Connection]string),
		rooms:       make(map[string]map[*Connection]struct{}),
		users:       make(map[string]map[*Connection]struct{}),
	}
}

// InstanceID identifies this hub on a shared bus.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// SetBus attaches a cross-instance bus. Must be called before Run.
func (h *Hub) SetBus(bus Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bus = bus
	if bus != nil {
		h.outbox = make(chan BusMessage, h.cfg.CommandQueueSize)
	} else {
		h.outbox = nil
	}
}

// SetCollaborator attaches the document collaborator.
func (h *Hub) SetCollaborator(c Collaborator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collaborator = c
}

// Collaborator returns the attached collaborator, or nil.
func (h *Hub) Collaborator() Collaborator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.collaborator
}

// Run processes hub commands until ctx is cancelled, then closes every
// registered connection.
func (h *Hub) Run(ctx context.Context) {
	h.mu.RLock()
	bus, outbox := h.bus, h.outbox
	h.mu.RUnlock()

	if bus != nil {
		go h.publishLoop(ctx, bus, outbox)
		go bus.Subscribe(ctx, h.receiveRemote)
	}

	h.log.Info("hub.started")
	for {
		select {
		case cmd := <-h.commands:
			h.execute(cmd)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

func (h *Hub) execute(cmd command) {
	defer close(cmd.done)
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hub.command_panic", "panic", r)
		}
	}()
	cmd.fn()
}

func (h *Hub) shutdown() {
	for c := range h.connections {
		c.setState(StateClosed)
		c.close()
	}
	h.connections = make(map[*Connection]string)
	h.rooms = make(map[string]map[*Connection]struct{})
	h.users = make(map[string]map[*Connection]struct{})
	h.stopOnce.Do(func() { close(h.stopped) })
	h.log.Info("hub.stopped")
}

// do runs fn on the hub loop and waits for it. It reports false without
// running fn once the hub has stopped.
func (h *Hub) do(fn func()) bool {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case h.commands <- cmd:
	case <-h.stopped:
		return false
	}
	select {
	case <-cmd.done:
		return true
	case <-h.stopped:
		return false
	}
}

// Register adds c to the registry. It is a no-op once the hub has stopped
// or when c is already registered.
func (h *Hub) Register(c *Connection) {
	h.do(func() {
		if _, ok := h.connections[c]; ok || c.State() == StateClosed {
			return
		}
		h.connections[c] = ""
		users := h.users[c.UserID()]
		if users == nil {
			users = make(map[*Connection]struct{})
			h.users[c.UserID()] = users
		}
		users[c] = struct{}{}
		c.setState(StateRegistered)
		h.log.Info("conn.registered", "conn_id", c.ID(), "user_id", c.UserID())
	})
}

// Unregister removes c from its room and the registry and closes its
// outbound queue. Remaining room members receive user_left exactly once
// however many times Unregister is called.
func (h *Hub) Unregister(c *Connection) {
	h.do(func() {
		h.remove(c)
	})
}

// JoinRoom moves c into roomID, leaving its previous room first. Rooms
// are created on first join. Joining the current room again only repeats
// the room_joined confirmation.
func (h *Hub) JoinRoom(c *Connection, roomID string) error {
	if roomID == "" {
		return nil
	}

	var err error
	h.do(func() {
		current, ok := h.connections[c]
		if !ok {
			return
		}

		if current == roomID {
			c.setState(StateInRoom)
			h.sendTo(c, presenceMessage(MessageTypeRoomJoined, roomID, c))
			return
		}

		if h.cfg.MaxRoomMembers > 0 && len(h.rooms[roomID]) >= h.cfg.MaxRoomMembers {
			err = model.ErrRoomFull
			if current != "" {
				c.setState(StateInRoom)
			} else {
				c.setState(StateRegistered)
			}
			return
		}

		if current != "" {
			h.detach(c, current)
			h.broadcastRoom(current, presenceMessage(MessageTypeUserLeft, current, c), nil)
		}

		members := h.rooms[roomID]
		if members == nil {
			members = make(map[*Connection]struct{})
			h.rooms[roomID] = members
			h.log.Debug("room.created", "room_id", roomID)
		}
		members[c] = struct{}{}
		h.connections[c] = roomID
		c.setState(StateInRoom)

		h.broadcastRoom(roomID, presenceMessage(MessageTypeUserJoined, roomID, c), nil)
		h.sendTo(c, presenceMessage(MessageTypeRoomJoined, roomID, c))
		h.log.Info("room.joined", "room_id", roomID, "conn_id", c.ID(), "members", len(h.rooms[roomID]))
	})
	return err
}

// LeaveRoom removes c from roomID, or from its current room when roomID
// is empty. A roomID that is not the current room is ignored.
func (h *Hub) LeaveRoom(c *Connection, roomID string) {
	h.do(func() {
		current, ok := h.connections[c]
		if !ok || current == "" {
			return
		}
		if roomID != "" && roomID != current {
			return
		}

		h.detach(c, current)
		c.setState(StateRegistered)
		h.broadcastRoom(current, presenceMessage(MessageTypeUserLeft, current, c), nil)
		h.sendTo(c, &Message{Type: MessageTypeRoomLeft, RoomID: current})
		h.log.Info("room.left", "room_id", current, "conn_id", c.ID())
	})
}

// Relay fills the sender fields of msg and fans it out to every other
// member of the sender's current room. It returns the room and false when
// the sender is not in a room.
func (h *Hub) Relay(sender *Connection, msg *Message) (string, bool) {
	var roomID string
	h.do(func() {
		current, ok := h.connections[sender]
		if !ok || current == "" {
			return
		}
		msg.RoomID = current
		msg.ConnectionID = sender.ID()
		msg.UserID = sender.UserID()
		msg.Username = sender.Username()
		msg.Timestamp = time.Now().UTC()

		h.broadcastRoom(current, msg, sender)
		metrics.MessagesRelayed.WithLabelValues(string(msg.Type)).Inc()
		roomID = current
	})
	return roomID, roomID != ""
}

// BroadcastToRoom delivers msg to every member of roomID.
func (h *Hub) BroadcastToRoom(roomID string, msg *Message) {
	h.do(func() {
		h.broadcastRoom(roomID, msg, nil)
	})
}

// BroadcastToUser delivers msg to every connection owned by userID.
func (h *Hub) BroadcastToUser(userID string, msg *Message) {
	h.do(func() {
		data, ok := h.encode(msg)
		if !ok {
			return
		}
		h.deliverUser(userID, data)
		h.publish(BusMessage{Scope: ScopeUser, Target: userID, Payload: data})
	})
}

// BroadcastToAll delivers msg to every registered connection.
func (h *Hub) BroadcastToAll(msg *Message) {
	h.do(func() {
		data, ok := h.encode(msg)
		if !ok {
			return
		}
		h.deliverAll(data)
		h.publish(BusMessage{Scope: ScopeAll, Payload: data})
	})
}

// SendToConnection delivers msg to c alone.
func (h *Hub) SendToConnection(c *Connection, msg *Message) {
	h.do(func() {
		h.sendTo(c, msg)
	})
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	var n int
	h.do(func() { n = len(h.connections) })
	return n
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	var n int
	h.do(func() { n = len(h.rooms) })
	return n
}

// RoomMemberCount returns the number of members in roomID.
func (h *Hub) RoomMemberCount(roomID string) int {
	var n int
	h.do(func() { n = len(h.rooms[roomID]) })
	return n
}

// Rooms returns a snapshot of member counts keyed by room id.
func (h *Hub) Rooms() map[string]int {
	out := make(map[string]int)
	h.do(func() {
		for id, members := range h.rooms {
			out[id] = len(members)
		}
	})
	return out
}

// RoomOf returns the current room of c, or "".
func (h *Hub) RoomOf(c *Connection) string {
	var room string
	h.do(func() { room = h.connections[c] })
	return room
}

// The helpers below run on the hub loop only.

func (h *Hub) remove(c *Connection) {
	room, ok := h.connections[c]
	if !ok {
		return
	}
	c.setState(StateUnregistering)

	delete(h.connections, c)
	if users := h.users[c.UserID()]; users != nil {
		delete(users, c)
		if len(users) == 0 {
			delete(h.users, c.UserID())
		}
	}

	if room != "" {
		h.detachRoom(c, room)
		h.broadcastRoom(room, presenceMessage(MessageTypeUserLeft, room, c), nil)
	}

	c.setState(StateClosed)
	c.close()
	h.log.Info("conn.unregistered", "conn_id", c.ID(), "user_id", c.UserID())
}

// detach removes c from room and clears its membership record.
func (h *Hub) detach(c *Connection, room string) {
	h.detachRoom(c, room)
	if _, ok := h.connections[c]; ok {
		h.connections[c] = ""
	}
}

func (h *Hub) detachRoom(c *Connection, room string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		h.log.Debug("room.deleted", "room_id", room)
	}
}

func (h *Hub) encode(msg *Message) ([]byte, bool) {
	data, err := encodeMessage(msg)
	if err != nil {
		h.log.Error("hub.encode_failed", "type", msg.Type, "err", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) broadcastRoom(roomID string, msg *Message, exclude *Connection) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.deliverRoom(roomID, data, exclude)
	h.publish(BusMessage{Scope: ScopeRoom, Target: roomID, Payload: data})
}

func (h *Hub) sendTo(c *Connection, msg *Message) {
	if _, ok := h.connections[c]; !ok {
		return
	}
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.deliver(c, data)
}

func (h *Hub) deliverRoom(roomID string, data []byte, exclude *Connection) {
	members := h.rooms[roomID]
	recipients := make([]*Connection, 0, len(members))
	for c := range members {
		if c != exclude {
			recipients = append(recipients, c)
		}
	}
	h.deliverEach(recipients, data)
}

func (h *Hub) deliverUser(userID string, data []byte) {
	conns := h.users[userID]
	recipients := make([]*Connection, 0, len(conns))
	for c := range conns {
		recipients = append(recipients, c)
	}
	h.deliverEach(recipients, data)
}

func (h *Hub) deliverAll(data []byte) {
	recipients := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		recipients = append(recipients, c)
	}
	h.deliverEach(recipients, data)
}

// deliverEach skips recipients evicted while earlier ones were served.
func (h *Hub) deliverEach(recipients []*Connection, data []byte) {
	for _, c := range recipients {
		if _, ok := h.connections[c]; !ok {
			continue
		}
		h.deliver(c, data)
	}
}

// deliver enqueues data on c, evicting c if it cannot accept it.
func (h *Hub) deliver(c *Connection, data []byte) {
	if h.tryEnqueue(c, data) {
		return
	}
	metrics.Evictions.Inc()
	h.log.Warn("conn.evicted", "conn_id", c.ID(), "user_id", c.UserID())
	h.remove(c)
}

// enqueueFrame hands a frame to a recipient's queue. Tests replace it to
// exercise delivery failures.
var enqueueFrame = (*Connection).enqueue

// tryEnqueue contains a panic in one recipient's delivery so the rest of a
// fan-out still runs.
func (h *Hub) tryEnqueue(c *Connection, data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("conn.enqueue_panic", "conn_id", c.ID(), "panic", r)
			ok = false
		}
	}()
	return enqueueFrame(c, data)
}
