package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// BusScope selects the local recipients of a bus message.
type BusScope string

const (
	ScopeRoom BusScope = "room"
	ScopeUser BusScope = "user"
	ScopeAll  BusScope = "all"
)

// BusMessage is a pre-encoded frame forwarded between hub instances.
type BusMessage struct {
	Origin  string          `json:"origin"`
	Scope   BusScope        `json:"scope"`
	Target  string          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Bus carries broadcasts between hub instances sharing rooms.
type Bus interface {
	Publish(ctx context.Context, m BusMessage) error
	// Subscribe blocks, invoking fn for every message, until ctx is done.
	Subscribe(ctx context.Context, fn func(BusMessage))
}

// publish queues m for the bus without blocking the hub loop.
func (h *Hub) publish(m BusMessage) {
	if h.outbox == nil {
		return
	}
	m.Origin = h.instanceID
	select {
	case h.outbox <- m:
	default:
		h.log.Warn("bus.outbox_full", "scope", m.Scope, "target", m.Target)
	}
}

func (h *Hub) publishLoop(ctx context.Context, bus Bus, outbox <-chan BusMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-outbox:
			if err := bus.Publish(ctx, m); err != nil {
				h.log.Warn("bus.publish_failed", "scope", m.Scope, "target", m.Target, "err", err)
			}
		}
	}
}

// receiveRemote delivers a message published by another instance to the
// matching local connections.
func (h *Hub) receiveRemote(m BusMessage) {
	if m.Origin == h.instanceID || len(m.Payload) == 0 {
		return
	}
	data := []byte(m.Payload)
	h.do(func() {
		switch m.Scope {
		case ScopeRoom:
			h.deliverRoom(m.Target, data, nil)
		case ScopeUser:
			h.deliverUser(m.Target, data)
		case ScopeAll:
			h.deliverAll(data)
		default:
			h.log.Debug("bus.unknown_scope", "scope", m.Scope)
		}
	})
}

// MemoryBus is an in-process Bus connecting hubs in the same process.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]func(BusMessage)
	next        int
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[int]func(BusMessage))}
}

// Publish delivers m to every subscriber synchronously.
func (b *MemoryBus) Publish(ctx context.Context, m BusMessage) error {
	b.mu.RLock()
	subs := make([]func(BusMessage), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(m)
	}
	return ctx.Err()
}

// Subscribe registers fn until ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subscribers[id] = fn
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}
