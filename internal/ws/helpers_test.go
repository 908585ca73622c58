package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-same/collab-hub/internal/logger"
	"github.com/open-same/collab-hub/internal/model"
)

var errTransportClosed = errors.New("transport closed")

// fakeTransport is an in-memory Transport. Frames pushed on inbound are
// returned by ReadMessage; text frames written are published on writes.
type fakeTransport struct {
	inbound chan []byte
	writes  chan []byte

	failWrites atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		writes:  make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, frame, nil
	case <-f.closed:
		return 0, nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	if f.failWrites.Load() {
		return errors.New("broken pipe")
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	frame := append([]byte(nil), data...)
	select {
	case f.writes <- frame:
		return nil
	case <-f.closed:
		return errTransportClosed
	}
}

func (f *fakeTransport) SetReadLimit(int64)                 {}
func (f *fakeTransport) SetReadDeadline(time.Time) error    { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error   { return nil }
func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// send pushes a client frame built from msg.
func (f *fakeTransport) send(t *testing.T, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	f.inbound <- raw
}

// next returns the next written message or fails after a timeout.
func (f *fakeTransport) next(t *testing.T) *Message {
	t.Helper()
	select {
	case frame := <-f.writes:
		return mustDecode(t, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written frame")
		return nil
	}
}

// nextOfType skips frames until one of type mt is written.
func (f *fakeTransport) nextOfType(t *testing.T, mt MessageType) *Message {
	t.Helper()
	for {
		msg := f.next(t)
		if msg.Type == mt {
			return msg
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SendBufferSize = 64
	return cfg
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	hub := NewHub(cfg, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

// newMockConn registers a connection without pumps; tests read its queue
// directly.
func newMockConn(t *testing.T, hub *Hub, userID string) *Connection {
	t.Helper()
	c := NewConnection(hub, nil, model.Identity{UserID: userID, Username: "name-" + userID})
	hub.Register(c)
	if c.State() != StateRegistered {
		t.Fatalf("connection %s not registered, state %s", userID, c.State())
	}
	return c
}

// startConn serves a connection over a fake transport until the test ends.
func startConn(t *testing.T, hub *Hub, userID string) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := NewConnection(hub, tr, model.Identity{UserID: userID, Username: "name-" + userID})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background())
	}()
	t.Cleanup(func() {
		tr.Close()
		<-done
	})
	waitFor(t, func() bool { return c.State() != StateConnecting })
	return c, tr
}

func mustDecode(t *testing.T, frame []byte) *Message {
	t.Helper()
	msg, err := decodeMessage(frame)
	if err != nil {
		t.Fatalf("failed to decode frame %q: %v", frame, err)
	}
	return msg
}

// drain returns every message currently queued on c without blocking.
func drain(t *testing.T, c *Connection) []*Message {
	t.Helper()
	var out []*Message
	for {
		select {
		case frame, ok := <-c.SendChan():
			if !ok {
				return out
			}
			out = append(out, mustDecode(t, frame))
		default:
			return out
		}
	}
}

func types(msgs []*Message) []MessageType {
	out := make([]MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
