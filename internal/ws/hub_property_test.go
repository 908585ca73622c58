package ws

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/open-same/collab-hub/internal/logger"
)

const (
	propConns = 5
	propRooms = 3
)

// hubOp decodes an int into (operation, connection, room).
type hubOp struct {
	kind int
	conn int
	room string
}

func decodeOp(v int) hubOp {
	return hubOp{
		kind: v % 4,
		conn: (v / 4) % propConns,
		room: fmt.Sprintf("room-%d", (v/(4*propConns))%propRooms),
	}
}

// checkRegistry verifies that the registry and room membership agree.
func checkRegistry(h *Hub) error {
	var err error
	h.do(func() {
		for room, members := range h.rooms {
			if len(members) == 0 {
				err = fmt.Errorf("room %s is empty but still present", room)
				return
			}
			for c := range members {
				current, ok := h.connections[c]
				if !ok {
					err = fmt.Errorf("member %s of %s is not registered", c.ID(), room)
					return
				}
				if current != room {
					err = fmt.Errorf("member %s of %s records room %q", c.ID(), room, current)
					return
				}
			}
		}
		for c, room := range h.connections {
			if c.State() == StateClosed {
				err = fmt.Errorf("closed connection %s is registered", c.ID())
				return
			}
			if room == "" {
				continue
			}
			if _, ok := h.rooms[room][c]; !ok {
				err = fmt.Errorf("connection %s records room %s but is not a member", c.ID(), room)
				return
			}
		}
	})
	return err
}

// runOps applies ops to a fresh hub while tracking an independent model of
// membership, and checks delivery against the model after every step.
func runOps(t *testing.T, ops []int) bool {
	hub := NewHub(testConfig(), logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-hub.Done()
	}()
	go hub.Run(ctx)

	conns := make([]*Connection, propConns)
	for i := range conns {
		conns[i] = newMockConn(t, hub, fmt.Sprintf("user-%d", i))
	}

	// model: index -> room, "" when in no room; absent when unregistered
	model := make(map[int]string, propConns)
	for i := range conns {
		model[i] = ""
	}

	membersOf := func(room string, except int) map[int]bool {
		out := map[int]bool{}
		for i, r := range model {
			if r == room && i != except {
				out[i] = true
			}
		}
		return out
	}

	for step, v := range ops {
		op := decodeOp(v)
		c := conns[op.conn]
		_, registered := model[op.conn]
		prevRoom := model[op.conn]

		// expected[i] counts the frames each connection should receive
		expected := map[int]map[MessageType]int{}
		expect := func(i int, mt MessageType) {
			if expected[i] == nil {
				expected[i] = map[MessageType]int{}
			}
			expected[i][mt]++
		}

		switch op.kind {
		case 0:
			if err := hub.JoinRoom(c, op.room); err != nil {
				t.Logf("step %d: unexpected join error %v", step, err)
				return false
			}
			if !registered {
				break
			}
			if prevRoom == op.room {
				expect(op.conn, MessageTypeRoomJoined)
				break
			}
			if prevRoom != "" {
				for i := range membersOf(prevRoom, op.conn) {
					expect(i, MessageTypeUserLeft)
				}
			}
			model[op.conn] = op.room
			for i := range membersOf(op.room, -1) {
				expect(i, MessageTypeUserJoined)
			}
			expect(op.conn, MessageTypeRoomJoined)
		case 1:
			hub.LeaveRoom(c, "")
			if !registered || prevRoom == "" {
				break
			}
			model[op.conn] = ""
			for i := range membersOf(prevRoom, op.conn) {
				expect(i, MessageTypeUserLeft)
			}
			expect(op.conn, MessageTypeRoomLeft)
		case 2:
			_, ok := hub.Relay(c, &Message{Type: MessageTypeChatMessage, Content: "x"})
			wantOK := registered && prevRoom != ""
			if ok != wantOK {
				t.Logf("step %d: relay ok=%v want %v", step, ok, wantOK)
				return false
			}
			if wantOK {
				for i := range membersOf(prevRoom, op.conn) {
					expect(i, MessageTypeChatMessage)
				}
			}
		case 3:
			hub.Unregister(c)
			if !registered {
				break
			}
			delete(model, op.conn)
			if prevRoom != "" {
				for i := range membersOf(prevRoom, op.conn) {
					expect(i, MessageTypeUserLeft)
				}
			}
		}

		if err := checkRegistry(hub); err != nil {
			t.Logf("step %d: %v", step, err)
			return false
		}

		for i, conn := range conns {
			got := map[MessageType]int{}
			for _, m := range drain(t, conn) {
				got[m.Type]++
			}
			want := expected[i]
			if want == nil {
				want = map[MessageType]int{}
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Logf("step %d op %+v: conn %d got %v want %v", step, op, i, got, want)
				return false
			}
		}

		for i, room := range model {
			if hub.RoomOf(conns[i]) != room {
				t.Logf("step %d: conn %d in %q, model says %q", step, i, hub.RoomOf(conns[i]), room)
				return false
			}
		}
		if hub.ConnectionCount() != len(model) {
			t.Logf("step %d: %d connections, model has %d", step, hub.ConnectionCount(), len(model))
			return false
		}
	}
	return true
}

// Membership, presence and relay delivery match a sequential model for any
// sequence of join, leave, relay and unregister operations.
func TestHubOperationSequenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("hub state matches the membership model", prop.ForAll(
		func(ops []int) bool {
			return runOps(t, ops)
		},
		gen.SliceOf(gen.IntRange(0, 4*propConns*propRooms-1)),
	))

	properties.TestingRun(t)
}

// A connection is a member of at most one room after any join sequence.
func TestAtMostOneRoomProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("connection is in at most one room", prop.ForAll(
		func(rooms []int) bool {
			hub := NewHub(testConfig(), logger.Discard())
			ctx, cancel := context.WithCancel(context.Background())
			defer func() {
				cancel()
				<-hub.Done()
			}()
			go hub.Run(ctx)

			c := newMockConn(t, hub, "solo")
			for _, r := range rooms {
				room := fmt.Sprintf("r%d", r)
				if err := hub.JoinRoom(c, room); err != nil {
					return false
				}
				drain(t, c)

				total := 0
				for _, n := range hub.Rooms() {
					total += n
				}
				if total != 1 || hub.RoomMemberCount(room) != 1 {
					return false
				}
			}
			return checkRegistry(hub) == nil
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}

// Tearing a connection down any number of times announces its departure
// to each remaining member exactly once.
func TestIdempotentTeardownProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("user_left is announced once", prop.ForAll(
		func(repeats, members int) bool {
			hub := NewHub(testConfig(), logger.Discard())
			ctx, cancel := context.WithCancel(context.Background())
			defer func() {
				cancel()
				<-hub.Done()
			}()
			go hub.Run(ctx)

			leaver := newMockConn(t, hub, "leaver")
			others := make([]*Connection, members)
			for i := range others {
				others[i] = newMockConn(t, hub, fmt.Sprintf("o%d", i))
				if hub.JoinRoom(others[i], "R") != nil {
					return false
				}
			}
			if hub.JoinRoom(leaver, "R") != nil {
				return false
			}
			for _, o := range others {
				drain(t, o)
			}

			for i := 0; i < repeats; i++ {
				if i%2 == 0 {
					hub.Unregister(leaver)
				} else {
					leaver.teardown()
				}
			}

			for _, o := range others {
				left := 0
				for _, m := range drain(t, o) {
					if m.Type == MessageTypeUserLeft && m.ConnectionID == leaver.ID() {
						left++
					}
				}
				if left != 1 {
					return false
				}
			}
			return hub.RoomMemberCount("R") == members && hub.ConnectionCount() == members
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
