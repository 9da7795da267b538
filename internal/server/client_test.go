package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatsync/internal/database"
	"chatsync/internal/stats"
	"chatsync/internal/types"
)

func TestClient_queueMessage(t *testing.T) {
	t.Run("queues while there is room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

		ok := c.queueMessage(&ServerMessage{})
		assert.True(t, ok, "expected message to be queued")
		assert.Len(t, c.send, 1, "expected one queued message")
	})

	t.Run("full queue disconnects the client", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := &Client{
			user:       types.User{Id: "slow"},
			chatServer: cs,
			log:        cs.log,
			send:       make(chan *ServerMessage, 1),
			rooms:      make(map[string]*Room),
			stop:       make(chan struct{}),
		}

		assert.True(t, c.queueMessage(&ServerMessage{}), "expected first message to be queued")
		assert.False(t, c.queueMessage(&ServerMessage{}), "expected overflow to be rejected")

		select {
		case <-c.stop:
			// disconnected, as intended for a consumer that cannot keep up
		default:
			t.Error("expected stop channel to be closed on overflow")
		}
	})

	t.Run("repeated overflow closes stop only once", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := &Client{
			user:       types.User{Id: "slow"},
			chatServer: cs,
			log:        cs.log,
			send:       make(chan *ServerMessage),
			rooms:      make(map[string]*Room),
			stop:       make(chan struct{}),
		}

		assert.False(t, c.queueMessage(&ServerMessage{}))
		assert.False(t, c.queueMessage(&ServerMessage{}))
	})
}

func TestClient_forwardToRoom(t *testing.T) {
	t.Run("forwards to a joined room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

		room := &Room{externalId: "r1", clientMsgChan: make(chan *ClientMessage, 1)}
		c.addRoom(room)

		msg := &ClientMessage{Publish: &Publish{RoomId: "r1", Kind: types.KindText, Content: "hi"}}
		c.forwardToRoom("r1", msg)

		select {
		case got := <-room.clientMsgChan:
			assert.Equal(t, msg, got, "expected message on room channel")
		default:
			t.Error("expected message to be forwarded to room")
		}
	})

	t.Run("unknown room returns 404", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

		c.forwardToRoom("nowhere", &ClientMessage{BaseMessage: BaseMessage{Id: 3}})

		select {
		case resp := <-c.send:
			assert.NotNil(t, resp.Response, "expected response message")
			assert.Equal(t, 404, resp.Response.ResponseCode, "expected not found for unjoined room")
		default:
			t.Error("expected error response to be queued")
		}
	})

	t.Run("full room channel returns 503", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

		room := &Room{externalId: "r1", clientMsgChan: make(chan *ClientMessage, 1)}
		room.clientMsgChan <- &ClientMessage{}
		c.addRoom(room)

		c.forwardToRoom("r1", &ClientMessage{BaseMessage: BaseMessage{Id: 3}})

		select {
		case resp := <-c.send:
			assert.Equal(t, 503, resp.Response.ResponseCode, "expected service unavailable when room is saturated")
		default:
			t.Error("expected error response to be queued")
		}
	})
}

func TestClient_joinRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

	msg := &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: "r1"}}
	c.joinRoom(msg)

	select {
	case got := <-cs.joinChan:
		assert.Equal(t, msg, got, "expected join to land on the server channel")
	default:
		t.Error("expected join message on server channel")
	}
}

func TestClient_addRoom_delRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
	c := NewClient(types.User{Id: "u1"}, nil, cs, cs.log)

	room := &Room{externalId: "r1"}
	c.addRoom(room)
	assert.Equal(t, room, c.getRoom("r1"), "expected room to be tracked")

	c.delRoom("r1")
	assert.Nil(t, c.getRoom("r1"), "expected room to be forgotten")
}
