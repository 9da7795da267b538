package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatsync/internal/database"
	"chatsync/internal/stats"
	"chatsync/internal/testutil"
	"chatsync/internal/types"
)

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, db database.Repository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Times(6)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, nil)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Times(6)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, nil)
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, cs.directoryChan, "expected directoryChan to be initialized")
	assert.NotNil(t, cs.unloadRoomChan, "expected unloadRoomChan to be initialized")
	assert.NotNil(t, cs.deleteRoomChan, "expected deleteRoomChan to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, cs.dispatcher, "expected dispatcher to default to log dispatcher")
	assert.NotNil(t, cs.deletion, "expected deletion coordinator to be initialized")
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown with no rooms", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		go cs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("successful shutdown with active rooms", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, &database.MockRepository{}, su)
		go cs.Run()

		room := &Room{
			externalId: "testroom",
			exit:       make(chan exitReq),
			log:        cs.log,
		}
		cs.rooms[room.externalId] = room
		go room.start()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown with active rooms")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		// Run is never started, so done is never closed

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServer_addClient_removeClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	client := &Client{user: types.User{Id: "u1"}}
	cs.addClient(client)
	assert.Len(t, cs.clients, 1, "expected 1 client after adding")
	assert.Contains(t, cs.clients, client, "expected client to be added to clients map")

	cs.removeClient(client)
	assert.Len(t, cs.clients, 0, "expected 0 clients after removing")
}

func TestChatServer_handleJoin(t *testing.T) {
	t.Run("join loaded room forwards to room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		room := &Room{
			externalId: "testroom",
			joinChan:   make(chan *ClientMessage, 1),
		}
		cs.rooms[room.externalId] = room

		cs.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "testroom"},
		})

		select {
		case <-room.joinChan:
			// ok, join message sent to room
		default:
			t.Error("expected join message to be sent to room")
		}
	})

	t.Run("join loaded room fails when joinChan full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		room := &Room{
			externalId: "fullroom",
			joinChan:   make(chan *ClientMessage, 1),
		}
		cs.rooms[room.externalId] = room
		room.joinChan <- &ClientMessage{}

		client := &Client{send: make(chan *ServerMessage, 1)}
		joinMsg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "fullroom"},
			client:      client,
		}

		cs.handleJoin(joinMsg)

		select {
		case msg := <-client.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, joinMsg.Id, msg.Id, "expected response ID to match join message ID")
			assert.Equal(t, 503, msg.Response.ResponseCode, "expected response code to be 503")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})

	t.Run("rejected while deletion is in flight", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		cs.deletingRooms["doomed"] = struct{}{}

		client := &Client{send: make(chan *ServerMessage, 1)}
		cs.handleJoin(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2, Timestamp: Now()},
			Join:        &Join{RoomId: "doomed"},
			client:      client,
		})

		assert.NotContains(t, cs.rooms, "doomed", "expected room to stay unloaded while the sweep runs")
		db.AssertNotCalled(t, "GetRoomByExternalId", "doomed")

		select {
		case msg := <-client.send:
			assert.Equal(t, 409, msg.Response.ResponseCode, "expected conflict while deletion runs")
		default:
			t.Error("expected rejection to be queued to the client")
		}
	})

	t.Run("join unknown room returns 404", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetRoomByExternalId", "notfound").Return(database.Room{}, database.ErrNotFound).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		client := &Client{send: make(chan *ServerMessage, 1)}
		joinMsg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: Now()},
			Join:        &Join{RoomId: "notfound"},
			client:      client,
		}

		cs.handleJoin(joinMsg)

		assert.NotContains(t, cs.rooms, "notfound", "expected room to not be loaded")

		select {
		case msg := <-client.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, 404, msg.Response.ResponseCode, "expected response code to be 404")
		default:
			t.Error("expected error message to be queued")
		}
	})

	t.Run("join with db error returns 500", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetRoomByExternalId", "dberr").Return(database.Room{}, errors.New("db error")).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		client := &Client{send: make(chan *ServerMessage, 1)}
		joinMsg := &ClientMessage{
			BaseMessage: BaseMessage{Id: 4, Timestamp: Now()},
			Join:        &Join{RoomId: "dberr"},
			client:      client,
		}

		cs.handleJoin(joinMsg)

		select {
		case msg := <-client.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, 500, msg.Response.ResponseCode, "expected response code to be 500")
		default:
			t.Error("expected error message to be queued")
		}
	})
}

func TestChatServer_loadRoom(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)

	lastTs := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dbRoom := database.Room{Id: 7, ExternalId: "testroom", Name: "test", SeqId: 42, CreatedBy: "owner"}
	db.On("GetRoomByExternalId", "testroom").Return(dbRoom, nil).Once()
	db.On("LastMessageTime", 7).Return(lastTs.UnixMilli(), true, nil).Once()
	db.On("ListSubscribersByRoomId", 7).Return([]database.Subscription{
		{AccountId: "owner"},
		{AccountId: "reader"},
	}, nil).Once()

	cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
	room, err := cs.loadRoom("testroom")
	assert.NoError(t, err, "expected no error loading room")
	assert.Equal(t, 42, room.seqId, "expected seq counter to be rehydrated")
	assert.Equal(t, lastTs, room.lastTs, "expected last append timestamp to be rehydrated")
	assert.Len(t, room.subscribers, 2, "expected subscribers to be loaded")
}

func TestChatServer_handleDirectory(t *testing.T) {
	t.Run("subscribe returns full room list", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("ListRooms", "").Return([]database.Room{
			{ExternalId: "r1", Name: "one"},
			{ExternalId: "r2", Name: "two", PasswordHash: "x"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		client := &Client{send: make(chan *ServerMessage, 1)}

		cs.handleDirectory(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			Directory:   &DirectorySub{Subscribe: true},
			client:      client,
		})

		assert.True(t, client.dirSub, "expected client to be directory-subscribed")

		select {
		case msg := <-client.send:
			assert.NotNil(t, msg.Response, "expected response message")
			assert.Equal(t, 200, msg.Response.ResponseCode, "expected response code to be 200")
			rooms, ok := msg.Response.Data.([]types.Room)
			assert.True(t, ok, "expected room summaries in response data")
			assert.Len(t, rooms, 2, "expected both rooms in the listing")
			assert.True(t, rooms[1].HasPassword, "expected has_password to be derived from the hash")
		default:
			t.Error("expected room list to be queued to client")
		}
	})

	t.Run("unsubscribe clears the flag", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		client := &Client{send: make(chan *ServerMessage, 1), dirSub: true}

		cs.handleDirectory(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Directory:   &DirectorySub{Subscribe: false},
			client:      client,
		})

		assert.False(t, client.dirSub, "expected directory subscription to be removed")
	})
}

func TestChatServer_broadcastDirectory(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	subscribed := &Client{user: types.User{Id: "u1"}, send: make(chan *ServerMessage, 1), dirSub: true}
	unsubscribed := &Client{user: types.User{Id: "u2"}, send: make(chan *ServerMessage, 1)}
	cs.addClient(subscribed)
	cs.addClient(unsubscribed)

	cs.broadcastDirectory(&ServerMessage{
		Notification: &Notification{RoomDeleted: &RoomDeleted{RoomId: "r1"}},
	})

	assert.Len(t, subscribed.send, 1, "expected directory event for subscribed client")
	assert.Len(t, unsubscribed.send, 0, "expected no directory event for unsubscribed client")
}

func TestChatServer_NotifyRoomCreated(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "TotalRoomsCreated").Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	cs.NotifyRoomCreated(types.Room{ExternalId: "r1", Name: "new room"})

	select {
	case msg := <-cs.dirEventChan:
		assert.NotNil(t, msg.Notification, "expected notification message")
		assert.NotNil(t, msg.Notification.RoomCreated, "expected room-created event")
		assert.Equal(t, "r1", msg.Notification.RoomCreated.ExternalId, "expected event for created room")
	default:
		t.Error("expected directory event to be queued")
	}
}

func TestChatServer_notifySubscribers(t *testing.T) {
	cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})

	connected := &Client{user: types.User{Id: "online"}, send: make(chan *ServerMessage, 1)}
	cs.addClient(connected)

	offline := cs.notifySubscribers("r1", 9, []string{"online", "gone"})
	assert.Equal(t, []string{"gone"}, offline, "expected only the disconnected subscriber to be reported offline")

	select {
	case msg := <-connected.send:
		assert.NotNil(t, msg.Notification, "expected notification message")
		assert.NotNil(t, msg.Notification.Message, "expected new-message notification")
		assert.Equal(t, "r1", msg.Notification.Message.RoomId, "expected room id to match")
		assert.Equal(t, 9, msg.Notification.Message.SeqId, "expected seq id to match")
	default:
		t.Error("expected in-band notification for connected subscriber")
	}
}

func TestChatServer_handleDeleteRoom(t *testing.T) {
	t.Run("room not found", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetRoomByExternalId", "missing").Return(database.Room{}, database.ErrNotFound).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		req := &deleteRoomReq{externalId: "missing", requesterId: "u1", reply: make(chan error, 1)}
		cs.handleDeleteRoom(req)

		err := <-req.reply
		assert.ErrorIs(t, err, ErrNotFound, "expected not found error")
	})

	t.Run("only the creator may delete", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetRoomByExternalId", "r1").Return(database.Room{Id: 1, ExternalId: "r1", CreatedBy: "owner"}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		req := &deleteRoomReq{externalId: "r1", requesterId: "intruder", reply: make(chan error, 1)}
		cs.handleDeleteRoom(req)

		err := <-req.reply
		assert.ErrorIs(t, err, ErrForbidden, "expected forbidden error for non-creator")
	})

	t.Run("concurrent delete of the same room is rejected", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.deletingRooms["r1"] = struct{}{}

		req := &deleteRoomReq{externalId: "r1", requesterId: "owner", reply: make(chan error, 1)}
		cs.handleDeleteRoom(req)

		err := <-req.reply
		assert.ErrorIs(t, err, ErrRoomDeleting, "expected second delete to be rejected while the first runs")
	})

	t.Run("successful delete of unloaded room", func(t *testing.T) {
		db := &database.MockRepository{}
		dbRoom := database.Room{Id: 1, ExternalId: "r1", CreatedBy: "owner"}
		db.On("GetRoomByExternalId", "r1").Return(dbRoom, nil).Once()
		db.On("DeleteMessagesBatch", 1, 200).Return(0, nil).Once()
		db.On("CountMessages", 1).Return(0, nil).Once()
		db.On("DeleteRoom", 1).Return(nil).Once()
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("Incr", "TotalRoomsDeleted").Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		req := &deleteRoomReq{externalId: "r1", requesterId: "owner", reply: make(chan error, 1)}
		cs.handleDeleteRoom(req)

		select {
		case err := <-req.reply:
			assert.NoError(t, err, "expected deletion to succeed")
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for deletion reply")
		}

		select {
		case unload := <-cs.unloadRoomChan:
			assert.Equal(t, "r1", unload.roomId, "expected unload request for deleted room")
			assert.True(t, unload.deleted, "expected unload to carry the deleted flag")
		case <-time.After(time.Second):
			t.Error("expected unload request after deletion")
		}

		select {
		case done := <-cs.deleteDoneChan:
			assert.Equal(t, "r1", done.roomId, "expected completion for deleted room")
			assert.False(t, done.reinstate, "expected no reinstate after a successful sweep")
		case <-time.After(time.Second):
			t.Error("expected deletion completion on the run loop channel")
		}
	})

	t.Run("failed sweep answers even after the room unloads", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)

		dbRoom := database.Room{Id: 1, ExternalId: "testroom", CreatedBy: "owner"}
		db.On("GetRoomByExternalId", "testroom").Return(dbRoom, nil)

		sweeping := make(chan struct{}, 1)
		release := make(chan struct{})
		db.On("DeleteMessagesBatch", 1, 200).Run(func(mock.Arguments) {
			select {
			case sweeping <- struct{}{}:
			default:
			}
			<-release
		}).Return(0, errors.New("storage offline"))
		db.On("ListMessageSeqIds", 1).Return([]int{4, 5}, nil)

		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		unloaded := make(chan struct{})
		su.On("Decr", "ActiveRooms").Run(func(mock.Arguments) { close(unloaded) }).Once()

		cs := newTestChatServer(t, db, su)
		room := newTestRoom(t, cs)
		cs.rooms[room.externalId] = room
		go room.start()
		go cs.Run()
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			cs.Shutdown(ctx)
		})

		errCh := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errCh <- cs.DeleteRoom(ctx, "testroom", "owner")
		}()

		// let the sweep start, idle-unload the room actor underneath
		// it, then let the sweep run its retries to exhaustion
		<-sweeping
		cs.unloadRoomChan <- unloadRoomRequest{roomId: "testroom"}
		<-unloaded
		close(release)

		select {
		case err := <-errCh:
			var pf *PartialFailure
			assert.ErrorAs(t, err, &pf, "expected partial failure from the exhausted sweep")
		case <-time.After(2 * time.Second):
			t.Fatal("deletion never answered after the room unloaded mid-sweep")
		}

		assert.Eventually(t, func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return !errors.Is(cs.DeleteRoom(ctx, "testroom", "owner"), ErrRoomDeleting)
		}, 5*time.Second, 50*time.Millisecond, "expected the in-flight marker to be released after the failure")
	})
}

func TestChatServer_handleDeleteDone(t *testing.T) {
	t.Run("reinstates a loaded room after a failed sweep", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		room := newTestRoom(t, cs)
		room.deleting = true
		cs.rooms[room.externalId] = room
		cs.deletingRooms[room.externalId] = struct{}{}
		go room.start()

		cs.handleDeleteDone(deleteDone{roomId: room.externalId, reinstate: true})
		assert.NotContains(t, cs.deletingRooms, room.externalId, "expected in-flight marker to be released")

		done := make(chan string)
		room.exit <- exitReq{done: done}
		<-done
		assert.False(t, room.deleting, "expected the append block to be lifted")
	})

	t.Run("releases the marker for an unloaded room", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.deletingRooms["gone"] = struct{}{}

		cs.handleDeleteDone(deleteDone{roomId: "gone", reinstate: true})
		assert.NotContains(t, cs.deletingRooms, "gone", "expected in-flight marker to be released")
	})
}

func TestChatServer_handleClearRoom(t *testing.T) {
	t.Run("requester must be creator or subscriber", func(t *testing.T) {
		db := &database.MockRepository{}
		dbRoom := database.Room{Id: 1, ExternalId: "r1", CreatedBy: "owner"}
		db.On("GetRoomByExternalId", "r1").Return(dbRoom, nil).Once()
		db.On("SubscriptionExists", "outsider", 1).Return(false).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		req := &clearRoomReq{externalId: "r1", requesterId: "outsider", reply: make(chan clearResult, 1)}
		cs.handleClearRoom(req)

		res := <-req.reply
		assert.ErrorIs(t, res.err, ErrForbidden, "expected forbidden error for outsider")
	})

	t.Run("rejected while deletion is in flight", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockRepository{}, &stats.MockStatsUpdater{})
		cs.deletingRooms["r1"] = struct{}{}

		req := &clearRoomReq{externalId: "r1", requesterId: "owner", reply: make(chan clearResult, 1)}
		cs.handleClearRoom(req)

		res := <-req.reply
		assert.ErrorIs(t, res.err, ErrRoomDeleting, "expected clear to be rejected during deletion")
	})

	t.Run("clears unloaded room directly", func(t *testing.T) {
		db := &database.MockRepository{}
		dbRoom := database.Room{Id: 1, ExternalId: "r1", CreatedBy: "owner"}
		db.On("GetRoomByExternalId", "r1").Return(dbRoom, nil).Once()
		db.On("DeleteAllMessages", 1).Return(7, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		req := &clearRoomReq{externalId: "r1", requesterId: "owner", reply: make(chan clearResult, 1)}
		cs.handleClearRoom(req)

		select {
		case res := <-req.reply:
			assert.NoError(t, res.err, "expected clear to succeed")
			assert.Equal(t, 7, res.count, "expected deleted count to be reported")
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for clear reply")
		}
	})

	t.Run("forwards to loaded room", func(t *testing.T) {
		db := &database.MockRepository{}
		dbRoom := database.Room{Id: 1, ExternalId: "r1", CreatedBy: "owner"}
		db.On("GetRoomByExternalId", "r1").Return(dbRoom, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := &Room{externalId: "r1", clearChan: make(chan *clearReq, 1)}
		cs.rooms["r1"] = room

		req := &clearRoomReq{externalId: "r1", requesterId: "owner", reply: make(chan clearResult, 1)}
		cs.handleClearRoom(req)

		select {
		case fwd := <-room.clearChan:
			assert.Equal(t, "owner", fwd.requesterId, "expected clear request forwarded to room actor")
		default:
			t.Error("expected clear request on room channel")
		}
	})
}

func TestChatServer_unloadRoom(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", "ActiveRooms").Once()
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, &database.MockRepository{}, su)
	room := &Room{
		externalId: "testroom",
		exit:       make(chan exitReq, 1),
		log:        cs.log,
	}
	cs.rooms[room.externalId] = room

	go func() {
		req := <-room.exit
		assert.False(t, req.deleted, "expected deleted to be false")
		req.done <- room.externalId
	}()

	cs.unloadRoom(unloadRoomRequest{roomId: "testroom"})
	assert.NotContains(t, cs.rooms, "testroom", "expected room to be unloaded")
}
