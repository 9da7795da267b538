package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"chatsync/internal/database"
	"chatsync/internal/stats"
	"chatsync/internal/types"
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
}

type deleteRoomReq struct {
	externalId  string
	requesterId string
	reply       chan error
}

// deleteDone reports a finished deletion sweep back to the run loop.
// reinstate is set when the sweep failed and the room survives.
type deleteDone struct {
	roomId    string
	reinstate bool
}

type clearRoomReq struct {
	externalId  string
	requesterId string
	reply       chan clearResult
}

// ChatServer owns the directory: the set of loaded rooms, the connected
// clients, and the directory subscriptions. Every directory mutation
// goes through its run loop; rooms themselves run on their own
// goroutines and proceed in parallel.
type ChatServer struct {
	log        *log.Logger
	db         database.Repository
	stats      stats.StatsProvider
	dispatcher Dispatcher
	deletion   *DeletionCoordinator

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	rooms       map[string]*Room

	// rooms with a deletion sweep in flight; owned by the run loop
	deletingRooms map[string]struct{}

	joinChan       chan *ClientMessage
	directoryChan  chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	deleteRoomChan chan *deleteRoomReq
	deleteDoneChan chan deleteDone
	clearRoomChan  chan *clearRoomReq
	dirEventChan   chan *ServerMessage

	stop chan struct{}
	done chan struct{}
}

func NewChatServer(logger *log.Logger, db database.Repository, su stats.StatsProvider, dispatcher Dispatcher) (*ChatServer, error) {
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(logger)
	}

	cs := &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		dispatcher:     dispatcher,
		deletion:       NewDeletionCoordinator(db, logger),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		deletingRooms:  make(map[string]struct{}),
		joinChan:       make(chan *ClientMessage, 64),
		directoryChan:  make(chan *ClientMessage, 64),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadRoomRequest, 16),
		deleteRoomChan: make(chan *deleteRoomReq),
		deleteDoneChan: make(chan deleteDone, 16),
		clearRoomChan:  make(chan *clearRoomReq),
		dirEventChan:   make(chan *ServerMessage, 64),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, metric := range []string{
		"ActiveClients",
		"ActiveRooms",
		"TotalRoomsCreated",
		"TotalRoomsDeleted",
		"TotalMessages",
		"TotalReceipts",
	} {
		su.RegisterMetric(metric)
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case msg := <-cs.directoryChan:
			cs.handleDirectory(msg)
		case client := <-cs.RegisterChan:
			cs.addClient(client)
			cs.stats.Incr("ActiveClients")
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
			cs.stats.Decr("ActiveClients")
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req)
		case req := <-cs.deleteRoomChan:
			cs.handleDeleteRoom(req)
		case done := <-cs.deleteDoneChan:
			cs.handleDeleteDone(done)
		case req := <-cs.clearRoomChan:
			cs.handleClearRoom(req)
		case msg := <-cs.dirEventChan:
			cs.broadcastDirectory(msg)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	// an unloaded room must not be relaunched while its deletion sweep
	// runs; a fresh actor would accept appends with the flag unset
	if _, ok := cs.deletingRooms[joinMsg.Join.RoomId]; ok {
		joinMsg.client.queueMessage(ErrConflictResp(joinMsg.Id))
		return
	}

	if room, ok := cs.rooms[joinMsg.Join.RoomId]; ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.externalId)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	room, err := cs.loadRoom(joinMsg.Join.RoomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			joinMsg.client.queueMessage(ErrRoomNotFoundResp(joinMsg.Id))
		} else {
			cs.log.Println("loadRoom:", err)
			joinMsg.client.queueMessage(ErrInternalError(joinMsg.Id))
		}
		return
	}

	cs.rooms[room.externalId] = room
	cs.stats.Incr("ActiveRooms")
	room.joinChan <- joinMsg

	go room.start()
}

// loadRoom builds the actor for a room that has no goroutine yet,
// rehydrating the seq counter and last-append timestamp so ordering
// survives unload/reload cycles.
func (cs *ChatServer) loadRoom(externalId string) (*Room, error) {
	dbRoom, err := cs.db.GetRoomByExternalId(externalId)
	if err != nil {
		return nil, err
	}

	lastTs, ok, err := cs.db.LastMessageTime(dbRoom.Id)
	if err != nil {
		return nil, fmt.Errorf("last message time: %w", err)
	}

	subscribers, err := cs.db.ListSubscribersByRoomId(dbRoom.Id)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	room := &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		name:          dbRoom.Name,
		passwordHash:  dbRoom.PasswordHash,
		createdBy:     dbRoom.CreatedBy,
		seqId:         dbRoom.SeqId,
		subscribers:   subscribers,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clearChan:     make(chan *clearReq, 16),
		deletingChan:  make(chan deletingCtl),
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[string]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
	}
	if ok {
		room.lastTs = time.UnixMilli(lastTs).UTC()
	}

	return room, nil
}

// handleDirectory serves directory subscriptions: the subscriber gets
// the full current room list immediately, then an event for every
// future create and delete.
func (cs *ChatServer) handleDirectory(msg *ClientMessage) {
	c := msg.client
	if !msg.Directory.Subscribe {
		c.dirSub = false
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	rooms, err := cs.db.ListRooms("")
	if err != nil {
		cs.log.Println("ListRooms:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	summaries := make([]types.Room, len(rooms))
	for i, room := range rooms {
		summaries[i] = roomSummary(room)
	}

	c.dirSub = true
	c.queueMessage(NoErrOK(msg.Id, summaries))
}

func roomSummary(room database.Room) types.Room {
	return types.Room{
		ExternalId:  room.ExternalId,
		Name:        room.Name,
		HasPassword: room.PasswordHash != "",
		CreatedBy:   room.CreatedBy,
		SeqId:       room.SeqId,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	}
}

func (cs *ChatServer) broadcastDirectory(msg *ServerMessage) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		if c.dirSub {
			c.queueMessage(msg)
		}
	}
}

func (cs *ChatServer) unloadRoom(req unloadRoomRequest) {
	if r, ok := cs.rooms[req.roomId]; ok {
		delete(cs.rooms, req.roomId)
		cs.stats.Decr("ActiveRooms")

		done := make(chan string)
		r.exit <- exitReq{deleted: req.deleted, done: done}
		<-done
	}

	// a deleted room may have idle-unloaded before the sweep finished;
	// directory subscribers still get the event
	if req.deleted {
		cs.broadcastDirectory(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			Notification: &Notification{RoomDeleted: &RoomDeleted{RoomId: req.roomId}},
		})
	}
}

// handleDeleteRoom drives the deletion coordinator. The owner check and
// the switch into the appends-rejected state happen on the run loop;
// the batch sweep itself runs on its own goroutine so the directory
// stays responsive during a large delete.
func (cs *ChatServer) handleDeleteRoom(req *deleteRoomReq) {
	if _, ok := cs.deletingRooms[req.externalId]; ok {
		req.reply <- ErrRoomDeleting
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(req.externalId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			req.reply <- ErrNotFound
		} else {
			req.reply <- fmt.Errorf("%w: %v", ErrStorage, err)
		}
		return
	}

	if dbRoom.CreatedBy != req.requesterId {
		req.reply <- ErrForbidden
		return
	}

	cs.deletingRooms[req.externalId] = struct{}{}

	room := cs.rooms[req.externalId]
	if room != nil {
		ack := make(chan struct{})
		room.deletingChan <- deletingCtl{active: true, ack: ack}
		<-ack
	}

	go func() {
		if err := cs.deletion.Run(dbRoom); err != nil {
			// the room record survives a failed sweep; the run loop
			// lifts the append block when it processes the completion.
			// The room actor may have idle-unloaded during the sweep,
			// so its channels are never touched from here.
			cs.deleteDoneChan <- deleteDone{roomId: req.externalId, reinstate: true}
			req.reply <- err
			return
		}

		cs.stats.Incr("TotalRoomsDeleted")

		cs.unloadRoomChan <- unloadRoomRequest{roomId: req.externalId, deleted: true}
		cs.deleteDoneChan <- deleteDone{roomId: req.externalId}
		req.reply <- nil
	}()
}

// handleDeleteDone releases the in-flight marker and, after a failed
// sweep, clears the deletion flag on the room actor if it is still
// loaded. An unloaded room needs nothing: the join path only sets the
// flag while the marker is present.
func (cs *ChatServer) handleDeleteDone(done deleteDone) {
	delete(cs.deletingRooms, done.roomId)

	if !done.reinstate {
		return
	}

	if room, ok := cs.rooms[done.roomId]; ok {
		ack := make(chan struct{})
		room.deletingChan <- deletingCtl{active: false, ack: ack}
		<-ack
	}
}

func (cs *ChatServer) handleClearRoom(req *clearRoomReq) {
	if _, ok := cs.deletingRooms[req.externalId]; ok {
		req.reply <- clearResult{err: ErrRoomDeleting}
		return
	}

	dbRoom, err := cs.db.GetRoomByExternalId(req.externalId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			req.reply <- clearResult{err: ErrNotFound}
		} else {
			req.reply <- clearResult{err: fmt.Errorf("%w: %v", ErrStorage, err)}
		}
		return
	}

	if dbRoom.CreatedBy != req.requesterId && !cs.db.SubscriptionExists(req.requesterId, dbRoom.Id) {
		req.reply <- clearResult{err: ErrForbidden}
		return
	}

	if room, ok := cs.rooms[req.externalId]; ok {
		select {
		case room.clearChan <- &clearReq{requesterId: req.requesterId, reply: req.reply}:
		default:
			req.reply <- clearResult{err: fmt.Errorf("%w: room busy", ErrStorage)}
		}
		return
	}

	// no live actor, nobody observing: clear directly
	go func() {
		var count int
		err := retryStorage(func() error {
			var err error
			count, err = cs.db.DeleteAllMessages(dbRoom.Id)
			return err
		})
		req.reply <- clearResult{count: count, err: err}
	}()
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// NotifyRoomCreated publishes a directory event for a room the API
// layer just created.
func (cs *ChatServer) NotifyRoomCreated(room types.Room) {
	cs.stats.Incr("TotalRoomsCreated")
	select {
	case cs.dirEventChan <- &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		Notification: &Notification{RoomCreated: &room},
	}:
	default:
		cs.log.Println("directory event channel full, dropping room-created event")
	}
}

// DeleteRoom runs the full cascading delete: messages first, in
// batches, then the room record. A *PartialFailure return means the
// room still exists and lists exactly the messages that remain.
func (cs *ChatServer) DeleteRoom(ctx context.Context, externalId, requesterId string) error {
	req := &deleteRoomReq{
		externalId:  externalId,
		requesterId: requesterId,
		reply:       make(chan error, 1),
	}

	select {
	case cs.deleteRoomChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearRoom deletes every message in the room but keeps the room.
func (cs *ChatServer) ClearRoom(ctx context.Context, externalId, requesterId string) (int, error) {
	req := &clearRoomReq{
		externalId:  externalId,
		requesterId: requesterId,
		reply:       make(chan clearResult, 1),
	}

	select {
	case cs.clearRoomChan <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.count, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// notifySubscribers delivers an in-band new-message notification to
// every listed user with a live connection and returns the ids that
// have none.
func (cs *ChatServer) notifySubscribers(roomId string, seqId int, userIds []string) []string {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Message: &MessageNotification{RoomId: roomId, SeqId: seqId},
		},
	}

	notified := make(map[string]struct{})
	cs.clientsLock.Lock()
	for c := range cs.clients {
		if slices.Contains(userIds, c.user.Id) {
			c.queueMessage(msg)
			notified[c.user.Id] = struct{}{}
		}
	}
	cs.clientsLock.Unlock()

	var offline []string
	for _, id := range userIds {
		if _, ok := notified[id]; !ok {
			offline = append(offline, id)
		}
	}

	return offline
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.close()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
