package server

import (
	"log"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatsync/internal/database"
	"chatsync/internal/types"
)

const idleRoomTimeout = time.Minute * 5

type exitReq struct {
	deleted bool
	done    chan string
}

type clearReq struct {
	requesterId string
	reply       chan clearResult
}

type clearResult struct {
	count int
	err   error
}

// deletingCtl flips the room's deletion flag. While set, every append
// is rejected with a conflict so the deletion coordinator's terminal
// state is deterministic.
type deletingCtl struct {
	active bool
	ack    chan struct{}
}

// Room is the single-writer actor for one chat room. All appends,
// receipts, clears, joins and leaves for the room are handled on its
// goroutine, which is what makes seq ids and timestamps monotonic
// without any cross-room coordination.
type Room struct {
	id           int
	externalId   string
	name         string
	passwordHash string
	createdBy    string
	// seqId is the last assigned sequence number; lastTs the timestamp
	// of the last append. Together they give each message a strictly
	// increasing (timestamp, seq) position in the log.
	seqId  int
	lastTs time.Time

	deleting    bool
	subscribers []database.Subscription

	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clearChan     chan *clearReq
	deletingChan  chan deletingCtl

	clients    map[*Client]struct{}
	userMap    map[string]map[*Client]struct{}
	clientLock sync.RWMutex

	log       *log.Logger
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.saveAndBroadcast(msg)
			} else if msg.Seen != nil {
				r.handleSeen(msg)
			}
		case req := <-r.clearChan:
			r.handleClear(req)
		case ctl := <-r.deletingChan:
			r.deleting = ctl.active
			close(ctl.ack)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

// authorizeJoin is the server-side access gate. Client-side password
// prompts are UX only; a wrong secret here means no subscription and
// no delivery, whatever the client believes it validated.
func (r *Room) authorizeJoin(userId, password string) error {
	if r.passwordHash == "" {
		return nil
	}

	// an existing subscription is an earlier successful authorization
	if r.cs.db.SubscriptionExists(userId, r.id) {
		return nil
	}

	if bcrypt.CompareHashAndPassword([]byte(r.passwordHash), []byte(password)) != nil {
		return ErrAccessDenied
	}

	return nil
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	resetTimer := func() {
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
	}

	if r.deleting {
		resetTimer()
		c.queueMessage(ErrConflictResp(join.Id))
		return
	}

	if err := r.authorizeJoin(c.user.Id, join.Join.Password); err != nil {
		resetTimer()
		r.log.Printf("join denied for %q on room %q", c.user.Id, r.externalId)
		c.queueMessage(ErrNotAuthorizedResp(join.Id))
		return
	}

	if !r.cs.db.SubscriptionExists(c.user.Id, r.id) {
		sub, err := r.cs.db.CreateSubscription(c.user.Id, r.id)
		if err != nil {
			resetTimer()
			r.log.Println("CreateSubscription:", err)
			c.queueMessage(ErrInternalError(join.Id))
			return
		}

		r.subscribers = append(r.subscribers, sub)

		r.broadcast(&ServerMessage{
			Notification: &Notification{
				SubscriptionChange: &SubscriptionChange{
					RoomId:     r.externalId,
					Subscribed: true,
					User:       c.user,
				},
			},
		})
	}

	c.queueMessage(NoErrOK(join.Id, r.roomInfo()))

	// Catch-up runs on the room goroutine, so no append can interleave
	// between the history read and the switch to live delivery: the
	// client sees everything after its cursor exactly once, in order.
	if err := r.sendCatchUp(c, join.Join.SinceSeqId); err != nil {
		r.log.Println("catch-up:", err)
		c.queueMessage(ErrInternalError(join.Id))
		resetTimer()
		return
	}

	r.addClient(c)

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &Presence{
				Present: true,
				RoomId:  r.externalId,
				UserId:  c.user.Id,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) sendCatchUp(c *Client, sinceSeq int) error {
	msgs, err := r.cs.db.GetMessages(r.id, sinceSeq, 0)
	if err != nil {
		return err
	}

	receipts, err := r.cs.db.GetReceipts(r.id, sinceSeq)
	if err != nil {
		return err
	}

	for _, msg := range MessagesWithReceipts(r.externalId, msgs, receipts) {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
			Message:     &msg,
		})
	}

	return nil
}

func (r *Room) roomInfo() types.Room {
	subscribers := make([]types.User, len(r.subscribers))
	for i, sub := range r.subscribers {
		subscribers[i] = types.User{Id: sub.AccountId}
	}

	return types.Room{
		ExternalId:  r.externalId,
		Name:        r.name,
		HasPassword: r.passwordHash != "",
		CreatedBy:   r.createdBy,
		SeqId:       r.seqId,
		Subscribers: subscribers,
	}
}

func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	if r.deleting {
		msg.client.queueMessage(ErrConflictResp(msg.Id))
		return
	}

	if err := validateContent(msg.Publish.Kind, msg.Publish.Content); err != nil {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	seq := r.seqId + 1
	// server clock, bumped forward on ties so timestamps are strictly
	// increasing within the room; client clocks are never consulted
	ts := Now()
	if !ts.After(r.lastTs) {
		ts = r.lastTs.Add(time.Millisecond)
	}

	var saved database.Message
	err := retryStorage(func() error {
		var err error
		saved, err = r.cs.db.CreateMessage(database.CreateMessageParams{
			RoomId:     r.id,
			SeqId:      seq,
			AuthorId:   msg.user.Id,
			AuthorName: msg.user.DisplayName,
			Kind:       msg.Publish.Kind,
			Content:    msg.Publish.Content,
			CreatedAt:  ts,
		})
		return err
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.seqId = seq
	r.lastTs = ts
	msg.client.queueMessage(NoErrAccepted(msg.Id))
	r.cs.stats.Incr("TotalMessages")

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: ts,
		},
		Message: &types.Message{
			SeqId:      saved.SeqId,
			RoomId:     r.externalId,
			AuthorId:   saved.AuthorId,
			AuthorName: saved.AuthorName,
			Kind:       saved.Kind,
			Content:    saved.Content,
			Timestamp:  saved.CreatedAt,
		},
	})

	r.notifyOffline(saved.SeqId)
}

// notifyOffline routes a new-message event to every subscriber without
// a client in this room: connected subscribers get an in-band
// notification, the rest go to the dispatcher. Dispatcher failures
// never fail the append; the message is already durable and broadcast
// by now.
func (r *Room) notifyOffline(seqId int) {
	var absent []string
	for _, sub := range r.subscribers {
		if r.userMap[sub.AccountId] != nil {
			continue
		}
		absent = append(absent, sub.AccountId)
	}

	if len(absent) == 0 {
		return
	}

	offline := r.cs.notifySubscribers(r.externalId, seqId, absent)
	if len(offline) == 0 {
		return
	}

	if err := r.cs.dispatcher.NewMessage(r.externalId, seqId, offline); err != nil {
		r.log.Println("dispatcher:", err)
	}
}

func (r *Room) handleSeen(msg *ClientMessage) {
	seen := msg.Seen
	if seen.SeqId <= 0 || seen.SeqId > r.seqId {
		msg.client.queueMessage(ErrMessageNotFoundResp(msg.Id))
		return
	}

	msgs, err := r.cs.db.GetMessages(r.id, seen.SeqId-1, 1)
	if err != nil {
		r.log.Println("GetMessages:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if len(msgs) == 0 || msgs[0].SeqId != seen.SeqId {
		msg.client.queueMessage(ErrMessageNotFoundResp(msg.Id))
		return
	}

	// a sender does not mark their own message seen
	if msgs[0].AuthorId == msg.user.Id {
		msg.client.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	err = retryStorage(func() error {
		return r.cs.db.CreateReceipt(r.id, seen.SeqId, msg.user.Id)
	})
	if err != nil {
		r.log.Println("CreateReceipt:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	if err := r.cs.db.UpdateLastReadSeqId(msg.user.Id, r.id, seen.SeqId); err != nil {
		r.log.Println("UpdateLastReadSeqId:", err)
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
	r.cs.stats.Incr("TotalReceipts")

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Seen: &SeenNotification{
				RoomId:   r.externalId,
				SeqId:    seen.SeqId,
				ReaderId: msg.user.Id,
			},
		},
	})
}

// handleClear removes every message in the room but keeps the room.
// The delete is a single transaction and runs on the room goroutine,
// so subscribers observe it as one atomic event; seq ids are not
// reset, so cleared ids are never reused.
func (r *Room) handleClear(req *clearReq) {
	var count int
	err := retryStorage(func() error {
		var err error
		count, err = r.cs.db.DeleteAllMessages(r.id)
		return err
	})
	if err != nil {
		req.reply <- clearResult{err: err}
		return
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			RoomCleared: &RoomCleared{
				RoomId:  r.externalId,
				Deleted: count,
			},
		},
	})

	req.reply <- clearResult{count: count}
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	if leaveMsg.Leave.Unsubscribe {
		err := r.cs.db.DeleteSubscription(leaveMsg.user.Id, r.id)
		if err != nil {
			r.log.Println("DeleteSubscription:", err)
			leaveMsg.client.queueMessage(ErrInternalError(leaveMsg.Id))
			return
		}

		r.removeAllClientsForUser(leaveMsg.user.Id)
		r.removeSubscriber(leaveMsg.user.Id)

		leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))

		r.broadcast(&ServerMessage{
			Notification: &Notification{
				SubscriptionChange: &SubscriptionChange{
					RoomId:     r.externalId,
					Subscribed: false,
					User:       leaveMsg.user,
				},
			},
		})
		return
	}

	client := leaveMsg.client
	r.removeClient(client)

	leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))

	if r.userMap[client.user.Id] == nil {
		r.broadcast(&ServerMessage{
			Notification: &Notification{
				Presence: &Presence{
					Present: false,
					RoomId:  r.externalId,
					UserId:  client.user.Id,
				},
			},
			SkipClient: client,
		})
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q idle, unloading", r.externalId)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}:
	default:
		// server busy; try again next period
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.externalId},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) removeAllClientsForUser(userId string) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if userClients, ok := r.userMap[userId]; ok {
		for client := range userClients {
			delete(r.clients, client)
			client.delRoom(r.externalId)
		}
		delete(r.userMap, userId)
	}

	if len(r.clients) == 0 {
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) removeSubscriber(userId string) {
	for i, sub := range r.subscribers {
		if sub.AccountId == userId {
			r.subscribers = slices.Delete(r.subscribers, i, i+1)
			return
		}
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

// MessagesWithReceipts converts stored messages to their wire form,
// folding each message's receipt rows into its seen-by set.
func MessagesWithReceipts(roomExternalId string, msgs []database.Message, receipts []database.Receipt) []types.Message {
	seenBy := make(map[int][]string)
	for _, rc := range receipts {
		seenBy[rc.SeqId] = append(seenBy[rc.SeqId], rc.ReaderId)
	}

	out := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = types.Message{
			SeqId:      msg.SeqId,
			RoomId:     roomExternalId,
			AuthorId:   msg.AuthorId,
			AuthorName: msg.AuthorName,
			Kind:       msg.Kind,
			Content:    msg.Content,
			SeenBy:     seenBy[msg.SeqId],
			Timestamp:  msg.CreatedAt,
		}
	}

	return out
}
