package database

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups when no row matches. Both backends
// translate their driver-level "no rows" into this sentinel so callers
// never import database/sql.
var ErrNotFound = errors.New("not found")

type Repository interface {
	Ping() error
	Close() error

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	ListRooms(filter string) ([]Room, error)
	// DeleteRoom removes the room record and its subscriptions. Messages
	// must already be gone; the deletion coordinator guarantees that.
	DeleteRoom(id int) error

	CreateSubscription(accountId string, roomId int) (Subscription, error)
	SubscriptionExists(accountId string, roomId int) bool
	ListSubscriptions(accountId string) ([]Subscription, error)
	ListSubscribersByRoomId(roomId int) ([]Subscription, error)
	DeleteSubscription(accountId string, roomId int) error
	UpdateLastReadSeqId(accountId string, roomId, seqId int) error

	CreateMessage(params CreateMessageParams) (Message, error)
	// GetMessages returns messages with SeqId > sinceSeq in ascending
	// seq order. limit <= 0 means no limit.
	GetMessages(roomId, sinceSeq, limit int) ([]Message, error)
	LastMessageTime(roomId int) (t int64, ok bool, err error)
	CountMessages(roomId int) (int, error)
	// DeleteAllMessages removes every message (and receipt) in the room
	// in a single transaction and returns the number of messages deleted.
	DeleteAllMessages(roomId int) (int, error)
	// DeleteMessagesBatch removes up to limit of the oldest messages in
	// the room, together with their receipts, and returns how many went.
	DeleteMessagesBatch(roomId, limit int) (int, error)
	ListMessageSeqIds(roomId int) ([]int, error)

	CreateReceipt(roomId, seqId int, readerId string) error
	GetReceipts(roomId, sinceSeq int) ([]Receipt, error)
}

// NewRepository picks a backend from the DSN. "sqlite:" and "file:"
// DSNs get the embedded store; everything else is treated as postgres,
// including keyword DSNs like "host=... user=...".
func NewRepository(dsn string) (Repository, error) {
	if strings.HasPrefix(dsn, "sqlite:") || strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return NewSqliteRepository(dsn)
	}
	return NewPgRepository(dsn)
}
