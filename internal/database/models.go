package database

import "time"

type Room struct {
	Id            int
	ExternalId    string
	Name          string
	PasswordHash  string
	CreatedBy     string
	SeqId         int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Subscriptions []Subscription
}

type Message struct {
	Id         int
	RoomId     int
	SeqId      int
	AuthorId   string
	AuthorName string
	Kind       string
	Content    string
	CreatedAt  time.Time
}

type Subscription struct {
	Id            int
	AccountId     string
	RoomId        int
	LastReadSeqId int
	Room          Room
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Receipt records one reader's acknowledgement of one message.
// The primary key (room_id, seq_id, reader_id) makes MarkSeen a
// natural set-union: inserting twice is a no-op.
type Receipt struct {
	RoomId    int
	SeqId     int
	ReaderId  string
	CreatedAt time.Time
}

type CreateRoomParams struct {
	Name         string
	ExternalId   string
	PasswordHash string
	CreatedBy    string
}

type CreateMessageParams struct {
	RoomId     int
	SeqId      int
	AuthorId   string
	AuthorName string
	Kind       string
	Content    string
	CreatedAt  time.Time
}
