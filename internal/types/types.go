package types

import (
	"time"
)

// User is the identity handed to the engine by the external identity
// provider. The engine never authenticates; it only records ids and
// display-name snapshots.
type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
}

const (
	KindText    = "text"
	KindGif     = "gif"
	KindSticker = "sticker"
)

type Room struct {
	ExternalId  string    `json:"id"`
	Name        string    `json:"name"`
	HasPassword bool      `json:"has_password"`
	CreatedBy   string    `json:"created_by"`
	SeqId       int       `json:"seq_id"`
	Subscribers []User    `json:"subscribers,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Message is one entry in a room's append-only log. SeqId is the
// per-room ordering key and cursor; Timestamp is server-assigned and
// strictly increasing within a room.
type Message struct {
	SeqId      int       `json:"seq_id"`
	RoomId     string    `json:"room_id"`
	AuthorId   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	SeenBy     []string  `json:"seen_by,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Subscription struct {
	Id            int       `json:"id"`
	LastReadSeqId int       `json:"last_read_seq_id"`
	Room          Room      `json:"room"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}
