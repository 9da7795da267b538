package server

import (
	"net/http"
	"strings"
	"time"

	"chatsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join      *Join         `json:"join,omitempty"`
	Leave     *Leave        `json:"leave,omitempty"`
	Publish   *Publish      `json:"publish,omitempty"`
	Seen      *Seen         `json:"seen,omitempty"`
	Directory *DirectorySub `json:"directory,omitempty"`
	user      types.User
	client    *Client
}

// Join asks for a room subscription. SinceSeqId is the client's cursor:
// every message with a greater seq id is replayed before live delivery
// starts, so reconnects see no gaps and no duplicates.
type Join struct {
	RoomId     string `json:"room_id"`
	Password   string `json:"password,omitempty"`
	SinceSeqId int    `json:"since_seq_id"`
}

type Leave struct {
	RoomId      string `json:"room_id"`
	Unsubscribe bool   `json:"unsubscribe,omitempty"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type Seen struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
}

type DirectorySub struct {
	Subscribe bool `json:"subscribe"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	RoomCreated        *types.Room          `json:"room_created,omitempty"`
	RoomDeleted        *RoomDeleted         `json:"room_deleted,omitempty"`
	RoomCleared        *RoomCleared         `json:"room_cleared,omitempty"`
	Seen               *SeenNotification    `json:"seen,omitempty"`
	Presence           *Presence            `json:"presence,omitempty"`
	SubscriptionChange *SubscriptionChange  `json:"subscription_change,omitempty"`
	Message            *MessageNotification `json:"message,omitempty"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type RoomCleared struct {
	RoomId  string `json:"room_id"`
	Deleted int    `json:"deleted"`
}

type SeenNotification struct {
	RoomId   string `json:"room_id"`
	SeqId    int    `json:"seq_id"`
	ReaderId string `json:"reader_id"`
}

type Presence struct {
	Present bool   `json:"present"`
	UserId  string `json:"user_id,omitempty"`
	RoomId  string `json:"room_id"`
}

type SubscriptionChange struct {
	RoomId     string     `json:"room_id"`
	Subscribed bool       `json:"subscribed"`
	User       types.User `json:"user"`
}

// MessageNotification is the lightweight "new message in room R" event
// sent to subscribers who are not currently in the room.
type MessageNotification struct {
	RoomId string `json:"room_id"`
	SeqId  int    `json:"seq_id"`
}

// validateContent enforces the per-kind payload rules: text must be
// non-empty after trimming, gif and sticker must carry a non-empty
// media reference.
func validateContent(kind, content string) error {
	switch kind {
	case types.KindText:
		if strings.TrimSpace(content) == "" {
			return ErrValidation
		}
	case types.KindGif, types.KindSticker:
		if strings.TrimSpace(content) == "" {
			return ErrValidation
		}
	default:
		return ErrValidation
	}

	return nil
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFoundResp(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrMessageNotFoundResp(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "message not found",
		},
	}
}

func ErrNotAuthorizedResp(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "access denied",
		},
	}
}

func ErrConflictResp(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "room deletion in progress",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
