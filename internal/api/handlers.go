package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"chatsync/internal/database"
	"chatsync/internal/server"
	"chatsync/internal/types"
)

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type JoinRoomRequest struct {
	RoomId   string `json:"room_id"`
	Password string `json:"password,omitempty"`
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

// apiError maps engine errors onto HTTP error bodies. A partial
// deletion failure is surfaced with the seq ids that remain, never
// swallowed.
func (s *ChatSyncApp) apiError(err error) *ApiError {
	var pf *server.PartialFailure
	switch {
	case errors.As(err, &pf):
		e := NewInternalServerError(err)
		e.Message = "room deletion incomplete"
		e.Details = map[string]any{"remaining_seq_ids": pf.Remaining}
		return e
	case errors.Is(err, server.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, server.ErrForbidden), errors.Is(err, server.ErrAccessDenied):
		return NewForbiddenError()
	case errors.Is(err, server.ErrValidation):
		return NewBadRequestError()
	case errors.Is(err, server.ErrRoomDeleting):
		return NewConflictError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatSyncApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatSyncApp) createRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	name := strings.TrimSpace(createRoomReq.Name)
	if name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var pwdHash string
	if createRoomReq.Password != "" {
		var err error
		pwdHash, err = hashPassword(createRoomReq.Password)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Println("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:         name,
		ExternalId:   sid,
		PasswordHash: pwdHash,
		CreatedBy:    user.Id,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the creator is implicitly subscribed to their own room
	if _, err := s.db.CreateSubscription(user.Id, newRoom.Id); err != nil {
		s.log.Println("CreateSubscription:", err)
	}

	room := roomSummary(newRoom)
	s.cs.NotifyRoomCreated(room)

	s.writeJson(w, http.StatusCreated, room)
}

// listRooms serves the directory: case-insensitive substring filter,
// newest room first. Password values never leave the store; only
// has_password does.
func (s *ChatSyncApp) listRooms(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")

	dbRooms, err := s.db.ListRooms(filter)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, len(dbRooms))
	for i, dbRoom := range dbRooms {
		rooms[i] = roomSummary(dbRoom)
	}

	s.writeJson(w, http.StatusOK, rooms)
}

// joinRoom is the server-side authorization gate for password-gated
// rooms. On success it records a subscription, which later message
// reads and websocket joins treat as the proof of authorization.
func (s *ChatSyncApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var joinReq JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&joinReq); err != nil || joinReq.RoomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(joinReq.RoomId)
	if err != nil {
		errResp := s.apiError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.PasswordHash != "" && !s.db.SubscriptionExists(user.Id, room.Id) {
		if !verifyPassword(room.PasswordHash, joinReq.Password) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if _, err := s.db.CreateSubscription(user.Id, room.Id); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, roomSummary(room))
}

func (s *ChatSyncApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.DeleteRoom(r.Context(), externalId, user.Id); err != nil {
		s.log.Println("delete room:", err)
		errResp := s.apiError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ChatSyncApp) clearRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	count, err := s.cs.ClearRoom(r.Context(), externalId, user.Id)
	if err != nil {
		s.log.Println("clear room:", err)
		errResp := s.apiError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]int{"deleted": count})
}

func (s *ChatSyncApp) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbSubs, err := s.db.ListSubscriptions(user.Id)
	if err != nil {
		s.log.Println("list subscriptions:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var subs []types.Subscription
	for _, dbSub := range dbSubs {
		subs = append(subs, types.Subscription{
			Id:            dbSub.Id,
			LastReadSeqId: dbSub.LastReadSeqId,
			Room:          roomSummary(dbSub.Room),
			CreatedAt:     dbSub.CreatedAt,
			UpdatedAt:     dbSub.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, subs)
}

// getMessages is the catch-up read: everything after the caller's
// cursor, oldest first. For password-gated rooms the caller must hold
// a join grant; the client-side prompt is never the gate.
func (s *ChatSyncApp) getMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		errResp := s.apiError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.PasswordHash != "" && !s.db.SubscriptionExists(user.Id, room.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var since, limit int
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err = strconv.Atoi(sinceStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.GetMessages(room.Id, since, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	receipts, err := s.db.GetReceipts(room.Id, since)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, server.MessagesWithReceipts(room.ExternalId, messages, receipts))
}

func (s *ChatSyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
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
