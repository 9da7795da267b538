package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) ListRooms(filter string) ([]Room, error) {
	args := m.Called(filter)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) CreateSubscription(accountId string, roomId int) (Subscription, error) {
	args := m.Called(accountId, roomId)
	return args.Get(0).(Subscription), args.Error(1)
}
func (m *MockRepository) SubscriptionExists(accountId string, roomId int) bool {
	args := m.Called(accountId, roomId)
	return args.Bool(0)
}
func (m *MockRepository) ListSubscriptions(accountId string) ([]Subscription, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Subscription), args.Error(1)
}
func (m *MockRepository) ListSubscribersByRoomId(roomId int) ([]Subscription, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Subscription), args.Error(1)
}
func (m *MockRepository) DeleteSubscription(accountId string, roomId int) error {
	args := m.Called(accountId, roomId)
	return args.Error(0)
}
func (m *MockRepository) UpdateLastReadSeqId(accountId string, roomId, seqId int) error {
	args := m.Called(accountId, roomId, seqId)
	return args.Error(0)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(roomId, sinceSeq, limit int) ([]Message, error) {
	args := m.Called(roomId, sinceSeq, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) LastMessageTime(roomId int) (int64, bool, error) {
	args := m.Called(roomId)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockRepository) CountMessages(roomId int) (int, error) {
	args := m.Called(roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) DeleteAllMessages(roomId int) (int, error) {
	args := m.Called(roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) DeleteMessagesBatch(roomId, limit int) (int, error) {
	args := m.Called(roomId, limit)
	return args.Int(0), args.Error(1)
}
func (m *MockRepository) ListMessageSeqIds(roomId int) ([]int, error) {
	args := m.Called(roomId)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockRepository) CreateReceipt(roomId, seqId int, readerId string) error {
	args := m.Called(roomId, seqId, readerId)
	return args.Error(0)
}
func (m *MockRepository) GetReceipts(roomId, sinceSeq int) ([]Receipt, error) {
	args := m.Called(roomId, sinceSeq)
	return args.Get(0).([]Receipt), args.Error(1)
}
